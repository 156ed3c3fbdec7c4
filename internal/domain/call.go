package domain

import (
	"time"

	"github.com/pion/webrtc/v4"
)

type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

// Call is the signaling document of a peer-to-peer call. Media never passes
// through it.
type Call struct {
	ID        string                     `json:"id"`
	CallerID  string                     `json:"caller_id"`
	CalleeID  string                     `json:"callee_id"`
	Status    CallStatus                 `json:"status"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

func (c *Call) IsParticipant(userID string) bool {
	return c.CallerID == userID || c.CalleeID == userID
}

// Peer returns the other side of the call for userID.
func (c *Call) Peer(userID string) string {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}

type CallCandidate struct {
	ID        string                  `json:"id"`
	CallID    string                  `json:"call_id"`
	FromID    string                  `json:"from_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	CreatedAt time.Time               `json:"created_at"`
}

// Signaling message types pushed over the call WebSocket.
const (
	SignalTypeCall       = "call"
	SignalTypeCandidates = "candidates"
	SignalTypeEnded      = "ended"
)
