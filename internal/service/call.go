package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// CallService exchanges WebRTC signaling documents between two users. Media
// flows peer to peer and never touches the server.
type CallService interface {
	StartCall(ctx context.Context, callerID, calleeID string, offer webrtc.SessionDescription) (*domain.Call, error)
	AnswerCall(ctx context.Context, callID, calleeID string, answer webrtc.SessionDescription) error
	AddCandidate(ctx context.Context, callID, fromID string, candidate webrtc.ICECandidateInit) error
	GetCall(ctx context.Context, callID, userID string) (*domain.Call, error)
	WatchCall(callID string, fn func(*domain.Call), onErr func(error)) (Subscription, error)
	// WatchCandidates delivers the candidates the other participant sent.
	WatchCandidates(ctx context.Context, callID, forUserID string, fn func([]*domain.CallCandidate), onErr func(error)) (Subscription, error)
	WatchIncoming(calleeID string, fn func([]*domain.Call), onErr func(error)) (Subscription, error)
	// HangUp removes the call and its candidates.
	HangUp(ctx context.Context, callID, userID string) error
}

type callService struct {
	callRepo repository.CallRepository
	userRepo repository.UserRepository
	audit    AuditService
	identity Identity
	log      logger.Logger
}

func NewCallService(callRepo repository.CallRepository, userRepo repository.UserRepository, audit AuditService, identity Identity, log logger.Logger) CallService {
	return &callService{
		callRepo: callRepo,
		userRepo: userRepo,
		audit:    audit,
		identity: identity,
		log:      log,
	}
}

func validateDescription(desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", apperrors.ErrValidation, want, desc.Type)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%w: %s sdp is empty", apperrors.ErrValidation, want)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: malformed %s sdp: %v", apperrors.ErrValidation, want, err)
	}
	return nil
}

func (s *callService) StartCall(ctx context.Context, callerID, calleeID string, offer webrtc.SessionDescription) (*domain.Call, error) {
	if err := domain.ValidateUserID(calleeID); err != nil {
		return nil, err
	}
	if callerID == calleeID {
		return nil, fmt.Errorf("%w: cannot call yourself", apperrors.ErrValidation)
	}
	if err := validateDescription(offer, webrtc.SDPTypeOffer); err != nil {
		return nil, err
	}
	if err := requireSelf(ctx, s.identity, callerID); err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, calleeID); err != nil {
		return nil, err
	}

	call := &domain.Call{
		CallerID: callerID,
		CalleeID: calleeID,
		Status:   domain.CallStatusRinging,
		Offer:    &offer,
	}
	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, err
	}

	logAudit(ctx, s.audit, s.log, callerID, domain.EventTypeCallStarted, call.ID, map[string]interface{}{
		"callee_id": calleeID,
	})
	s.log.Info("Call started", "call_id", call.ID, "caller_id", callerID, "callee_id", calleeID)
	return call, nil
}

func (s *callService) AnswerCall(ctx context.Context, callID, calleeID string, answer webrtc.SessionDescription) error {
	if err := validateDescription(answer, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	if err := requireSelf(ctx, s.identity, calleeID); err != nil {
		return err
	}

	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if call.CalleeID != calleeID {
		return fmt.Errorf("%w: only the callee can answer", apperrors.ErrForbidden)
	}
	if call.Status != domain.CallStatusRinging {
		return fmt.Errorf("%w: call is %s", apperrors.ErrConflict, call.Status)
	}

	return s.callRepo.SetAnswer(ctx, callID, answer)
}

func (s *callService) AddCandidate(ctx context.Context, callID, fromID string, candidate webrtc.ICECandidateInit) error {
	if strings.TrimSpace(candidate.Candidate) == "" {
		return fmt.Errorf("%w: candidate is empty", apperrors.ErrValidation)
	}
	if _, err := s.participantCall(ctx, callID, fromID); err != nil {
		return err
	}

	return s.callRepo.AddCandidate(ctx, &domain.CallCandidate{
		CallID:    callID,
		FromID:    fromID,
		Candidate: candidate,
	})
}

func (s *callService) GetCall(ctx context.Context, callID, userID string) (*domain.Call, error) {
	return s.participantCall(ctx, callID, userID)
}

func (s *callService) participantCall(ctx context.Context, callID, userID string) (*domain.Call, error) {
	if err := requireSelf(ctx, s.identity, userID); err != nil {
		return nil, err
	}
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant of call %s", apperrors.ErrForbidden, callID)
	}
	return call, nil
}

func (s *callService) WatchCall(callID string, fn func(*domain.Call), onErr func(error)) (Subscription, error) {
	if callID == "" {
		return nil, fmt.Errorf("%w: call id is required", apperrors.ErrValidation)
	}
	return s.callRepo.WatchCall(callID, fn, onErr)
}

func (s *callService) WatchCandidates(ctx context.Context, callID, forUserID string, fn func([]*domain.CallCandidate), onErr func(error)) (Subscription, error) {
	call, err := s.participantCall(ctx, callID, forUserID)
	if err != nil {
		return nil, err
	}
	return s.callRepo.WatchCandidates(callID, call.Peer(forUserID), fn, onErr)
}

func (s *callService) WatchIncoming(calleeID string, fn func([]*domain.Call), onErr func(error)) (Subscription, error) {
	if err := domain.ValidateUserID(calleeID); err != nil {
		return nil, err
	}
	return s.callRepo.WatchIncoming(calleeID, fn, onErr)
}

func (s *callService) HangUp(ctx context.Context, callID, userID string) error {
	call, err := s.participantCall(ctx, callID, userID)
	if err != nil {
		return err
	}
	if err := s.callRepo.Delete(ctx, callID); err != nil {
		return err
	}

	logAudit(ctx, s.audit, s.log, userID, domain.EventTypeCallEnded, callID, map[string]interface{}{
		"peer_id": call.Peer(userID),
	})
	s.log.Info("Call ended", "call_id", callID, "user_id", userID)
	return nil
}
