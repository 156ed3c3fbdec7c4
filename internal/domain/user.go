package domain

import (
	"time"
)

type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

func (p Presence) Valid() bool {
	return p == PresenceOnline || p == PresenceOffline
}

// Profile is the public part of a user, readable by other users.
type Profile struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	Email             string     `json:"email,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	AvatarURL         *string    `json:"avatar_url,omitempty"`
	Presence          Presence   `json:"presence"`
	PresenceChangedAt *time.Time `json:"presence_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Credentials are the private sign-in data of a user. Never sent to clients.
type Credentials struct {
	UserID        string `json:"-"`
	Email         string `json:"-"`
	PasswordHash  string `json:"-"`
	EmailVerified bool   `json:"-"`
	Phone         string `json:"-"`
}

type AuthEvent string

const (
	AuthEventSignedIn  AuthEvent = "signed_in"
	AuthEventSignedOut AuthEvent = "signed_out"
)

// AuthState is delivered to auth state listeners on every sign-in and sign-out.
type AuthState struct {
	UserID string    `json:"user_id"`
	Event  AuthEvent `json:"event"`
	Method string    `json:"method,omitempty"`
	At     time.Time `json:"at"`
}

const (
	AuthMethodEmail = "email"
	AuthMethodPhone = "phone"
)
