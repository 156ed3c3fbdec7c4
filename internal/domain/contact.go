package domain

import "time"

// Contact is one direction of a friendship: Owner lists Friend. The friend's
// name and avatar are a snapshot taken when the edge was written.
type Contact struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	FriendID        string    `json:"friend_id"`
	FriendName      string    `json:"friend_name"`
	FriendAvatarURL *string   `json:"friend_avatar_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
