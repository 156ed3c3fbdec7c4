package domain

import (
	"fmt"
	"strings"

	apperrors "realtime_chat/pkg/errors"
)

// ConversationSeparator joins the two participant ids of a conversation key.
// User ids must never contain it.
const ConversationSeparator = "_"

// DeriveConversationID returns the key of the two-party conversation between
// a and b. Both participants compute the same key without coordination.
//
// The key is not a secret: anyone who knows both user ids can compute it, so
// access must still be checked against the caller's identity.
func DeriveConversationID(a, b string) (string, error) {
	if err := ValidateUserID(a); err != nil {
		return "", err
	}
	if err := ValidateUserID(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: conversation needs two distinct participants", apperrors.ErrValidation)
	}
	if b < a {
		a, b = b, a
	}
	return a + ConversationSeparator + b, nil
}

// ConversationParticipants splits a key produced by DeriveConversationID.
func ConversationParticipants(conversationID string) (string, string, error) {
	parts := strings.Split(conversationID, ConversationSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] >= parts[1] {
		return "", "", fmt.Errorf("%w: malformed conversation id %q", apperrors.ErrValidation, conversationID)
	}
	return parts[0], parts[1], nil
}

// IsParticipant reports whether userID is one of the two sides of conversationID.
func IsParticipant(conversationID, userID string) bool {
	a, b, err := ConversationParticipants(conversationID)
	if err != nil {
		return false
	}
	return userID == a || userID == b
}

func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	if strings.Contains(id, ConversationSeparator) {
		return fmt.Errorf("%w: user id %q contains %q", apperrors.ErrValidation, id, ConversationSeparator)
	}
	return nil
}
