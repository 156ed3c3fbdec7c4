package service

import (
	"context"
	"fmt"

	apperrors "realtime_chat/pkg/errors"
)

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// Identity answers who is calling. Services never trust a user id passed in
// a request body without comparing it to this.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}

type contextIdentity struct{}

// ContextIdentity reads the identity the auth middleware put on the context.
func ContextIdentity() Identity {
	return contextIdentity{}
}

func (contextIdentity) CurrentUserID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: not signed in", apperrors.ErrUnauthorized)
	}
	return id, nil
}

// requireSelf fails unless the caller on ctx is userID.
func requireSelf(ctx context.Context, identity Identity, userID string) error {
	caller, err := identity.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	if caller != userID {
		return fmt.Errorf("%w: acting as another user", apperrors.ErrForbidden)
	}
	return nil
}
