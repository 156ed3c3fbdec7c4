package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "realtime_chat/pkg/errors"
)

// Token purposes. A token minted for one purpose is rejected for any other.
const (
	PurposeAccess      = "access"
	PurposeRefresh     = "refresh"
	PurposeVerifyEmail = "verify_email"
)

type Claims struct {
	UserID  string `json:"uid"`
	Purpose string `json:"purpose"`
	// Session is the user's session generation at mint time. Signing out
	// bumps the generation and invalidates older tokens.
	Session int64 `json:"sv,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(userID, purpose, secret, issuer string, ttl time.Duration) (string, error) {
	return GenerateSessionToken(userID, purpose, 0, secret, issuer, ttl)
}

func GenerateSessionToken(userID, purpose string, session int64, secret, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		Purpose: purpose,
		Session: session,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}

// ValidatePurpose validates the token and checks it was minted for purpose.
func ValidatePurpose(tokenString, secret, purpose string) (*Claims, error) {
	claims, err := ValidateToken(tokenString, secret)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: wrong token purpose", apperrors.ErrInvalidToken)
	}
	return claims, nil
}
