package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/dskvich/character-chat/pkg/domain"
)

type authenticator struct {
	secret            []byte
	authorizedUserIDs []string
}

// NewAuthenticator verifies HS256 tokens signed with secret. An empty
// authorizedUserIDs admits every user holding a valid token.
func NewAuthenticator(secret string, authorizedUserIDs []string) (*authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}

	slog.Info("authorized user IDs", "user_ids", authorizedUserIDs)

	return &authenticator{
		secret:            []byte(secret),
		authorizedUserIDs: authorizedUserIDs,
	}, nil
}

// UserID returns the subject of a valid token.
func (a *authenticator) UserID(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: parsing token: %w", domain.ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}

	if !a.IsAuthorized(claims.Subject) {
		return "", fmt.Errorf("%w: user %s is not allowed", domain.ErrUnauthorized, claims.Subject)
	}

	return claims.Subject, nil
}

func (a *authenticator) IsAuthorized(userID string) bool {
	return len(a.authorizedUserIDs) == 0 || lo.Contains(a.authorizedUserIDs, userID)
}

// Issue signs a token for userID that expires after ttl.
func (a *authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
