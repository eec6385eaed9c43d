// Package session builds the identity the coordinator binds to on login.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dukerupert/schoolpush/internal/model"
)

var ErrMissingUser = errors.New("session: user id is required")

// New returns a Session for the given identity with a fresh session token.
func New(userID, role, accessToken string, now time.Time) (model.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Session{}, ErrMissingUser
	}
	return model.Session{
		UserID:      userID,
		Role:        strings.TrimSpace(role),
		AccessToken: accessToken,
		Token:       uuid.NewString(),
		LoginAt:     now,
	}, nil
}

// FromAccessToken reads user id and role from the claims of the backend's
// access token. The client cannot verify the signature, so the claims are only
// used to label the session; the backend still authenticates the token on
// every call. The user id comes from "user_id", falling back to "sub".
func FromAccessToken(raw string, now time.Time) (model.Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return model.Session{}, fmt.Errorf("parse access token: %w", err)
	}

	userID := claimString(claims, "user_id")
	if userID == "" {
		userID, _ = claims.GetSubject()
	}
	return New(userID, claimString(claims, "role"), raw, now)
}

func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
