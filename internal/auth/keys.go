package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoAPIKey is returned when neither the caller nor the server has an
// image generation API key.
var ErrNoAPIKey = errors.New("no image generation API key available")

// GetAPIKey returns the server's Gemini API key from GEMINI_API_KEY.
func GetAPIKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}
	return "", &ServiceError{Type: ErrTypeNoKey, Message: "API key not found. Set GEMINI_API_KEY", Err: ErrNoAPIKey}
}

// UserKeys looks up a user's own API key. "" means the user has none.
type UserKeys interface {
	GetAPIKey(ctx context.Context, userID string) (string, error)
}

// KeyResolver picks the API key a job runs with: the caller's own key when
// stored, else the server key.
type KeyResolver struct {
	users    UserKeys
	fallback string
}

// NewKeyResolver creates a KeyResolver. users may be nil and fallback may be
// empty.
func NewKeyResolver(users UserKeys, fallback string) *KeyResolver {
	return &KeyResolver{users: users, fallback: strings.TrimSpace(fallback)}
}

// Resolve returns the key for userID, or ErrNoAPIKey.
func (r *KeyResolver) Resolve(ctx context.Context, userID string) (string, error) {
	if r.users != nil && userID != "" {
		key, err := r.users.GetAPIKey(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("look up api key for %s: %w", userID, err)
		}
		if key = strings.TrimSpace(key); key != "" {
			log.Debug().Str("userId", userID).Msg("Using caller's own API key")
			return key, nil
		}
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", ErrNoAPIKey
}
