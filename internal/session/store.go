package session

import (
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/storage"
)

// Storage keys for session artifacts.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
	keyDeviceID     = "device_id"
)

// TokenStore owns the persisted session: access token, refresh token and
// the cached profile snapshot. The two tokens are always both present or
// both absent. A nil backend degrades to "always absent / set is a no-op"
// so an unavailable store reads as logged-out rather than failing.
type TokenStore struct {
	kv         storage.KV
	accessTTL  time.Duration
	refreshTTL time.Duration
	secure     bool
	debug      bool
}

func NewTokenStore(kv storage.KV, cfg *config.Config) *TokenStore {
	return &TokenStore{
		kv:         kv,
		accessTTL:  time.Duration(cfg.Auth.AccessTokenTTL) * 24 * time.Hour,
		refreshTTL: time.Duration(cfg.Auth.RefreshTokenTTL) * 24 * time.Hour,
		secure:     cfg.Auth.SecureStorage,
		debug:      cfg.Debug,
	}
}

func (s *TokenStore) debugLog(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	log.Printf("[SESSION] "+format, args...)
}

// Get returns the stored value for key, or "" when absent or expired.
func (s *TokenStore) Get(key string) string {
	if s.kv == nil {
		return ""
	}

	value, ok := s.kv.Get(key)
	if !ok {
		return ""
	}
	return value
}

// Set stores value under key with the given TTL. A zero TTL means no
// expiry horizon.
func (s *TokenStore) Set(key, value string, ttl time.Duration) error {
	if s.kv == nil {
		return nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	return s.kv.Set(key, value, expiresAt, s.secure)
}

// Remove deletes key. Removing an absent key is not an error.
func (s *TokenStore) Remove(key string) {
	if s.kv == nil {
		return
	}

	if err := s.kv.Delete(key); err != nil {
		s.debugLog("Remove %s failed: %v", key, err)
	}
}

// AccessToken implements api.TokenSource.
func (s *TokenStore) AccessToken() string {
	return s.Get(KeyAccessToken)
}

// RefreshToken implements api.TokenSource.
func (s *TokenStore) RefreshToken() string {
	return s.Get(KeyRefreshToken)
}

// StoreTokens persists a token pair. An empty refresh token keeps the
// existing one (a refresh that only rotated the access token); if neither
// a new nor an existing refresh token is available the half-populated
// session is cleared and rejected.
func (s *TokenStore) StoreTokens(accessToken, refreshToken string) error {
	if accessToken == "" {
		return fmt.Errorf("access token is empty")
	}

	if refreshToken == "" {
		refreshToken = s.RefreshToken()
		if refreshToken == "" {
			s.ClearSession()
			return fmt.Errorf("no refresh token to pair with access token")
		}
	}

	accessTTL := s.accessTTL
	if jwtTTL, ok := jwtExpiry(accessToken); ok && jwtTTL < accessTTL {
		accessTTL = jwtTTL
	}

	if err := s.Set(KeyAccessToken, accessToken, accessTTL); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if err := s.Set(KeyRefreshToken, refreshToken, s.refreshTTL); err != nil {
		// Roll back so the session is never half-populated.
		s.Remove(KeyAccessToken)
		return fmt.Errorf("store refresh token: %w", err)
	}

	s.debugLog("Token pair stored (access TTL %v)", accessTTL)
	return nil
}

// ClearSession implements api.TokenSource: destroys every session artifact.
func (s *TokenStore) ClearSession() {
	s.Remove(KeyAccessToken)
	s.Remove(KeyRefreshToken)
	s.Remove(KeyUser)
	s.debugLog("Session cleared")
}

// jwtExpiry extracts the remaining lifetime from a JWT's exp claim without
// verifying the signature. Opaque tokens report !ok and fall back to the
// configured TTL.
func jwtExpiry(token string) (time.Duration, bool) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return 0, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}

	remaining := time.Until(exp.Time)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}
