package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cadenza-player/cadenza/pkg/types"
)

// AuthResponse is the payload of a successful login or registration.
type AuthResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         types.User `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Login authenticates with email and password. A 401 here means bad
// credentials and is surfaced directly for inline rendering; it never
// starts a token refresh.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	payload, err := c.do(ctx, "POST", "/auth/login", nil,
		LoginRequest{Email: email, Password: password},
		requestOptions{noAuth: true, authExempt: true})
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}

	var authResp AuthResponse
	if err := json.Unmarshal(payload, &authResp); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}

	return &authResp, nil
}

// Register creates an account. Validation failures surface with field
// errors attached; like Login, a 401 never triggers refresh.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	payload, err := c.do(ctx, "POST", "/auth/register", nil, req,
		requestOptions{noAuth: true, authExempt: true})
	if err != nil {
		return nil, fmt.Errorf("register request: %w", err)
	}

	var authResp AuthResponse
	if err := json.Unmarshal(payload, &authResp); err != nil {
		return nil, fmt.Errorf("decode register response: %w", err)
	}

	return &authResp, nil
}

// Logout tells the backend to invalidate the session. Failures are logged
// and ignored; the local session is cleared by the caller regardless.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.Request(ctx, "POST", "/auth/logout", nil, nil); err != nil {
		c.debugLog("Logout request failed: %v", err)
	}
	return nil
}

// GetCurrentUser fetches the profile snapshot for the authenticated user.
func (c *Client) GetCurrentUser(ctx context.Context) (*types.User, error) {
	payload, err := c.Request(ctx, "GET", "/users/me", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get current user: %w", err)
	}

	var user types.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}

	return &user, nil
}
