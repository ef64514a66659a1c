package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/cadenza-player/cadenza/internal/api"
	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/pkg/types"
)

// Manager is the composition root for the authenticated user session: it
// wires the token store and the HTTP client together and owns the session
// lifecycle (login, register, logout, profile refresh).
type Manager struct {
	client *api.Client
	store  *TokenStore
	debug  bool

	mu        sync.RWMutex
	user      *types.User
	onExpired func()
}

func NewManager(cfg *config.Config, client *api.Client, store *TokenStore) *Manager {
	m := &Manager{
		client: client,
		store:  store,
		debug:  cfg.Debug,
	}

	client.OnSessionExpired(m.handleExpired)
	m.user = m.loadUser()

	return m
}

func (m *Manager) debugLog(format string, args ...interface{}) {
	if !m.debug {
		return
	}
	log.Printf("[SESSION] "+format, args...)
}

// OnSessionExpired registers the hook the UI layer uses to redirect to the
// login screen when the session is irrecoverably gone.
func (m *Manager) OnSessionExpired(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = fn
}

func (m *Manager) handleExpired() {
	m.mu.Lock()
	m.user = nil
	fn := m.onExpired
	m.mu.Unlock()

	m.debugLog("Session expired, signaling redirect to login")
	if fn != nil {
		fn()
	}
}

// Login authenticates and establishes a session.
func (m *Manager) Login(ctx context.Context, email, password string) (*types.User, error) {
	authResp, err := m.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := m.establish(authResp); err != nil {
		return nil, err
	}

	m.debugLog("Logged in as %s", authResp.User.Email)
	return m.CurrentUser(), nil
}

// Register creates an account. Backends that confirm registration inline
// return a token pair and the session is established immediately; backends
// that require email confirmation return no tokens and the caller stays
// logged out.
func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) (*types.User, error) {
	authResp, err := m.client.Register(ctx, req)
	if err != nil {
		return nil, err
	}

	if authResp.AccessToken == "" {
		m.debugLog("Registration pending confirmation for %s", req.Email)
		return nil, nil
	}

	if err := m.establish(authResp); err != nil {
		return nil, err
	}

	return m.CurrentUser(), nil
}

func (m *Manager) establish(authResp *api.AuthResponse) error {
	if err := m.store.StoreTokens(authResp.AccessToken, authResp.RefreshToken); err != nil {
		return fmt.Errorf("establish session: %w", err)
	}

	m.saveUser(&authResp.User)

	m.mu.Lock()
	user := authResp.User
	m.user = &user
	m.mu.Unlock()

	return nil
}

// Logout invalidates the backend session and destroys local state. The
// local session is cleared even when the backend call fails.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.client.Logout(ctx); err != nil {
		m.debugLog("Backend logout failed: %v", err)
	}

	m.store.ClearSession()

	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()

	m.debugLog("Logged out")
	return nil
}

// CurrentUser returns the cached profile snapshot, or nil when logged out.
func (m *Manager) CurrentUser() *types.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil {
		return nil
	}
	user := *m.user
	return &user
}

// IsAuthenticated reports whether a full session is present.
func (m *Manager) IsAuthenticated() bool {
	return m.store.AccessToken() != "" && m.store.RefreshToken() != ""
}

// RefreshProfile re-fetches the profile snapshot from the backend.
func (m *Manager) RefreshProfile(ctx context.Context) (*types.User, error) {
	user, err := m.client.GetCurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	m.saveUser(user)

	m.mu.Lock()
	m.user = user
	m.mu.Unlock()

	return m.CurrentUser(), nil
}

// DeviceID returns a stable identifier for this installation, creating and
// persisting one on first use.
func (m *Manager) DeviceID() string {
	if id := m.store.Get(keyDeviceID); id != "" {
		return id
	}

	id := uuid.NewString()
	if err := m.store.Set(keyDeviceID, id, 0); err != nil {
		m.debugLog("Failed to persist device id: %v", err)
	}
	return id
}

func (m *Manager) saveUser(user *types.User) {
	data, err := json.Marshal(user)
	if err != nil {
		m.debugLog("Failed to encode user snapshot: %v", err)
		return
	}

	if err := m.store.Set(KeyUser, string(data), m.store.refreshTTL); err != nil {
		m.debugLog("Failed to persist user snapshot: %v", err)
	}
}

func (m *Manager) loadUser() *types.User {
	data := m.store.Get(KeyUser)
	if data == "" {
		return nil
	}

	var user types.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		m.debugLog("Failed to decode stored user snapshot: %v", err)
		m.store.Remove(KeyUser)
		return nil
	}

	return &user
}
