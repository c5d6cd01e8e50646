package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownAction is returned when a pending action has no registered handler.
var ErrUnknownAction = errors.New("unknown pending action")

// Handler replays a held action once the shopper is authenticated.
type Handler func(ctx context.Context, token string, payload json.RawMessage) (any, error)

// Pending is an action captured while the shopper was logged out.
type Pending struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Gate owns the session token and at most one pending action. The action
// runs exactly once, on the next successful authentication.
type Gate struct {
	mu       sync.Mutex
	token    string
	pending  *Pending
	handlers map[string]Handler
}

func NewGate() *Gate {
	return &Gate{handlers: make(map[string]Handler)}
}

// Register binds an action name to its replay handler.
func (g *Gate) Register(action string, h Handler) {
	g.mu.Lock()
	g.handlers[action] = h
	g.mu.Unlock()
}

// Token returns the current session token ("" when logged out).
func (g *Gate) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

func (g *Gate) Authenticated() bool {
	return g.Token() != ""
}

// Hold captures an action for replay. A newer hold replaces an older one.
func (g *Gate) Hold(action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode pending %s: %w", action, err)
	}
	g.mu.Lock()
	g.pending = &Pending{Action: action, Payload: raw}
	g.mu.Unlock()
	return nil
}

// PendingAction returns the held action, if any.
func (g *Gate) PendingAction() (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Pending{}, false
	}
	return *g.pending, true
}

// Authenticate stores the token and replays the pending action, if any.
// The pending slot is emptied before the handler runs, so a failed replay is
// not attempted again. ran is false when nothing was pending.
func (g *Gate) Authenticate(ctx context.Context, token string) (result any, ran bool, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false, errors.New("token required")
	}
	g.mu.Lock()
	g.token = token
	pending := g.pending
	g.pending = nil
	var h Handler
	if pending != nil {
		h = g.handlers[pending.Action]
	}
	g.mu.Unlock()

	if pending == nil {
		return nil, false, nil
	}
	if h == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownAction, pending.Action)
	}
	result, err = h(ctx, token, pending.Payload)
	return result, true, err
}

// Logout drops the token and anything pending.
func (g *Gate) Logout() {
	g.mu.Lock()
	g.token = ""
	g.pending = nil
	g.mu.Unlock()
}

// State is the persisted form of a gate.
type State struct {
	Token   string   `json:"token,omitempty"`
	Pending *Pending `json:"pending,omitempty"`
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := State{Token: g.token}
	if g.pending != nil {
		p := *g.pending
		st.Pending = &p
	}
	return st
}

// Restore loads persisted state; handlers must be registered separately.
func (g *Gate) Restore(st State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = st.Token
	g.pending = nil
	if st.Pending != nil {
		p := *st.Pending
		g.pending = &p
	}
}
