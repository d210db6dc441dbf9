package callcontrol

import (
	"context"
	"log/slog"
	"sync"

	"roofcrm/internal/media"
	"roofcrm/internal/telephony"
)

// ProviderFactory builds a fresh provider connection for one operator
// session. Each session owns its own signaling channel and event stream;
// the session identity lets the factory bake per-session webhook routing
// into the provider configuration.
type ProviderFactory func(workspaceID, userID string) (telephony.Provider, error)

// Registry hands out one controller per operator session, keyed by
// workspace and user. Controllers are created lazily and initialized on
// first use.
type Registry struct {
	log         *slog.Logger
	newProvider ProviderFactory
	gate        media.Gate
	records     RecordPort
	bridge      Transcriber
	callerID    string

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewRegistry(newProvider ProviderFactory, gate media.Gate, records RecordPort, bridge Transcriber, callerID string, log *slog.Logger) *Registry {
	return &Registry{
		log:         log,
		newProvider: newProvider,
		gate:        gate,
		records:     records,
		bridge:      bridge,
		callerID:    callerID,
		sessions:    map[string]*Controller{},
	}
}

func sessionKey(workspaceID, userID string) string {
	return workspaceID + ":" + userID
}

// Controller returns the session's controller, creating and initializing
// it if needed. Initialization failures are returned so the caller can
// retry; the session slot is not burned by a failed attempt.
func (r *Registry) Controller(ctx context.Context, workspaceID, userID string) (*Controller, error) {
	key := sessionKey(workspaceID, userID)

	r.mu.Lock()
	c, ok := r.sessions[key]
	if !ok {
		provider, err := r.newProvider(workspaceID, userID)
		if err != nil {
			r.mu.Unlock()
			return nil, &InitError{Reason: "provider setup", Err: err}
		}
		c = New(provider, r.gate, r.records, r.bridge, Options{
			WorkspaceID: workspaceID,
			UserID:      userID,
			CallerID:    r.callerID,
			Logger:      r.log,
		})
		r.sessions[key] = c
	}
	r.mu.Unlock()

	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Peek returns the session's controller without creating one.
func (r *Registry) Peek(workspaceID, userID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[sessionKey(workspaceID, userID)]
	return c, ok
}

// Release closes and forgets the session's controller.
func (r *Registry) Release(workspaceID, userID string) {
	key := sessionKey(workspaceID, userID)

	r.mu.Lock()
	c := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			r.log.Warn("session close failed", "workspace_id", workspaceID, "user_id", userID, "error", err)
		}
	}
}

// CloseAll tears down every session, used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		sessions = append(sessions, c)
	}
	r.sessions = map[string]*Controller{}
	r.mu.Unlock()

	for _, c := range sessions {
		if err := c.Close(); err != nil {
			r.log.Warn("session close failed during shutdown", "error", err)
		}
	}
}
