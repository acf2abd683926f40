// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/eventlog"
)

var (
	// ErrUnknownAgent means the agent is not in the known set or has
	// not been installed.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrDuplicateSession means the session ID is live or being created.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrUnknownSession means no live session has the ID.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidRequest means the request fails validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRegistryClosed is returned by Create after Close.
	ErrRegistryClosed = errors.New("session registry closed")
)

// InstallChecker is the part of agents.Manager the registry needs.
type InstallChecker interface {
	IsInstalled(id agents.ID) bool
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Backend runs sessions. Required.
	Backend Backend

	// Agents gates creation on installed agents. Required.
	Agents InstallChecker

	Clock  clock.Clock
	Logger *slog.Logger

	// IdleTimeout evicts sessions with no activity for this long. Zero
	// disables eviction.
	IdleTimeout time.Duration

	// EvictionInterval is how often Run checks for idle sessions.
	// Defaults to a quarter of IdleTimeout.
	EvictionInterval time.Duration

	// OnTeardown is called after a session's log is closed, from the
	// goroutine that removed it. Optional.
	OnTeardown func(*Session)
}

// Registry maps session IDs to live sessions. Safe for concurrent use.
type Registry struct {
	backend          Backend
	agents           InstallChecker
	clock            clock.Clock
	logger           *slog.Logger
	idleTimeout      time.Duration
	evictionInterval time.Duration
	onTeardown       func(*Session)

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]struct{}
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Backend == nil {
		panic("session.Registry: Backend is required")
	}
	if config.Agents == nil {
		panic("session.Registry: Agents is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	interval := config.EvictionInterval
	if interval <= 0 {
		interval = max(config.IdleTimeout/4, time.Second)
	}

	return &Registry{
		backend:          config.Backend,
		agents:           config.Agents,
		clock:            config.Clock,
		logger:           config.Logger,
		idleTimeout:      config.IdleTimeout,
		evictionInterval: interval,
		onTeardown:       config.OnTeardown,
		sessions:         make(map[string]*Session),
		pending:          make(map[string]struct{}),
	}
}

// Create registers a new session. The ID is reserved before the backend
// is called, so a concurrent Create with the same ID fails fast with
// ErrDuplicateSession. Nothing is registered if the backend fails.
func (registry *Registry) Create(ctx context.Context, request CreateRequest) (*Session, error) {
	if request.ID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	registry.mu.Lock()
	if registry.closed {
		registry.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if _, exists := registry.sessions[request.ID]; exists {
		registry.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateSession, request.ID)
	}
	if _, creating := registry.pending[request.ID]; creating {
		registry.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateSession, request.ID)
	}
	if !request.Agent.Valid() || !registry.agents.IsInstalled(request.Agent) {
		registry.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, request.Agent)
	}
	registry.pending[request.ID] = struct{}{}
	registry.mu.Unlock()

	release := func() {
		registry.mu.Lock()
		delete(registry.pending, request.ID)
		registry.mu.Unlock()
	}

	nativeID, err := registry.backend.CreateSession(ctx, request)
	if err == nil && nativeID == "" {
		err = errors.New("backend returned an empty native session id")
	}
	if err != nil {
		release()
		var adapterErr *AdapterError
		if !errors.As(err, &adapterErr) {
			err = &AdapterError{Kind: KindCreateFailed, Err: err}
		}
		registry.logger.Warn("session creation failed",
			"session_id", request.ID,
			"agent", request.Agent,
			"error", err,
		)
		return nil, err
	}

	now := registry.clock.Now().UTC()
	sessionCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:              request.ID,
		Agent:           request.Agent,
		PermissionMode:  request.PermissionMode,
		NativeSessionID: nativeID,
		CreatedAt:       now,
		log:             eventlog.New(registry.clock),
		ctx:             sessionCtx,
		cancel:          cancel,
		lastActivity:    now,
	}

	registry.mu.Lock()
	delete(registry.pending, request.ID)
	if registry.closed {
		registry.mu.Unlock()
		session.teardown()
		return nil, ErrRegistryClosed
	}
	registry.sessions[request.ID] = session
	registry.mu.Unlock()

	registry.logger.Info("session created",
		"session_id", session.ID,
		"agent", session.Agent,
		"native_session_id", nativeID,
		"permission_mode", session.PermissionMode,
	)
	return session, nil
}

// Get returns the live session with id.
func (registry *Registry) Get(id string) (*Session, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	session, ok := registry.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	return session, nil
}

// List returns live sessions ordered by creation time, then ID.
func (registry *Registry) List() []*Session {
	registry.mu.Lock()
	sessions := make([]*Session, 0, len(registry.sessions))
	for _, session := range registry.sessions {
		sessions = append(sessions, session)
	}
	registry.mu.Unlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if order := a.CreatedAt.Compare(b.CreatedAt); order != 0 {
			return order
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions
}

// SendMessage starts a turn and returns without waiting for it. The
// turn's output, including any backend failure, arrives as events.
func (registry *Registry) SendMessage(id, message string) error {
	session, err := registry.Get(id)
	if err != nil {
		return err
	}

	number, ok := session.beginTurn(registry.clock.Now().UTC())
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}

	turn := NewTurn(session.Info(), number, message, session.log)
	go registry.runTurn(session, turn)
	return nil
}

func (registry *Registry) runTurn(session *Session, turn *Turn) {
	defer func() { session.endTurn(registry.clock.Now().UTC()) }()

	logger := registry.logger.With("session_id", session.ID, "agent", session.Agent, "turn", turn.Number)
	logger.Debug("turn started")

	err := registry.backend.Send(session.ctx, turn)
	if err == nil {
		logger.Debug("turn finished", "last_event_id", session.log.LastID())
		return
	}
	if session.ctx.Err() != nil {
		logger.Debug("turn cancelled by teardown", "error", err)
		return
	}

	kind := KindAdapterError
	var adapterErr *AdapterError
	switch {
	case errors.As(err, &adapterErr):
		kind = adapterErr.Kind
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	logger.Warn("turn failed", "kind", kind, "error", err)

	if _, appendErr := turn.EmitPayload(event.NewError(kind, err.Error())); appendErr != nil && !errors.Is(appendErr, eventlog.ErrClosed) {
		logger.Error("recording turn failure", "error", appendErr)
	}
}

// Remove tears a session down: it leaves the registry, its turns are
// cancelled and its log is closed, ending every open stream.
func (registry *Registry) Remove(id string) error {
	registry.mu.Lock()
	session, ok := registry.sessions[id]
	if ok {
		delete(registry.sessions, id)
	}
	registry.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}

	registry.teardown(session, "removed")
	return nil
}

func (registry *Registry) teardown(session *Session, reason string) {
	session.teardown()
	registry.logger.Info("session torn down",
		"session_id", session.ID,
		"agent", session.Agent,
		"reason", reason,
		"events", session.log.Len(),
	)
	if registry.onTeardown != nil {
		registry.onTeardown(session)
	}
}

// EvictIdle removes sessions idle for at least IdleTimeout and returns
// how many were removed.
func (registry *Registry) EvictIdle() int {
	if registry.idleTimeout <= 0 {
		return 0
	}
	cutoff := registry.clock.Now().UTC().Add(-registry.idleTimeout)

	registry.mu.Lock()
	var idle []*Session
	for id, session := range registry.sessions {
		if session.idleSince(cutoff) {
			idle = append(idle, session)
			delete(registry.sessions, id)
		}
	}
	registry.mu.Unlock()

	for _, session := range idle {
		registry.teardown(session, "idle")
	}
	return len(idle)
}

// Run evicts idle sessions every EvictionInterval until ctx is done.
// It returns immediately when eviction is disabled.
func (registry *Registry) Run(ctx context.Context) error {
	if registry.idleTimeout <= 0 {
		return nil
	}
	ticker := registry.clock.NewTicker(registry.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := registry.EvictIdle(); evicted > 0 {
				registry.logger.Info("evicted idle sessions", "count", evicted)
			}
		}
	}
}

// Close tears down every session, waits for their turns to return and
// rejects further creates.
func (registry *Registry) Close() {
	registry.mu.Lock()
	registry.closed = true
	sessions := make([]*Session, 0, len(registry.sessions))
	for id, session := range registry.sessions {
		sessions = append(sessions, session)
		delete(registry.sessions, id)
	}
	registry.mu.Unlock()

	for _, session := range sessions {
		registry.teardown(session, "shutdown")
	}
	for _, session := range sessions {
		session.Wait()
	}
}
