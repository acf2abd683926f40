// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend implements session.Backend for the supported agents.
//
// [Scripted] runs the built-in mock agent in-process. [Process] runs an
// agent's CLI once per turn and translates its stdout into event
// payloads. [Router] picks one of them per agent.
package backend

import (
	"context"
	"fmt"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/session"
)

// Router dispatches to a backend chosen by agent ID, falling back to
// Default for agents without an explicit route.
type Router struct {
	Routes  map[agents.ID]session.Backend
	Default session.Backend
}

func (router *Router) route(agent agents.ID) (session.Backend, error) {
	if backend, ok := router.Routes[agent]; ok {
		return backend, nil
	}
	if router.Default != nil {
		return router.Default, nil
	}
	return nil, &session.AdapterError{
		Kind: KindUnsupported,
		Err:  fmt.Errorf("no backend for agent %q", agent),
	}
}

func (router *Router) CreateSession(ctx context.Context, request session.CreateRequest) (string, error) {
	backend, err := router.route(request.Agent)
	if err != nil {
		return "", err
	}
	return backend.CreateSession(ctx, request)
}

func (router *Router) Send(ctx context.Context, turn *session.Turn) error {
	backend, err := router.route(turn.Agent)
	if err != nil {
		return err
	}
	return backend.Send(ctx, turn)
}

// Adapter error kinds reported by the backends in this package.
const (
	KindUnsupported = "unsupported_agent"
	KindCredentials = "credentials"
	KindSpawn       = "spawn_failed"
	KindProcessExit = "process_exit"
	KindNoResponse  = "no_response"
	KindAgentError  = "agent_error"
)
