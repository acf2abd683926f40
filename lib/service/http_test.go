// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/computesdk/sandbox-agent/lib/testutil"
)

func TestVerifyBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
		header   string
		wantErr  string
	}{
		{"valid", "tok", "Bearer tok", ""},
		{"lowercase scheme", "tok", "bearer tok", ""},
		{"wrong token", "tok", "Bearer nope", "token mismatch"},
		{"prefix of token", "token", "Bearer tok", "token mismatch"},
		{"basic auth", "tok", "Basic dG9rOg==", "not a bearer token"},
		{"missing", "tok", "", "missing Authorization"},
		{"unconfigured", "", "Bearer tok", "no token configured"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyBearer(test.expected, test.header)
			if test.wantErr == "" {
				if err != nil {
					t.Errorf("VerifyBearer = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("VerifyBearer = %v, want error containing %q", err, test.wantErr)
			}
			if err != nil && strings.Contains(err.Error(), test.expected) && test.expected != "" {
				t.Errorf("error %q leaks the expected token", err)
			}
		})
	}
}

func TestHTTPServerLifecycle(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		fmt.Fprint(writer, "ok")
	})
	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: 2 * time.Second,
		Logger:          slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	response, err := http.Get("http://" + server.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("GET = %d %q", response.StatusCode, body)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve return"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestHTTPServerShutdownEndsStreams(t *testing.T) {
	t.Parallel()

	// A handler that streams until its request context ends, like an
	// event stream with no new events.
	handler := http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		fmt.Fprint(writer, "open\n")
		writer.(http.Flusher).Flush()
		<-request.Context().Done()
	})
	server := NewHTTPServer(HTTPServerConfig{
		Address:         "127.0.0.1:0",
		Handler:         handler,
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	response, err := http.Get("http://" + server.Addr().String() + "/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	line, err := bufio.NewReader(response.Body).ReadString('\n')
	if err != nil || line != "open\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve return with an open stream"); err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestHTTPServerListenError(t *testing.T) {
	t.Parallel()

	server := NewHTTPServer(HTTPServerConfig{
		Address: "256.0.0.1:0",
		Handler: http.NotFoundHandler(),
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err := server.Serve(context.Background()); err == nil {
		t.Error("Serve on an invalid address succeeded")
	}
}

func TestHTTPServerPanicsOnMissingConfig(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	handler := http.NotFoundHandler()
	tests := map[string]HTTPServerConfig{
		"address": {Handler: handler, Logger: logger},
		"handler": {Address: ":0", Logger: logger},
		"logger":  {Address: ":0", Handler: handler},
	}
	for name, config := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Error("NewHTTPServer did not panic")
				}
			}()
			NewHTTPServer(config)
		})
	}
}
