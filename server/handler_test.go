// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/backend"
	"github.com/computesdk/sandbox-agent/lib/client"
	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/session"
	"github.com/computesdk/sandbox-agent/lib/testutil"
	"github.com/computesdk/sandbox-agent/lib/transcript"
)

// stubInstaller installs everything except the agents listed in fail.
type stubInstaller struct {
	fail map[agents.ID]bool
}

func (installer stubInstaller) Install(ctx context.Context, id agents.ID, manifest agents.Manifest) (string, error) {
	if installer.fail[id] {
		return "", errors.New("download mirror unreachable")
	}
	if manifest.Builtin {
		return "", nil
	}
	return "/opt/agents/" + manifest.Binary, nil
}

type testOptions struct {
	script     backend.Script
	clock      clock.Clock
	token      string
	keepalive  time.Duration
	failing    map[agents.ID]bool
	onTeardown func(*session.Session)
	install    []agents.ID
}

type testEnv struct {
	registry *session.Registry
	manager  *agents.Manager
	server   *httptest.Server
	client   *client.Client
}

// newTestEnv serves a Handler whose only backend is the scripted mock
// agent. Every other agent is installable but rejected at creation.
func newTestEnv(t *testing.T, options testOptions) *testEnv {
	t.Helper()

	if options.clock == nil {
		options.clock = clock.Real()
	}
	if options.install == nil {
		options.install = []agents.ID{agents.Mock}
	}

	manager, err := agents.NewManager(agents.ManagerConfig{
		Installer: stubInstaller{fail: options.failing},
		Clock:     options.clock,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, id := range options.install {
		if err := manager.Install(context.Background(), id); err != nil {
			t.Fatalf("Install(%s): %v", id, err)
		}
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Backend: &backend.Router{Routes: map[agents.ID]session.Backend{
			agents.Mock: backend.NewScripted(backend.ScriptedConfig{Script: options.script, Clock: options.clock}),
		}},
		Agents:     manager,
		Clock:      options.clock,
		OnTeardown: options.onTeardown,
	})

	handler := NewHandler(Config{
		Registry:          registry,
		Agents:            manager,
		Clock:             options.clock,
		Logger:            slog.New(slog.DiscardHandler),
		KeepaliveInterval: options.keepalive,
		Token:             options.token,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		registry.Close()
		server.Close()
	})

	apiClient, err := client.New(client.Config{BaseURL: server.URL, Token: options.token})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return &testEnv{registry: registry, manager: manager, server: server, client: apiClient}
}

func (env *testEnv) createMock(t *testing.T, id string) {
	t.Helper()
	if _, err := env.client.CreateSession(t.Context(), id, client.CreateSessionRequest{Agent: agents.Mock}); err != nil {
		t.Fatalf("CreateSession(%q): %v", id, err)
	}
}

func (env *testEnv) request(t *testing.T, method, path, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequestWithContext(t.Context(), method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for name, values := range header {
		request.Header[name] = values
	}
	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading %s %s: %v", method, path, err)
	}
	return response, data
}

// expectError checks the status and error kind of a failed request.
func expectError(t *testing.T, response *http.Response, body []byte, status int, kind string) {
	t.Helper()
	if response.StatusCode != status {
		t.Fatalf("status = %d, want %d (body %s)", response.StatusCode, status, body)
	}
	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("error body %s: %v", body, err)
	}
	if decoded.Error.Kind != kind {
		t.Errorf("kind = %q, want %q", decoded.Error.Kind, kind)
	}
	if decoded.Error.Message == "" {
		t.Error("error message is empty")
	}
}

// encodeAll makes events comparable, timestamps included.
func encodeAll(t *testing.T, events []event.Event) []string {
	t.Helper()
	encoded := make([]string, len(events))
	for index, each := range events {
		data, err := json.Marshal(each)
		if err != nil {
			t.Fatalf("encoding event %d: %v", each.ID, err)
		}
		encoded[index] = string(data)
	}
	return encoded
}

func countAtLeast(n int) func([]event.Event) bool {
	return func(events []event.Event) bool { return len(events) >= n }
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{token: "secret"})

	response, body := env.request(t, http.MethodGet, "/health", "", nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", response.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestInstallAndListAgents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{failing: map[agents.ID]bool{agents.Codex: true}})

	if err := env.client.Install(t.Context(), agents.Claude); err != nil {
		t.Fatalf("Install(claude): %v", err)
	}
	if err := env.client.Install(t.Context(), agents.Claude); err != nil {
		t.Fatalf("second Install(claude): %v", err)
	}

	statuses, err := env.client.Agents(t.Context())
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(statuses) != len(agents.All()) {
		t.Fatalf("listed %d agents, want %d", len(statuses), len(agents.All()))
	}
	installed := make(map[agents.ID]client.AgentStatus)
	for _, status := range statuses {
		if status.Installed {
			installed[status.ID] = status
		}
	}
	if len(installed) != 2 {
		t.Errorf("installed = %v, want mock and claude", installed)
	}
	if claude := installed[agents.Claude]; claude.Path != "/opt/agents/claude" || claude.InstalledAt == nil {
		t.Errorf("claude status = %+v", claude)
	}

	response, body := env.request(t, http.MethodPost, "/v1/agents/gemini/install", "", nil)
	expectError(t, response, body, http.StatusNotFound, KindUnknownAgent)

	response, body = env.request(t, http.MethodPost, "/v1/agents/codex/install", "{}", nil)
	expectError(t, response, body, http.StatusInternalServerError, KindInstallFailed)
	if strings.Contains(string(body), "mirror") {
		t.Errorf("install failure leaks the cause: %s", body)
	}

	response, body = env.request(t, http.MethodPost, "/v1/agents/amp/install", "{not json", nil)
	expectError(t, response, body, http.StatusBadRequest, KindMalformedRequest)
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{install: []agents.ID{agents.Mock, agents.Claude}})

	created, err := env.client.CreateSession(t.Context(), "s1", client.CreateSessionRequest{
		Agent:          agents.Mock,
		PermissionMode: "bypass",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.ID != "s1" || created.Agent != agents.Mock || created.PermissionMode != "bypass" {
		t.Errorf("created = %+v", created)
	}
	if !strings.HasPrefix(created.NativeSessionID, "mock-") {
		t.Errorf("native session id = %q", created.NativeSessionID)
	}

	info, err := env.client.GetSession(t.Context(), "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if info.NativeSessionID != created.NativeSessionID || info.LastEventID != 0 {
		t.Errorf("info = %+v", info)
	}
}

func TestCreateSessionRejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{install: []agents.ID{agents.Mock, agents.Claude}})
	env.createMock(t, "taken")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   string
	}{
		{"duplicate", "/v1/sessions/taken", `{"agent":"mock"}`, http.StatusConflict, KindDuplicateSession},
		{"invalid json", "/v1/sessions/a", `{"agent":`, http.StatusBadRequest, KindMalformedRequest},
		{"missing body", "/v1/sessions/a", ``, http.StatusBadRequest, KindMalformedRequest},
		{"missing agent", "/v1/sessions/a", `{"permissionMode":"default"}`, http.StatusBadRequest, KindMalformedRequest},
		{"unknown agent", "/v1/sessions/a", `{"agent":"gemini"}`, http.StatusNotFound, KindUnknownAgent},
		{"not installed", "/v1/sessions/a", `{"agent":"codex"}`, http.StatusNotFound, KindUnknownAgent},
		{"backend failure", "/v1/sessions/a", `{"agent":"claude"}`, http.StatusBadGateway, KindAdapterError},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			response, body := env.request(t, http.MethodPost, test.path, test.body, nil)
			expectError(t, response, body, test.status, test.kind)
		})
	}

	sessions, err := env.client.ListSessions(t.Context())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "taken" {
		t.Errorf("sessions after rejections = %+v, want only taken", sessions)
	}
	events, err := env.client.Events(t.Context(), "taken", 0, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("rejected duplicate appended %d events", len(events))
	}
}

func TestUnknownSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/v1/sessions/ghost", ""},
		{http.MethodDelete, "/v1/sessions/ghost", ""},
		{http.MethodPost, "/v1/sessions/ghost/messages", `{"message":"hi"}`},
		{http.MethodPost, "/v1/sessions/ghost/messages", `not even json`},
		{http.MethodGet, "/v1/sessions/ghost/events", ""},
		{http.MethodGet, "/v1/sessions/ghost/events/sse", ""},
		{http.MethodGet, "/v1/sessions/ghost/transcript", ""},
	}
	for _, test := range tests {
		t.Run(test.method+" "+test.path, func(t *testing.T) {
			response, body := env.request(t, test.method, test.path, test.body, nil)
			expectError(t, response, body, http.StatusNotFound, KindUnknownSession)
		})
	}

	err := env.client.SendMessage(t.Context(), "ghost", "hello")
	if !client.IsKind(err, KindUnknownSession) {
		t.Errorf("SendMessage = %v, want %s", err, KindUnknownSession)
	}
}

func TestSendMessageMalformed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})
	env.createMock(t, "s1")

	for _, body := range []string{``, `{}`, `{"message":`, `{"message":1}`} {
		response, data := env.request(t, http.MethodPost, "/v1/sessions/s1/messages", body, nil)
		expectError(t, response, data, http.StatusBadRequest, KindMalformedRequest)
	}

	info, err := env.client.GetSession(t.Context(), "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if info.Turns != 0 || info.LastEventID != 0 {
		t.Errorf("malformed messages started a turn: %+v", info)
	}
}

func TestPollAndStreamObserveSameSequence(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{script: backend.ChunkedScript(0, "a", "b", "c")})
	env.createMock(t, "s1")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	// Open the stream before any event exists so it sees the live
	// appends, then run two overlapping turns.
	stream, err := env.client.Stream(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()
	for _, message := range []string{"first", "second"} {
		if err := env.client.SendMessage(ctx, "s1", message); err != nil {
			t.Fatalf("SendMessage(%q): %v", message, err)
		}
	}

	const total = 8
	var pushed []event.Event
	for len(pushed) < total && stream.Next() {
		pushed = append(pushed, stream.Event())
	}
	if len(pushed) != total {
		t.Fatalf("stream delivered %d events (err %v), want %d", len(pushed), stream.Err(), total)
	}

	polled, err := env.client.PollUntil(ctx, "s1", 0, 10*time.Millisecond, countAtLeast(total))
	if err != nil {
		t.Fatalf("PollUntil: %v", err)
	}

	pushedJSON, polledJSON := encodeAll(t, pushed), encodeAll(t, polled)
	for index := range total {
		if pushedJSON[index] != polledJSON[index] {
			t.Errorf("event %d differs:\n push %s\n poll %s", index, pushedJSON[index], polledJSON[index])
		}
		if index > 0 && pushed[index].ID <= pushed[index-1].ID {
			t.Errorf("ids not increasing at %d: %d after %d", index, pushed[index].ID, pushed[index-1].ID)
		}
	}

	// A second subscriber replaying from scratch sees the same history.
	replayed, err := env.client.StreamUntil(ctx, "s1", 0, countAtLeast(total))
	if err != nil {
		t.Fatalf("StreamUntil: %v", err)
	}
	for index, encoded := range encodeAll(t, replayed) {
		if encoded != polledJSON[index] {
			t.Errorf("replayed event %d differs", index)
		}
	}
}

func TestStreamResumesFromLastEventID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})
	env.createMock(t, "s1")

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	if err := env.client.SendMessage(ctx, "s1", "one"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	first, err := env.client.StreamUntil(ctx, "s1", 0, countAtLeast(1))
	if err != nil {
		t.Fatalf("StreamUntil: %v", err)
	}
	cursor := first[len(first)-1].ID

	// Events appended while disconnected must arrive on resume.
	if err := env.client.SendMessage(ctx, "s1", "two"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	polled, err := env.client.PollUntil(ctx, "s1", 0, 10*time.Millisecond, countAtLeast(4))
	if err != nil {
		t.Fatalf("PollUntil: %v", err)
	}

	resumed, err := env.client.StreamUntil(ctx, "s1", cursor, countAtLeast(len(polled)-int(cursor)))
	if err != nil {
		t.Fatalf("resumed StreamUntil: %v", err)
	}
	if resumed[0].ID != cursor+1 {
		t.Errorf("resume started at %d, want %d", resumed[0].ID, cursor+1)
	}
	want := encodeAll(t, polled[cursor:])
	for index, encoded := range encodeAll(t, resumed) {
		if encoded != want[index] {
			t.Errorf("resumed event %d differs:\n got  %s\n want %s", index, encoded, want[index])
		}
	}

	// The offset query parameter wins over the header.
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/v1/sessions/s1/events/sse?offset=3", nil)
	if err != nil {
		t.Fatal(err)
	}
	request.Header.Set("Last-Event-ID", "1")
	reply, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer reply.Body.Close()
	line, err := bufio.NewReader(reply.Body).ReadString('\n')
	if err != nil || line != "id: 4\n" {
		t.Errorf("first line = %q, %v; want id: 4", line, err)
	}
}

func TestStreamRejectsBadOffset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})
	env.createMock(t, "s1")

	response, body := env.request(t, http.MethodGet, "/v1/sessions/s1/events/sse?offset=-1", "", nil)
	expectError(t, response, body, http.StatusBadRequest, KindMalformedRequest)

	response, body = env.request(t, http.MethodGet, "/v1/sessions/s1/events/sse", "", http.Header{"Last-Event-Id": {"abc"}})
	expectError(t, response, body, http.StatusBadRequest, KindMalformedRequest)
}

func TestPollPaging(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{script: backend.ChunkedScript(0, "a", "b", "c", "d")})
	env.createMock(t, "s1")
	if err := env.client.SendMessage(t.Context(), "s1", "go"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := env.client.PollUntil(t.Context(), "s1", 0, 10*time.Millisecond, countAtLeast(5)); err != nil {
		t.Fatalf("PollUntil: %v", err)
	}

	page, err := env.client.Events(t.Context(), "s1", 1, 2)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Errorf("page = %v", page)
	}

	empty, err := env.client.Events(t.Context(), "s1", 5, 0)
	if err != nil {
		t.Fatalf("Events past the end: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("page past the end has %d events", len(empty))
	}
	response, body := env.request(t, http.MethodGet, "/v1/sessions/s1/events?offset=99", "", nil)
	if response.StatusCode != http.StatusOK || !strings.Contains(string(body), `"events":[]`) {
		t.Errorf("empty page = %d %s", response.StatusCode, body)
	}

	for _, query := range []string{"offset=x", "offset=-2", "limit=-1", "limit=lots"} {
		response, body := env.request(t, http.MethodGet, "/v1/sessions/s1/events?"+query, "", nil)
		expectError(t, response, body, http.StatusBadRequest, KindMalformedRequest)
	}
}

func TestTurnTermination(t *testing.T) {
	t.Parallel()

	t.Run("first assistant chunk", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testOptions{script: backend.ChunkedScript(20*time.Millisecond, "one", "two", "three")})
		env.createMock(t, "s1")
		if err := env.client.SendMessage(t.Context(), "s1", "count"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}

		events, err := env.client.StreamUntil(t.Context(), "s1", 0, event.TurnComplete)
		if err != nil {
			t.Fatalf("StreamUntil: %v", err)
		}
		index, ok := event.FirstTerminal(events)
		if !ok || index != len(events)-1 {
			t.Fatalf("terminal index = %d, %v over %d events", index, ok, len(events))
		}
		final := events[index].Data
		if !final.IsAssistantMessage() {
			t.Fatalf("terminal event = %+v, want assistant message", final)
		}
		if text, _ := final.Message.Parts[0].TextOf(); text != "one" {
			t.Errorf("terminal text = %q, want the first chunk", text)
		}
	})

	t.Run("timeout error", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, testOptions{script: backend.FailingScript(0, session.KindTimeout, "agent timed out")})
		env.createMock(t, "s1")
		if err := env.client.SendMessage(t.Context(), "s1", "slow"); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}

		events, err := env.client.PollUntil(t.Context(), "s1", 0, 10*time.Millisecond, event.TurnComplete)
		if err != nil {
			t.Fatalf("PollUntil: %v", err)
		}
		final := events[len(events)-1].Data
		if !final.IsError() || final.Error.Kind != session.KindTimeout {
			t.Errorf("terminal event = %+v, want timeout error", final)
		}
	})
}

func TestStreamEndsOnTeardown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})
	env.createMock(t, "s1")

	if err := env.client.SendMessage(t.Context(), "s1", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := env.client.PollUntil(t.Context(), "s1", 0, 10*time.Millisecond, countAtLeast(2)); err != nil {
		t.Fatalf("PollUntil: %v", err)
	}

	stream, err := env.client.Stream(t.Context(), "s1", 0)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	if err := env.client.DeleteSession(t.Context(), "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	done := make(chan []event.Event, 1)
	go func() {
		var read []event.Event
		for stream.Next() {
			read = append(read, stream.Event())
		}
		done <- read
	}()
	read := testutil.RequireReceive(t, done, 5*time.Second, "stream end after teardown")
	if len(read) != 2 {
		t.Errorf("stream delivered %d events before ending, want 2", len(read))
	}
	if !errors.Is(stream.Err(), client.ErrStreamEnded) {
		t.Errorf("stream error = %v, want ErrStreamEnded", stream.Err())
	}

	if _, err := env.client.GetSession(t.Context(), "s1"); !client.IsKind(err, KindUnknownSession) {
		t.Errorf("GetSession after delete = %v", err)
	}
}

func TestStreamKeepalive(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	env := newTestEnv(t, testOptions{clock: fake, keepalive: 15 * time.Second})
	env.createMock(t, "s1")

	request, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.server.URL+"/v1/sessions/s1/events/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer response.Body.Close()
	if contentType := response.Header.Get("Content-Type"); contentType != "text/event-stream" {
		t.Errorf("Content-Type = %q", contentType)
	}

	fake.WaitForTimers(1)
	fake.Advance(15 * time.Second)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(response.Body).ReadString('\n')
		lines <- line
	}()
	if line := testutil.RequireReceive(t, lines, 5*time.Second, "keepalive"); line != ": keepalive\n" {
		t.Errorf("line = %q, want keepalive comment", line)
	}
}

func TestTranscriptDownload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})
	env.createMock(t, "s1")
	if err := env.client.SendMessage(t.Context(), "s1", "archive me"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	polled, err := env.client.PollUntil(t.Context(), "s1", 0, 10*time.Millisecond, countAtLeast(2))
	if err != nil {
		t.Fatalf("PollUntil: %v", err)
	}

	for _, compression := range []string{"", "none", "lz4", "zstd"} {
		decoded, _, err := env.client.Transcript(t.Context(), "s1", compression)
		if err != nil {
			t.Fatalf("Transcript(%q): %v", compression, err)
		}
		if decoded.Header.SessionID != "s1" || decoded.Header.EventCount != len(polled) {
			t.Errorf("header = %+v", decoded.Header)
		}
		events, err := decoded.DecodeEvents()
		if err != nil {
			t.Fatalf("DecodeEvents: %v", err)
		}
		want := encodeAll(t, polled)
		for index, encoded := range encodeAll(t, events) {
			if encoded != want[index] {
				t.Errorf("transcript event %d differs", index)
			}
		}
	}

	response, body := env.request(t, http.MethodGet, "/v1/sessions/s1/transcript?compression=brotli", "", nil)
	expectError(t, response, body, http.StatusBadRequest, KindMalformedRequest)
}

func TestArchiveOnTeardown(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	archiver, err := transcript.NewArchiver(transcript.ArchiverConfig{
		Directory:   directory,
		Compression: transcript.CompressionZstd,
	})
	if err != nil {
		t.Fatalf("NewArchiver: %v", err)
	}
	env := newTestEnv(t, testOptions{onTeardown: ArchiveOnTeardown(archiver, nil)})
	env.createMock(t, "s/1")

	if err := env.client.SendMessage(t.Context(), "s/1", "keep"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := env.client.PollUntil(t.Context(), "s/1", 0, 10*time.Millisecond, countAtLeast(2)); err != nil {
		t.Fatalf("PollUntil: %v", err)
	}
	if err := env.client.DeleteSession(t.Context(), "s/1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(directory, "*"+transcript.Extension))
	if err != nil || len(matches) != 1 {
		t.Fatalf("archives = %v, %v; want one", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := transcript.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Header.SessionID != "s/1" || decoded.Header.EventCount != 2 || decoded.Header.Agent != agents.Mock {
		t.Errorf("archived header = %+v", decoded.Header)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{token: "s3cret"})

	response, body := env.request(t, http.MethodGet, "/v1/sessions", "", nil)
	expectError(t, response, body, http.StatusUnauthorized, KindUnauthorized)
	if response.Header.Get("WWW-Authenticate") == "" {
		t.Error("401 without WWW-Authenticate")
	}

	response, body = env.request(t, http.MethodGet, "/v1/sessions", "", http.Header{"Authorization": {"Bearer wrong"}})
	expectError(t, response, body, http.StatusUnauthorized, KindUnauthorized)

	// The client sends the configured token.
	env.createMock(t, "s1")
	sessions, err := env.client.ListSessions(t.Context())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testOptions{})
	env.createMock(t, "s1")
	env.createMock(t, "s2")

	if err := env.client.DeleteSession(t.Context(), "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	err := env.client.DeleteSession(t.Context(), "s1")
	if !client.IsKind(err, KindUnknownSession) {
		t.Errorf("second DeleteSession = %v", err)
	}

	sessions, err := env.client.ListSessions(t.Context())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s2" {
		t.Errorf("sessions = %+v, want s2", sessions)
	}

	// The ID is free again.
	env.createMock(t, "s1")
}

func TestNewHandlerPanicsOnMissingConfig(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("NewHandler did not panic")
		}
	}()
	NewHandler(Config{})
}
