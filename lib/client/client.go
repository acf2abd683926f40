// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is a typed HTTP client for the sandbox-agent API.
//
// The client mirrors the server's wire format with its own request and
// response types, so programs driving a server do not import the
// server implementation. Events decode into [event.Event].
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/computesdk/sandbox-agent/lib/agents"
	"github.com/computesdk/sandbox-agent/lib/clock"
	"github.com/computesdk/sandbox-agent/lib/event"
	"github.com/computesdk/sandbox-agent/lib/netutil"
	"github.com/computesdk/sandbox-agent/lib/transcript"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:2468".
	// Required.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// HTTPClient defaults to a client with no overall timeout, since
	// event streams stay open indefinitely.
	HTTPClient *http.Client

	// Clock paces PollUntil. Defaults to the real clock.
	Clock clock.Clock
}

// Client talks to one sandbox-agent server. Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	clock      clock.Clock
}

func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	baseURL, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parsing base URL: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("client: base URL %q must be http or https", config.BaseURL)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		httpClient: config.HTTPClient,
		clock:      config.Clock,
	}, nil
}

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Kind, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func decodeAPIError(response *http.Response) error {
	body := netutil.ErrorBody(response.Body)
	var decoded struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err == nil && decoded.Error.Kind != "" {
		return &APIError{Status: response.StatusCode, Kind: decoded.Error.Kind, Message: decoded.Error.Message}
	}
	return &APIError{Status: response.StatusCode, Message: strings.TrimSpace(body)}
}

// Health checks that the server is up.
func (client *Client) Health(ctx context.Context) error {
	response, err := client.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("health: %w", decodeAPIError(response))
	}
	return nil
}

// AgentStatus is one entry of the agent listing.
type AgentStatus struct {
	ID          agents.ID  `json:"id"`
	Installed   bool       `json:"installed"`
	Path        string     `json:"path,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
}

// Agents lists every known agent and whether it is installed.
func (client *Client) Agents(ctx context.Context) ([]AgentStatus, error) {
	var result struct {
		Agents []AgentStatus `json:"agents"`
	}
	if err := client.getJSON(ctx, "/v1/agents", &result); err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return result.Agents, nil
}

// Install installs agent. Installing twice is not an error.
func (client *Client) Install(ctx context.Context, agent agents.ID) error {
	path := "/v1/agents/" + url.PathEscape(string(agent)) + "/install"
	if err := client.postNoContent(ctx, path, struct{}{}); err != nil {
		return fmt.Errorf("installing %s: %w", agent, err)
	}
	return nil
}

// CreateSessionRequest is the body of a session creation.
type CreateSessionRequest struct {
	Agent          agents.ID `json:"agent"`
	PermissionMode string    `json:"permissionMode,omitempty"`
}

// CreatedSession is returned by CreateSession.
type CreatedSession struct {
	ID              string    `json:"id"`
	Agent           agents.ID `json:"agent"`
	PermissionMode  string    `json:"permissionMode"`
	NativeSessionID string    `json:"native_session_id"`
}

// CreateSession creates session id.
func (client *Client) CreateSession(ctx context.Context, id string, request CreateSessionRequest) (*CreatedSession, error) {
	response, err := client.do(ctx, http.MethodPost, sessionPath(id), nil, request)
	if err != nil {
		return nil, fmt.Errorf("creating session %q: %w", id, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("creating session %q: %w", id, decodeAPIError(response))
	}
	var created CreatedSession
	if err := netutil.DecodeResponse(response.Body, &created); err != nil {
		return nil, fmt.Errorf("creating session %q: %w", id, err)
	}
	return &created, nil
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID              string    `json:"id"`
	Agent           agents.ID `json:"agent"`
	PermissionMode  string    `json:"permissionMode"`
	NativeSessionID string    `json:"native_session_id"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	LastEventID     uint64    `json:"last_event_id"`
	Turns           int       `json:"turns"`
	ActiveTurns     int       `json:"active_turns"`
}

func (client *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var result struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := client.getJSON(ctx, "/v1/sessions", &result); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return result.Sessions, nil
}

func (client *Client) GetSession(ctx context.Context, id string) (*SessionInfo, error) {
	var info SessionInfo
	if err := client.getJSON(ctx, sessionPath(id), &info); err != nil {
		return nil, fmt.Errorf("getting session %q: %w", id, err)
	}
	return &info, nil
}

// DeleteSession tears session id down. Open streams on it end.
func (client *Client) DeleteSession(ctx context.Context, id string) error {
	response, err := client.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
	if err != nil {
		return fmt.Errorf("deleting session %q: %w", id, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		return fmt.Errorf("deleting session %q: %w", id, decodeAPIError(response))
	}
	return nil
}

// SendMessage starts a turn. It returns once the server accepted the
// message; the reply arrives as events.
func (client *Client) SendMessage(ctx context.Context, id, message string) error {
	body := struct {
		Message string `json:"message"`
	}{message}
	if err := client.postNoContent(ctx, sessionPath(id)+"/messages", body); err != nil {
		return fmt.Errorf("sending message to %q: %w", id, err)
	}
	return nil
}

// Events returns up to limit events with IDs greater than offset. A
// limit of zero uses the server's default page size.
func (client *Client) Events(ctx context.Context, id string, offset uint64, limit int) ([]event.Event, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatUint(offset, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var result struct {
		Events []event.Event `json:"events"`
	}
	if err := client.getJSON(ctx, sessionPath(id)+"/events?"+query.Encode(), &result); err != nil {
		return nil, fmt.Errorf("polling events of %q: %w", id, err)
	}
	return result.Events, nil
}

// PollUntil polls from offset every interval, accumulating events,
// until done reports true for the accumulated slice or ctx ends.
func (client *Client) PollUntil(ctx context.Context, id string, offset uint64, interval time.Duration, done func([]event.Event) bool) ([]event.Event, error) {
	var collected []event.Event
	for {
		page, err := client.Events(ctx, id, offset, 0)
		if err != nil {
			return collected, err
		}
		if len(page) > 0 {
			collected = append(collected, page...)
			offset = page[len(page)-1].ID
			if done(collected) {
				return collected, nil
			}
			// A full page may mean more is waiting.
			continue
		}
		select {
		case <-client.clock.After(interval):
		case <-ctx.Done():
			return collected, ctx.Err()
		}
	}
}

// Transcript downloads a session's archive, decodes it and checks it
// against the digest the server reported. An empty compression lets
// the server choose.
func (client *Client) Transcript(ctx context.Context, id string, compression string) (*transcript.Transcript, transcript.Digest, error) {
	path := sessionPath(id) + "/transcript"
	if compression != "" {
		path += "?compression=" + url.QueryEscape(compression)
	}
	response, err := client.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, transcript.Digest{}, fmt.Errorf("downloading transcript of %q: %w", id, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, transcript.Digest{}, fmt.Errorf("downloading transcript of %q: %w", id, decodeAPIError(response))
	}

	archive, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, transcript.Digest{}, fmt.Errorf("downloading transcript of %q: %w", id, err)
	}
	decoded, digest, err := transcript.Decode(archive)
	if err != nil {
		return nil, transcript.Digest{}, fmt.Errorf("decoding transcript of %q: %w", id, err)
	}
	if reported := response.Header.Get("X-Transcript-Digest"); reported != "" && reported != digest.String() {
		return nil, transcript.Digest{}, fmt.Errorf("transcript of %q: digest %s does not match reported %s", id, digest, reported)
	}
	return decoded, digest, nil
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(id)
}

func (client *Client) getJSON(ctx context.Context, path string, result any) error {
	response, err := client.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeAPIError(response)
	}
	return netutil.DecodeResponse(response.Body, result)
}

func (client *Client) postNoContent(ctx context.Context, path string, body any) error {
	response, err := client.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNoContent {
		return decodeAPIError(response)
	}
	return nil
}

// do sends a request. path may carry a query string. A non-nil body is
// encoded as JSON.
func (client *Client) do(ctx context.Context, method, path string, header http.Header, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL.String()+path, reader)
	if err != nil {
		return nil, err
	}
	for name, values := range header {
		request.Header[name] = values
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if client.token != "" {
		request.Header.Set("Authorization", "Bearer "+client.token)
	}
	return client.httpClient.Do(request)
}
