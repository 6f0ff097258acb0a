// Package codex implements agent.Backend for Codex CLI's app-server
// JSON-RPC 2.0 dialect.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/transport"
)

// Backend implements agent.Backend for Codex CLI.
type Backend struct {
	// Command is the executable name (overridable for tests).
	Command string
	Args    []string
}

var _ agent.Backend = (*Backend)(nil)

func (b *Backend) Harness() agent.Harness { return agent.Codex }

// Models returns the model names this adapter's config declares statically:
// Codex's model_source is "config", not queried from the child.
func (b *Backend) Models() []string { return []string{"o4-mini", "codex-mini-latest"} }

// SupportsImages reports that Codex CLI does not accept image input.
func (b *Backend) SupportsImages() bool { return false }

func (b *Backend) Spawn(ctx context.Context, opts agent.SpawnOptions) (agent.Session, error) {
	cmd := b.Command
	if cmd == "" {
		cmd = "codex"
	}
	args := append(append([]string{}, b.Args...), "app-server")
	tr, err := transport.Start(ctx, cmd, args, opts.Dir, opts.Env)
	if err != nil {
		return nil, fmt.Errorf("codex: spawn: %w", err)
	}
	return &session{tr: tr, log: slog.With("harness", "codex")}, nil
}

// session implements agent.Session for the Codex app-server dialect.
type session struct {
	tr  *transport.Transport
	log *slog.Logger

	mu       sync.Mutex
	threadID string
}

var _ agent.Session = (*session)(nil)

func (s *session) Initialize(ctx context.Context, info agent.ClientInfo) error {
	_, err := s.tr.Request(ctx, "initialize", map[string]any{
		"client_info":  map[string]string{"name": info.Name, "version": info.Version},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("codex: initialize: %w", err)
	}
	return s.tr.Notify("initialized", nil)
}

func (s *session) SupportsLoadSession() bool { return true }

func (s *session) SessionNew(ctx context.Context, cwd string) (agent.SessionInfo, error) {
	raw, err := s.tr.Request(ctx, "thread/start", map[string]any{"cwd": cwd})
	if err != nil {
		return agent.SessionInfo{}, fmt.Errorf("codex: thread/start: %w", err)
	}
	id, err := extractThreadID(raw)
	if err != nil {
		return agent.SessionInfo{}, err
	}
	s.mu.Lock()
	s.threadID = id
	s.mu.Unlock()
	return agent.SessionInfo{SessionID: id}, nil
}

func (s *session) SessionLoad(ctx context.Context, sessionID, cwd string) (agent.SessionInfo, error) {
	raw, err := s.tr.Request(ctx, "thread/resume", map[string]any{"thread_id": sessionID, "cwd": cwd})
	if err != nil {
		// Callers must treat this as "fall back to history injection", not fatal.
		return agent.SessionInfo{}, fmt.Errorf("codex: thread/resume: %w", err)
	}
	id, err := extractThreadID(raw)
	if err != nil {
		id = sessionID
	}
	s.mu.Lock()
	s.threadID = id
	s.mu.Unlock()
	return agent.SessionInfo{SessionID: id, Restored: true}, nil
}

func extractThreadID(raw json.RawMessage) (string, error) {
	var result struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("codex: parse thread result: %w", err)
	}
	if result.Thread.ID == "" {
		return "", fmt.Errorf("codex: thread response missing thread.id")
	}
	return result.Thread.ID, nil
}

// SessionSetMode is a no-op: Codex has no mode concept distinct from model.
func (s *session) SessionSetMode(context.Context, string, string) error { return nil }

func (s *session) SessionSetModel(ctx context.Context, sessionID, model string) error {
	if model == "" {
		return nil
	}
	_, err := s.tr.Request(ctx, "thread/set_model", map[string]any{"thread_id": sessionID, "model": model})
	return err
}

// FetchModels/FetchModes: Codex's catalog is static (Backend.Models);
// nothing to query live.
func (s *session) FetchModels(context.Context) ([]string, error) { return nil, nil }
func (s *session) FetchModes(context.Context) ([]string, error)  { return nil, nil }

func (s *session) SendPermissionResponse(ctx context.Context, _, requestID, decision string) error {
	var id json.RawMessage
	if err := json.Unmarshal([]byte(requestID), &id); err != nil {
		id, _ = json.Marshal(requestID)
	}
	return s.tr.Respond(id, map[string]any{"decision": decision})
}

// SendUserInputResponse: the app-server dialect used here never issues a
// session/request_input-equivalent server request, so there is nothing to
// answer.
func (s *session) SendUserInputResponse(context.Context, string, map[string]agent.UserInputAnswer) error {
	return fmt.Errorf("codex: user input requests not supported")
}

func (s *session) Close() error { return s.tr.Shutdown() }

// Turn is implemented in turn.go.
