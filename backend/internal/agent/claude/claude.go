// Package claude implements agent.Backend for a Claude-family coding CLI
// speaking an ACP-flavored JSON-RPC dialect over stdio.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/transport"
)

// Backend implements agent.Backend for the Claude CLI's ACP dialect.
type Backend struct {
	// Command is the executable name (overridable for tests).
	Command string
	// Args are passed to Command as-is; no other flags are added.
	Args []string
}

var _ agent.Backend = (*Backend)(nil)

func (b *Backend) Harness() agent.Harness { return agent.Claude }

// Models returns nil: Claude's model catalog comes from the child
// (model_source == "app-server"), fetched via FetchModels.
func (b *Backend) Models() []string { return nil }

func (b *Backend) SupportsImages() bool { return true }

func (b *Backend) Spawn(ctx context.Context, opts agent.SpawnOptions) (agent.Session, error) {
	cmd := b.Command
	if cmd == "" {
		cmd = "claude-code-acp"
	}
	args := append([]string{}, b.Args...)
	tr, err := transport.Start(ctx, cmd, args, opts.Dir, opts.Env)
	if err != nil {
		return nil, fmt.Errorf("claude: spawn: %w", err)
	}
	return &session{tr: tr, log: slog.With("harness", "claude")}, nil
}

// session implements agent.Session on top of a raw JSON-RPC transport.
type session struct {
	tr  *transport.Transport
	log *slog.Logger
}

var _ agent.Session = (*session)(nil)

func (s *session) Initialize(ctx context.Context, info agent.ClientInfo) error {
	_, err := s.tr.Request(ctx, "initialize", map[string]any{
		"protocolVersion": 1,
		"clientInfo":      map[string]string{"name": info.Name, "version": info.Version},
		"clientCapabilities": map[string]any{
			"fs": map[string]bool{"readTextFile": true, "writeTextFile": true},
		},
	})
	if err != nil {
		return fmt.Errorf("claude: initialize: %w", err)
	}
	return s.tr.Notify("initialized", map[string]any{})
}

func (s *session) SupportsLoadSession() bool { return true }

func (s *session) SessionNew(ctx context.Context, cwd string) (agent.SessionInfo, error) {
	raw, err := s.tr.Request(ctx, "session/new", map[string]any{"cwd": cwd, "mcpServers": []any{}})
	if err != nil {
		return agent.SessionInfo{}, fmt.Errorf("claude: session/new: %w", err)
	}
	var result struct {
		SessionID string   `json:"sessionId"`
		Models    []string `json:"availableModels"`
		Modes     []string `json:"availableModes"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return agent.SessionInfo{}, fmt.Errorf("claude: session/new result: %w", err)
	}
	return agent.SessionInfo{SessionID: result.SessionID, AvailableModels: result.Models, AvailableModes: result.Modes}, nil
}

func (s *session) SessionLoad(ctx context.Context, sessionID, cwd string) (agent.SessionInfo, error) {
	_, err := s.tr.Request(ctx, "session/load", map[string]any{"sessionId": sessionID, "cwd": cwd})
	if err != nil {
		// Callers must treat this as "fall back", not fatal.
		return agent.SessionInfo{}, fmt.Errorf("claude: session/load: %w", err)
	}
	return agent.SessionInfo{SessionID: sessionID, Restored: true}, nil
}

func (s *session) SessionSetMode(ctx context.Context, sessionID, mode string) error {
	if mode == "" {
		return nil
	}
	_, err := s.tr.Request(ctx, "session/set_mode", map[string]any{"sessionId": sessionID, "modeId": mode})
	return err
}

func (s *session) SessionSetModel(ctx context.Context, sessionID, model string) error {
	if model == "" {
		return nil
	}
	_, err := s.tr.Request(ctx, "session/set_model", map[string]any{"sessionId": sessionID, "modelId": model})
	return err
}

func (s *session) FetchModels(ctx context.Context) ([]string, error) {
	raw, err := s.tr.Request(ctx, "session/models", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

func (s *session) FetchModes(ctx context.Context) ([]string, error) {
	raw, err := s.tr.Request(ctx, "session/modes", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Modes []string `json:"modes"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result.Modes, nil
}

func (s *session) SendPermissionResponse(ctx context.Context, sessionID, requestID, decision string) error {
	// Answer the session/request_permission server request on its own id,
	// carried verbatim as an opaque JSON value.
	var id json.RawMessage
	if err := json.Unmarshal([]byte(requestID), &id); err != nil {
		id, _ = json.Marshal(requestID)
	}
	return s.tr.Respond(id, map[string]any{"decision": decision})
}

func (s *session) SendUserInputResponse(ctx context.Context, requestID string, answers map[string]agent.UserInputAnswer) error {
	flat := make(map[string]any, len(answers))
	for k, v := range answers {
		flat[k] = map[string]any{"answers": v.Answers}
	}
	// requestID is carried as an opaque JSON value so an originally-numeric
	// server id round-trips without becoming a string.
	var id json.RawMessage
	if err := json.Unmarshal([]byte(requestID), &id); err != nil {
		id, _ = json.Marshal(requestID)
	}
	return s.tr.Respond(id, map[string]any{"answers": flat})
}

func (s *session) Close() error {
	return s.tr.Shutdown()
}

// Turn is implemented in turn.go.
