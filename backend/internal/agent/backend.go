package agent

import (
	"context"

	"github.com/corvid-labs/tendril/internal/cancel"
)

// ClientInfo identifies the harness to the child CLI during initialize.
type ClientInfo struct {
	Name    string
	Version string
}

// Attachment is one inline image ready to send with a turn.
type Attachment struct {
	MimeType string
	Data     []byte // raw bytes; adapters base64-encode as their wire format needs.
	FileName string
}

// Prompt is the outgoing content of one turn.
type Prompt struct {
	Text        string
	Attachments []Attachment
}

// SessionInfo is returned by SessionNew/SessionLoad.
type SessionInfo struct {
	SessionID       string
	Restored        bool // only meaningful for SessionLoad
	AvailableModels []string
	AvailableModes  []string
}

// TokenUsage reports a turn's token accounting. Adapters populate whatever
// subset the vendor reports; zero values mean "not reported".
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	ContextWindow int
}

// UserInputAnswer is one answered question from a UserInputRequest.
type UserInputAnswer struct {
	Answers []string
}

// TurnResult is what a completed (or cancelled) turn hands back to the
// supervisor.
type TurnResult struct {
	Messages    []Message
	Usage       *TokenUsage
	SessionID   string // updated session id, if the child assigned a new one
	Cancelled   bool
}

// Backend is the stateless, per-vendor factory: it knows how to spawn a
// fresh child process for a task and nothing else. Actual per-turn protocol
// operations are exposed by the Session it returns.
type Backend interface {
	// Harness identifies the vendor this Backend speaks to.
	Harness() Harness

	// Models lists the model names this backend's config declares
	// statically (model_source == "config"). Empty when the vendor
	// reports models itself (model_source == "app-server").
	Models() []string

	// SupportsImages reports whether turns may carry image attachments.
	SupportsImages() bool

	// Spawn launches the child process for opts and returns a live
	// Session bound to it. The returned Session has not yet been
	// initialized or bound to any agent session id.
	Spawn(ctx context.Context, opts SpawnOptions) (Session, error)
}

// SpawnOptions configures how a Backend launches its child process.
type SpawnOptions struct {
	Dir   string   // task working directory (isolated workspace)
	Env   []string // extra environment variables, "KEY=VALUE"
	Model string   // initial model, if the vendor accepts one at spawn
}

// Session is the live per-turn protocol contract a Backend.Spawn returns.
// Exactly one Session exists per in-memory agent.Session (task supervisor
// terminology); the task layer's Session wraps this with persistence,
// cancellation bookkeeping, and reconnection policy.
type Session interface {
	// Initialize performs whatever handshake the child requires.
	Initialize(ctx context.Context, info ClientInfo) error

	// SupportsLoadSession reports the capability for this vendor.
	SupportsLoadSession() bool

	// SessionNew starts a brand new agent session rooted at cwd.
	SessionNew(ctx context.Context, cwd string) (SessionInfo, error)

	// SessionLoad attempts to resume a previously issued agent session id.
	// Callers must treat a non-nil error as "fall back to history
	// injection", not as a fatal condition.
	SessionLoad(ctx context.Context, sessionID, cwd string) (SessionInfo, error)

	// SessionSetMode is best-effort; adapters that don't support modes
	// return nil.
	SessionSetMode(ctx context.Context, sessionID, mode string) error

	// SessionSetModel is best-effort.
	SessionSetModel(ctx context.Context, sessionID, model string) error

	// Turn runs one turn to completion (or cancellation), streaming
	// normalized updates to onUpdate as they arrive.
	Turn(ctx context.Context, sessionID string, p Prompt, tok cancel.Token, onUpdate func(StreamingUpdate)) (TurnResult, error)

	// FetchModels/FetchModes query the live child for its catalogs, for
	// vendors whose model_source is "app-server".
	FetchModels(ctx context.Context) ([]string, error)
	FetchModes(ctx context.Context) ([]string, error)

	// SendPermissionResponse answers a pending PermissionRequest.
	SendPermissionResponse(ctx context.Context, sessionID, requestID, decision string) error

	// SendUserInputResponse answers a pending UserInputRequest. The id
	// must be the server's original id byte-for-byte (number-vs-string
	// preserved).
	SendUserInputResponse(ctx context.Context, requestID string, answers map[string]UserInputAnswer) error

	// Close tears down the child process. Idempotent.
	Close() error
}
