package codex

import "encoding/json"

// JSON-RPC method names used by the Codex app-server dialect.
const (
	MethodThreadStarted = "thread/started"
	MethodTurnStarted   = "turn/started"
	MethodTurnCompleted = "turn/completed"
	MethodItemStarted   = "item/started"
	MethodItemUpdated   = "item/updated"
	MethodItemCompleted = "item/completed"
	MethodItemDelta     = "item/agentMessage/delta"
)

// Item type discriminants carried in ItemParams.Item.Type. The app-server
// dialect uses camelCase here, unlike record.go's exec --json snake_case.
const (
	ItemTypeCommandExecution = "commandExecution"
	ItemTypeMCPToolCall      = "mcpToolCall"
	ItemTypeAgentMessage     = "agentMessage"
	ItemTypeReasoning        = "reasoning"
	ItemTypePlan             = "plan"
	ItemTypeFileChange       = "fileChange"
	ItemTypeWebSearch        = "webSearch"
)

// JSONRPCMessage is the envelope shape for both notifications and responses
// emitted by the app-server over stdout.
type JSONRPCMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RPCErrorObject  `json:"error,omitempty"`
}

// IsResponse reports whether this message carries an id (and therefore a
// result or error) rather than being a notification.
func (m *JSONRPCMessage) IsResponse() bool { return m.ID != nil }

// RPCErrorObject is the JSON-RPC 2.0 error object shape.
type RPCErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ThreadStartedParams is the payload of a thread/started notification.
type ThreadStartedParams struct {
	Thread struct {
		ID  string `json:"id"`
		CWD string `json:"cwd"`
	} `json:"thread"`
}

// TurnCompletedParams is the payload of a turn/completed notification.
type TurnCompletedParams struct {
	ThreadID string `json:"threadId"`
	Turn     struct {
		ID     string `json:"id"`
		Status string `json:"status"` // completed, failed, interrupted, inProgress
		Error  *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"turn"`
}

// ItemParams is the payload shared by item/started, item/updated, and
// item/completed notifications.
type ItemParams struct {
	ThreadID string   `json:"threadId"`
	TurnID   string   `json:"turnId"`
	Item     ItemData `json:"item"`
}

// ItemData is the inner item object. Only the fields relevant to its Type
// are populated by the app-server.
type ItemData struct {
	ID               string             `json:"id"`
	Type             string             `json:"type"`
	Status           string             `json:"status"`
	Text             string             `json:"text,omitempty"`
	Summary          []string           `json:"summary,omitempty"`
	Command          string             `json:"command,omitempty"`
	AggregatedOutput *string            `json:"aggregatedOutput,omitempty"`
	ExitCode         *int               `json:"exitCode,omitempty"`
	Changes          []ItemFileChange   `json:"changes,omitempty"`
	Server           string             `json:"server,omitempty"`
	Tool             string             `json:"tool,omitempty"`
	Arguments        json.RawMessage    `json:"arguments,omitempty"`
	Result           *ItemToolResult    `json:"result,omitempty"`
	Error            *ItemToolError     `json:"error,omitempty"`
	Query            string             `json:"query,omitempty"`
}

// ItemFileChange is one entry of a fileChange item's Changes list.
type ItemFileChange struct {
	Path string `json:"path"`
	Kind struct {
		Type string `json:"type"` // add, update, delete
	} `json:"kind"`
	Diff string `json:"diff,omitempty"`
}

// ItemToolResult is the successful result of an mcpToolCall item.
type ItemToolResult struct {
	Content json.RawMessage `json:"content"`
}

// ItemToolError is the failure payload of an mcpToolCall item.
type ItemToolError struct {
	Message string `json:"message"`
}

// ItemDeltaParams is the payload of an item/agentMessage/delta notification.
type ItemDeltaParams struct {
	ThreadID string `json:"threadId"`
	TurnID   string `json:"turnId"`
	ItemID   string `json:"itemId"`
	Delta    string `json:"delta"`
}
