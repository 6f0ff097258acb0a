// Package v1 holds the version-1 wire types and the Route table a code
// generator reads to emit typed TypeScript/Kotlin API clients.
package v1

import (
	"github.com/corvid-labs/tendril/internal/agent"
)

// Harness identifies which agent CLI a task runs under.
type Harness string

const (
	HarnessClaude Harness = "claude"
	HarnessCodex  Harness = "codex"
)

// ImageData is one inline image attached to a prompt, base64-encoded over
// the wire.
type ImageData struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

// Prompt is the user-supplied content of a turn.
type Prompt struct {
	Text   string      `json:"text"`
	Images []ImageData `json:"images,omitempty"`
}

// EmptyReq is used for endpoints that take no request body.
type EmptyReq struct{}

// TaskJSON is the JSON representation of a task snapshot sent to the
// frontend.
type TaskJSON struct {
	ID             string  `json:"id"`
	Harness        Harness `json:"harness"`
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	Repo           string  `json:"repo"`
	Branch         string  `json:"branch,omitempty"`
	WorktreePath   string  `json:"worktreePath,omitempty"`
	Status         string  `json:"status"`
	CostUSD        float64 `json:"costUsd"`
	TotalTokens    int64   `json:"totalTokens"`
	ContextWindow  int64   `json:"contextWindow"`
	Title          string  `json:"title,omitempty"`
	AgentSessionID string  `json:"agentSessionId,omitempty"`
}

// CreateTaskReq is the request body for POST /api/v1/tasks.
type CreateTaskReq struct {
	Repo          string  `json:"repo"`
	Harness       Harness `json:"harness"`
	Model         string  `json:"model,omitempty"`
	InitialPrompt Prompt  `json:"initialPrompt"`
}

// CreateTaskResp is the response body for POST /api/v1/tasks.
type CreateTaskResp struct {
	ID string `json:"id"`
}

// InputReq is the request body for POST /api/v1/tasks/{id}/input.
type InputReq struct {
	Prompt Prompt `json:"prompt"`
}

// StatusResp is a common response for mutation endpoints.
type StatusResp struct {
	Status string `json:"status"`
}

// DiffResp carries a task's working-tree diff summary.
type DiffResp struct {
	Stat agent.DiffStat `json:"stat"`
}

// UserInputAnswerReq is the request body for
// POST /api/v1/tasks/{id}/user-input/{requestId}.
type UserInputAnswerReq struct {
	Answers map[string][]string `json:"answers"`
}

// EventMessage is the SSE payload wrapping one fanned-out UI event.
type EventMessage struct {
	Kind    string `json:"kind"`
	TaskID  string `json:"taskId"`
	Payload any    `json:"payload"`
}
