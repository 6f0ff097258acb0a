// Package server provides the HTTP API fronting the session supervisor.
// The window/UI layer that consumes this API is an external collaborator
// and out of scope here.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/corvid-labs/tendril/internal/events"
	"github.com/corvid-labs/tendril/internal/server/dto"
	v1 "github.com/corvid-labs/tendril/internal/server/dto/v1"
	"github.com/corvid-labs/tendril/internal/store"
	"github.com/corvid-labs/tendril/internal/task"
)

// marshalSSE encodes an SSE payload as JSON.
func marshalSSE(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Server is the HTTP server fronting the session supervisor and event bus.
type Server struct {
	ctx      context.Context // server lifetime; outlives individual requests
	sup      *task.Supervisor
	bus      *events.Bus
	store    *store.Store
	titleGen *titleGenerator
}

// New creates a new Server. titleProvider/titleModel configure the optional
// async title summarizer; an empty provider disables it.
func New(ctx context.Context, sup *task.Supervisor, bus *events.Bus, st *store.Store, titleProvider, titleModel string) *Server {
	return &Server{
		ctx:      ctx,
		sup:      sup,
		bus:      bus,
		store:    st,
		titleGen: newTitleGenerator(ctx, titleProvider, titleModel),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", handle(s.handleCreateTask))
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}/events", s.handleTaskEvents)
	mux.HandleFunc("POST /api/v1/tasks/{id}/input", handle(s.handleSendInput))
	mux.HandleFunc("POST /api/v1/tasks/{id}/stop", handle(s.handleStop))
	mux.HandleFunc("POST /api/v1/tasks/{id}/kill", handle(s.handleKill))
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/v1/tasks/{id}/diff", s.handleDiff)
	mux.HandleFunc("POST /api/v1/tasks/{id}/user-input/{requestId}", handle(s.handleUserInputAnswer))

	srv := &http.Server{
		Addr:              addr,
		Handler:           compressMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	slog.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	snaps := s.sup.List()
	out := make([]v1.TaskJSON, len(snaps))
	for i, snap := range snaps {
		out[i] = toV1TaskJSON(snap)
	}
	writeJSONResponse(w, &out, nil)
}

func (s *Server) handleCreateTask(ctx context.Context, r *http.Request, req *v1.CreateTaskReq) (*v1.CreateTaskResp, error) {
	t, err := s.sup.Create(ctx, string(req.Harness), req.Model, req.InitialPrompt.Text, req.Repo)
	if err != nil {
		return nil, err
	}

	// Provisioning and the first turn run against the server's lifetime
	// context, not the request's, since both outlive the HTTP response.
	bgCtx := s.ctx
	go func() {
		if err := s.sup.Provision(bgCtx, t.ID, []string{"tendril.task=" + t.ID}); err != nil {
			slog.Warn("provision task worktree", "task", t.ID, "err", err)
		}
	}()
	go func() {
		if err := s.sup.Start(bgCtx, t.ID); err != nil {
			slog.Warn("start task", "task", t.ID, "err", err)
			return
		}
		s.maybeGenerateTitle(t.ID, req.InitialPrompt.Text)
	}()

	return &v1.CreateTaskResp{ID: t.ID}, nil
}

// maybeGenerateTitle waits for the task's first turn to reach a terminal
// status, then fills in an async summary title if one isn't set.
func (s *Server) maybeGenerateTitle(taskID, originalPrompt string) {
	if s.titleGen.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ch, unsub := s.bus.Subscribe(ctx, taskID)
	defer unsub()
	for ev := range ch {
		if ev.Kind != events.StatusUpdate {
			continue
		}
		switch task.Status(ev.State) {
		case task.StatusCompleted, task.StatusError, task.StatusStopped:
		default:
			continue
		}
		messages, err := s.store.ListMessages(ctx, taskID)
		if err != nil {
			slog.Warn("title generation: load messages", "task", taskID, "err", err)
			return
		}
		title := s.titleGen.generate(ctx, taskID, originalPrompt, messages)
		if title == "" {
			return
		}
		if err := s.sup.SetTitle(ctx, taskID, title); err != nil {
			slog.Warn("title generation: persist title", "task", taskID, "err", err)
		}
		return
	}
}

// handleTaskEvents streams the fanned-out UI event contract as SSE.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sup.Snapshot(id); !ok {
		writeError(w, dto.NotFound("task "+id))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, dto.InternalError("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsub := s.bus.Subscribe(r.Context(), id)
	defer unsub()

	idx := 0
	for ev := range ch {
		msg := v1.EventMessage{Kind: eventKindName(ev.Kind), TaskID: id, Payload: ev}
		data, err := marshalSSE(msg)
		if err != nil {
			slog.Warn("marshal SSE event", "err", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\nid: %d\n\n", data, idx); err != nil {
			return
		}
		flusher.Flush()
		idx++
	}
}

func (s *Server) handleSendInput(ctx context.Context, r *http.Request, req *v1.InputReq) (*v1.StatusResp, error) {
	id := r.PathValue("id")
	if _, ok := s.sup.Snapshot(id); !ok {
		return nil, dto.NotFound("task " + id)
	}
	if err := s.sup.Send(ctx, id, req.Prompt.Text, nil); err != nil {
		return nil, err
	}
	return &v1.StatusResp{Status: "sent"}, nil
}

func (s *Server) handleStop(ctx context.Context, r *http.Request, _ *v1.EmptyReq) (*v1.StatusResp, error) {
	id := r.PathValue("id")
	if err := s.sup.SoftStop(id); err != nil {
		return nil, err
	}
	return &v1.StatusResp{Status: "stopping"}, nil
}

func (s *Server) handleKill(ctx context.Context, r *http.Request, _ *v1.EmptyReq) (*v1.StatusResp, error) {
	id := r.PathValue("id")
	if err := s.sup.HardStop(ctx, id); err != nil {
		return nil, err
	}
	return &v1.StatusResp{Status: "stopped"}, nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sup.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, &v1.StatusResp{Status: "deleted"}, nil)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stat, err := s.sup.Diff(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, &v1.DiffResp{Stat: stat}, nil)
}

func (s *Server) handleUserInputAnswer(ctx context.Context, r *http.Request, req *v1.UserInputAnswerReq) (*v1.StatusResp, error) {
	id := r.PathValue("id")
	requestID := r.PathValue("requestId")
	if err := s.sup.AnswerUserInput(ctx, id, requestID, req.Answers); err != nil {
		return nil, err
	}
	return &v1.StatusResp{Status: "answered"}, nil
}

// toV1TaskJSON converts a task.Snapshot to the wire representation.
func toV1TaskJSON(snap task.Snapshot) v1.TaskJSON {
	return v1.TaskJSON{
		ID:             snap.ID,
		Harness:        v1.Harness(snap.AgentID),
		Model:          snap.Model,
		Prompt:         snap.Prompt,
		Repo:           "",
		Branch:         snap.Branch,
		WorktreePath:   snap.WorktreePath,
		Status:         string(snap.Status),
		CostUSD:        snap.CostUSD,
		TotalTokens:    snap.TotalTokens,
		ContextWindow:  snap.ContextWindow,
		Title:          snap.Title,
		AgentSessionID: snap.AgentSessionID,
	}
}

// eventKindName renders an events.Kind as the string the frontend switches
// on, one word per entry in the UI event contract.
func eventKindName(k events.Kind) string {
	switch k {
	case events.AddTask:
		return "AddTask"
	case events.StatusUpdate:
		return "StatusUpdate"
	case events.CostUpdate:
		return "CostUpdate"
	case events.TokenUsageUpdate:
		return "TokenUsageUpdate"
	case events.TitleUpdate:
		return "TitleUpdate"
	case events.BranchUpdate:
		return "BranchUpdate"
	case events.ChatLogUpdate:
		return "ChatLogUpdate"
	case events.ChatLogStreaming:
		return "ChatLogStreaming"
	case events.ChatLogStatus:
		return "ChatLogStatus"
	case events.GenerationStopped:
		return "GenerationStopped"
	case events.AvailableCommands:
		return "AvailableCommands"
	default:
		return "Unknown"
	}
}
