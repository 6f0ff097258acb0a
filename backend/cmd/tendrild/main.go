// Command tendrild is the tendril daemon: it serves the HTTP API and
// supervises coding-agent sessions running against git worktrees.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/corvid-labs/tendril/internal/agent"
	"github.com/corvid-labs/tendril/internal/agent/claude"
	"github.com/corvid-labs/tendril/internal/agent/codex"
	"github.com/corvid-labs/tendril/internal/agentconfig"
	"github.com/corvid-labs/tendril/internal/container"
	"github.com/corvid-labs/tendril/internal/events"
	"github.com/corvid-labs/tendril/internal/server"
	"github.com/corvid-labs/tendril/internal/store"
	"github.com/corvid-labs/tendril/internal/task"
)

const clientName = "tendril"

// version is set at build time via -ldflags.
var version = "dev"

type flags struct {
	addr          string
	dbPath        string
	agentsConfig  string
	titleProvider string
	titleModel    string
	logLevel      string
	logJSON       bool
}

func main() {
	var f flags
	root := &cobra.Command{
		Use:     "tendrild",
		Short:   "Serve the tendril API and supervise coding-agent sessions",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	root.Flags().StringVar(&f.addr, "addr", ":7171", "HTTP listen address")
	root.Flags().StringVar(&f.dbPath, "db", "tendril.db", "path to the SQLite state file")
	root.Flags().StringVar(&f.agentsConfig, "agents-config", "agents.toml", "path to the agent catalog TOML")
	root.Flags().StringVar(&f.titleProvider, "title-provider", "", "genai provider for async title summaries, empty disables")
	root.Flags().StringVar(&f.titleModel, "title-model", "", "genai model for async title summaries")
	root.Flags().StringVar(&f.logLevel, "log-level", "info", "debug, info, warn, or error")
	root.Flags().BoolVar(&f.logJSON, "log-json", false, "emit JSON logs instead of the colorized console format")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("tendrild exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	setupLogging(f)

	catalog, err := agentconfig.Load(defaultAgentsConfigPath(f.agentsConfig))
	if err != nil {
		return fmt.Errorf("load agent catalog: %w", err)
	}

	st, err := store.Open(ctx, f.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Shutdown(context.Background())

	bus := events.NewBus()

	backends := map[string]agent.Backend{
		string(agent.Claude): &claude.Backend{},
		string(agent.Codex):  &codex.Backend{},
	}
	client := agent.ClientInfo{Name: clientName, Version: version}

	sup := task.NewSupervisor(st, bus, catalog, container.MD{}, backends, client)
	if err := sup.Restore(ctx); err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}

	srv := server.New(ctx, sup, bus, st, f.titleProvider, f.titleModel)
	slog.Info("tendrild starting", "addr", f.addr, "db", f.dbPath, "agents", f.agentsConfig)
	return srv.ListenAndServe(ctx, f.addr)
}

// setupLogging installs a tint-colorized console handler on a TTY, falling
// back to structured JSON for pipes, redirected files, and --log-json.
func setupLogging(f flags) {
	level := parseLevel(f.logLevel)

	if f.logJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}

	w := colorable.NewColorable(os.Stderr)
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		TimeFormat: "15:04:05",
	})))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// defaultAgentsConfigPath resolves agents.toml next to the executable when
// the working directory doesn't have one, so installed binaries still find
// their catalog.
func defaultAgentsConfigPath(configured string) string {
	if _, err := os.Stat(configured); err == nil {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		return configured
	}
	candidate := filepath.Join(filepath.Dir(exe), "agents.toml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return configured
}
