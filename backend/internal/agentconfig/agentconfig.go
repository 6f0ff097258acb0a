// Package agentconfig reads the read-only TOML catalog that describes which
// coding-agent CLIs are available, how to invoke them, and which environment
// variables they require.
package agentconfig

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ModelSource says where an agent's model list comes from when neither a
// static list nor the config's default suffices.
type ModelSource string

const (
	// ModelSourceConfig means Models (below) is authoritative.
	ModelSourceConfig ModelSource = "config"
	// ModelSourceAppServer means the agent must be queried live for its
	// model list (e.g. over its app-server/ACP handshake).
	ModelSourceAppServer ModelSource = "app-server"
)

// Agent describes one entry under the top-level [[agent]] array.
type Agent struct {
	ID          string      `toml:"id"`
	DisplayName string      `toml:"display_name"`
	Command     string      `toml:"command"`
	Args        []string    `toml:"args"`
	RequiredEnv []string    `toml:"required_env"`
	DefaultPlan string      `toml:"default_plan_model"`
	DefaultExec string      `toml:"default_exec_model"`
	ModelSource ModelSource `toml:"model_source"`
	Models      []string    `toml:"models"`
}

// Catalog is the parsed [[agent]] array plus top-level metadata.
type Catalog struct {
	Version     int     `toml:"version"`
	MaxParallel int     `toml:"max_parallel"`
	Agents      []Agent `toml:"agent"`
}

// Load parses the TOML file at path into a Catalog.
func Load(path string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("agentconfig: load %s: %w", path, err)
	}
	return &c, nil
}

// Find returns the agent with the given id, or ok=false if absent.
func (c *Catalog) Find(id string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// SubstituteArgs replaces the {worktree} placeholder in each arg with cwd.
func SubstituteArgs(args []string, cwd string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "{worktree}", cwd)
	}
	return out
}

// Available reports whether the agent's command can be found (on PATH, or as
// an explicit path) and all of its required environment variables are set.
// Required env vars are checked here, at availability-query time, not at
// spawn time, so the UI can grey out an agent before a task ever tries it.
func Available(a Agent, env map[string]string) (bool, []string) {
	var missing []string
	for _, name := range a.RequiredEnv {
		if v, ok := env[name]; !ok || v == "" {
			if _, ok := os.LookupEnv(name); !ok {
				missing = append(missing, name)
			}
		}
	}
	if !commandResolvable(a.Command) {
		missing = append([]string{"command:" + a.Command}, missing...)
	}
	return len(missing) == 0, missing
}

func commandResolvable(command string) bool {
	if command == "" {
		return false
	}
	if filepath.IsAbs(command) {
		info, err := os.Stat(command)
		return err == nil && !info.IsDir()
	}
	_, err := exec.LookPath(command)
	return err == nil
}
