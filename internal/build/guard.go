package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/omegahq/gateway/internal/omegaerr"
)

// AgentFilesGuard writes every phase's agent definition into
// <workspace>/.claude/agents/ for the duration of a run, and guarantees
// removal on release — including on panic, via the caller's defer.
type AgentFilesGuard struct {
	dir string
}

// AcquireAgentFiles writes phase.AgentBody (and, if non-empty, the discovery
// agent body) into workspace's .claude/agents directory. The directory is
// created if missing; Release removes the whole directory, including any
// file in it that this guard did not write.
func AcquireAgentFiles(workspace string, phases []Phase, discoveryBody string) (*AgentFilesGuard, error) {
	dir := filepath.Join(workspace, ".claude", "agents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, omegaerr.Wrap(omegaerr.Io, "create agent files directory", err)
	}

	g := &AgentFilesGuard{dir: dir}
	for _, p := range phases {
		if err := writeAgentFile(dir, p.Name, p.AgentBody); err != nil {
			g.Release()
			return nil, err
		}
	}
	if discoveryBody != "" {
		if err := writeAgentFile(dir, "discovery", discoveryBody); err != nil {
			g.Release()
			return nil, err
		}
	}
	return g, nil
}

func writeAgentFile(dir, name, body string) error {
	path := filepath.Join(dir, name+".md")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		return omegaerr.Wrap(omegaerr.Io, fmt.Sprintf("write agent file %q", name), err)
	}
	return nil
}

// Release deletes the agent-files directory. Idempotent: calling it more
// than once, or on a directory already gone, is not an error.
func (g *AgentFilesGuard) Release() {
	if g == nil || g.dir == "" {
		return
	}
	_ = os.RemoveAll(g.dir)
}
