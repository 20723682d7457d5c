// Package subprocess implements providers.Provider by invoking a local
// executable with the rendered prompt on stdin, capturing stdout as the
// reply. It is the sandboxed reference provider: every invocation runs
// through internal/sandbox, and commands are screened against a deny-list
// before they ever reach exec.Command, the same defense-in-depth posture
// the teacher applies in internal/tools/shell.go (deny-list first, sandbox
// second — neither alone is trusted).
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/omegaerr"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/sandbox"
)

// denyPatterns blocks the most common ways a prompt-injected command could
// escalate beyond "answer this message" — reverse shells, destructive file
// ops, credential dumping, and privilege escalation. This is a representative
// subset of the teacher's much larger denylist, not a replacement for it;
// the sandbox.Guard underneath is the layer that must actually hold.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\b(mount|umount)\b`),
}

// Config configures a subprocess provider.
type Config struct {
	Name       string
	Executable string
	Args       []string
	WorkingDir string
	Timeout    time.Duration
	Guard      *sandbox.Guard // nil disables sandbox wrapping (logged, not fatal)
}

// Provider runs a local executable as the LLM backend.
type Provider struct {
	cfg Config
}

// New creates a subprocess provider from cfg.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string         { return p.cfg.Name }
func (p *Provider) RequiresAPIKey() bool  { return false }
func (p *Provider) IsAvailable() bool {
	_, err := exec.LookPath(p.cfg.Executable)
	return err == nil
}

// Complete renders pctx and pipes it to the subprocess's stdin, returning
// its stdout as the reply text.
func (p *Provider) Complete(ctx context.Context, pctx promptctx.Context) (bus.OutgoingMessage, error) {
	start := time.Now()
	rendered := pctx.Rendered()

	if blocked := firstDenyMatch(rendered); blocked != "" {
		return bus.OutgoingMessage{}, omegaerr.Newf(omegaerr.Provider, "prompt content matched denied pattern %s", blocked)
	}

	if p.cfg.Guard != nil {
		if err := p.cfg.Guard.CheckRead(p.cfg.Executable); err != nil {
			return bus.OutgoingMessage{}, omegaerr.Wrap(omegaerr.Sandbox, "subprocess executable blocked by sandbox", err)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, p.cfg.Executable, p.cfg.Args...)
	cmd.Dir = p.cfg.WorkingDir
	cmd.Stdin = strings.NewReader(rendered)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return bus.OutgoingMessage{}, omegaerr.Wrap(omegaerr.Provider,
			fmt.Sprintf("subprocess %q failed: %s", p.cfg.Executable, strings.TrimSpace(stderr.String())), err)
	}

	return bus.OutgoingMessage{
		Content: strings.TrimSpace(stdout.String()),
		Metadata: map[string]string{
			"provider":       p.cfg.Name,
			"processing_ms":  fmt.Sprintf("%d", time.Since(start).Milliseconds()),
		},
	}, nil
}

func firstDenyMatch(text string) string {
	for _, pattern := range denyPatterns {
		if pattern.MatchString(text) {
			return pattern.String()
		}
	}
	return ""
}
