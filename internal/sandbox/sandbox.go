// Package sandbox confines tool execution to a workspace boundary. It has
// two independent layers: a code-level path check that every tool call goes
// through regardless of platform, and an OS-level enforcer (Seatbelt on
// Darwin, Landlock on Linux) applied on top as defense in depth.
package sandbox

import (
	"log/slog"
	"os"
)

// Mode controls how aggressively the sandbox is applied.
type Mode string

const (
	ModeOff     Mode = "off"      // no sandboxing — direct host access
	ModeNonMain Mode = "non-main" // sandbox subagents and background tasks, not the main session
	ModeAll     Mode = "all"      // sandbox every tool call
)

// Access is the level of filesystem access granted to the workspace root.
type Access string

const (
	AccessNone Access = "none"
	AccessRO   Access = "ro"
	AccessRW   Access = "rw"
)

// Scope controls whether a sandbox profile is shared across calls.
type Scope string

const (
	ScopeSession Scope = "session" // one profile per conversation
	ScopeAgent   Scope = "agent"   // one profile per agent role
	ScopeShared  Scope = "shared"  // one profile for the whole process
)

// Config describes the sandbox policy for one workspace.
type Config struct {
	Mode            Mode
	WorkspaceAccess Access
	Scope           Scope
	AllowedPaths    []string // extra readable/writable prefixes outside the workspace
	DeniedPaths     []string // prefixes under the workspace that are always blocked
}

// DefaultConfig returns the conservative default: sandboxing off, read-write
// workspace access once enabled, session-scoped profiles.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeOff,
		WorkspaceAccess: AccessRW,
		Scope:           ScopeSession,
	}
}

// Guard is the code-level path boundary described in resolve.go, paired
// with an OS-level Enforcer applied on top when one is available for the
// current platform.
type Guard struct {
	workspace string
	cfg       Config
	enforcer  Enforcer
}

// NewGuard builds a Guard rooted at workspace. If no platform enforcer is
// available (or applying it fails), the Guard still works — it falls back
// to the code-level path check alone and logs a warning, matching the
// spec's requirement that unavailable OS enforcement degrades loudly
// rather than failing closed or pretending to be enforced.
func NewGuard(workspace string, cfg Config) *Guard {
	g := &Guard{workspace: workspace, cfg: cfg}
	if cfg.Mode == ModeOff {
		return g
	}
	enf, err := newPlatformEnforcer(workspace, cfg)
	if err != nil {
		slog.Warn("sandbox: OS-level enforcement unavailable, falling back to path checks only", "error", err)
		return g
	}
	g.enforcer = enf
	return g
}

// Enforced reports whether an OS-level enforcer is actually backing this
// Guard, as opposed to the code-level path check alone. Used by the
// doctor command to report sandbox profile availability honestly.
func (g *Guard) Enforced() bool {
	return g.enforcer != nil
}

// Applies reports whether call should be routed through the sandbox at all,
// given the configured Mode and whether it originates from the main session.
func (g *Guard) Applies(isMainSession bool) bool {
	switch g.cfg.Mode {
	case ModeOff:
		return false
	case ModeNonMain:
		return !isMainSession
	case ModeAll:
		return true
	default:
		return false
	}
}

// CheckRead validates a read against both the code-level path rules and,
// when present, the OS-level enforcer's profile.
func (g *Guard) CheckRead(path string) error {
	resolved, err := IsReadBlocked(path, g.workspace, g.cfg.AllowedPaths, g.cfg.DeniedPaths)
	if err != nil {
		return err
	}
	if g.enforcer != nil {
		return g.enforcer.CheckRead(resolved)
	}
	return nil
}

// CheckWrite validates a write against both the code-level path rules and,
// when present, the OS-level enforcer's profile.
func (g *Guard) CheckWrite(path string) error {
	resolved, err := IsWriteBlocked(path, g.workspace, g.cfg.WorkspaceAccess, g.cfg.AllowedPaths, g.cfg.DeniedPaths)
	if err != nil {
		return err
	}
	if g.enforcer != nil {
		return g.enforcer.CheckWrite(resolved)
	}
	return nil
}

// Close releases any OS-level resources (Seatbelt temp profiles, Landlock
// file descriptors) held by the enforcer.
func (g *Guard) Close() error {
	if g.enforcer == nil {
		return nil
	}
	return g.enforcer.Close()
}

// Enforcer is the OS-level confinement applied on top of the code-level
// path check. Implementations live in enforcer_darwin.go and
// enforcer_linux.go; enforcer_unsupported.go covers every other GOOS.
type Enforcer interface {
	CheckRead(resolvedPath string) error
	CheckWrite(resolvedPath string) error
	Close() error
}

func workspaceExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
