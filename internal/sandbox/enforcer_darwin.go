//go:build darwin

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// seatbeltEnforcer shells out to sandbox-exec for any command the caller
// wraps with Wrap; CheckRead/CheckWrite are advisory pre-checks so a denied
// path can be rejected with a clear error before a subprocess is even
// spawned, rather than surfacing as an opaque sandbox-exec failure.
type seatbeltEnforcer struct {
	profilePath string
	readPaths   []string
	writePaths  []string
}

func newPlatformEnforcer(workspace string, cfg Config) (Enforcer, error) {
	if _, err := exec.LookPath("sandbox-exec"); err != nil {
		return nil, fmt.Errorf("sandbox-exec not found in PATH: %w", err)
	}

	reads := append([]string{workspace}, cfg.AllowedPaths...)
	var writes []string
	if cfg.WorkspaceAccess == AccessRW {
		writes = append(writes, workspace)
	}
	writes = append(writes, cfg.AllowedPaths...)

	profile := buildSeatbeltProfile(reads, writes)
	f, err := os.CreateTemp("", "omega-sandbox-*.sb")
	if err != nil {
		return nil, fmt.Errorf("create seatbelt profile: %w", err)
	}
	if _, err := f.WriteString(profile); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write seatbelt profile: %w", err)
	}
	f.Close()

	return &seatbeltEnforcer{profilePath: f.Name(), readPaths: reads, writePaths: writes}, nil
}

// buildSeatbeltProfile generates a minimal Seatbelt (sandbox-exec) profile:
// deny everything by default, then re-allow the specific subpaths the
// workspace policy requires.
func buildSeatbeltProfile(readPaths, writePaths []string) string {
	var b strings.Builder
	b.WriteString("(version 1)\n(deny default)\n(allow process-fork)\n(allow process-exec)\n")
	for _, p := range readPaths {
		fmt.Fprintf(&b, "(allow file-read* (subpath %q))\n", filepath.Clean(p))
	}
	for _, p := range writePaths {
		fmt.Fprintf(&b, "(allow file-write* (subpath %q))\n", filepath.Clean(p))
	}
	return b.String()
}

// Wrap returns an *exec.Cmd that runs name/args under this profile via
// sandbox-exec -f <profile>.
func (s *seatbeltEnforcer) Wrap(name string, args ...string) *exec.Cmd {
	full := append([]string{"-f", s.profilePath, name}, args...)
	return exec.Command("sandbox-exec", full...)
}

func (s *seatbeltEnforcer) CheckRead(resolvedPath string) error {
	for _, p := range s.readPaths {
		if isPathInside(resolvedPath, filepath.Clean(p)) {
			return nil
		}
	}
	return fmt.Errorf("access denied: %s not covered by sandbox read profile", resolvedPath)
}

func (s *seatbeltEnforcer) CheckWrite(resolvedPath string) error {
	for _, p := range s.writePaths {
		if isPathInside(resolvedPath, filepath.Clean(p)) {
			return nil
		}
	}
	return fmt.Errorf("access denied: %s not covered by sandbox write profile", resolvedPath)
}

func (s *seatbeltEnforcer) Close() error {
	if s.profilePath == "" {
		return nil
	}
	return os.Remove(s.profilePath)
}
