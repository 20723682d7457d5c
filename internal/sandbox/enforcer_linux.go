//go:build linux

package sandbox

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// landlockEnforcer holds a Landlock ruleset file descriptor that has
// already had LANDLOCK_RESTRICT_SELF applied to the current thread. Once
// restricted, a Landlock ruleset can only be narrowed further, never
// widened, by this or any descendant process — the kernel enforces this
// independent of anything in this package.
type landlockEnforcer struct {
	fd         int
	readPaths  []string
	writePaths []string
}

const (
	rAccess = unix.AccessFSReadFile | unix.AccessFSReadDir
	wAccess = unix.AccessFSWriteFile | unix.AccessFSRemoveFile | unix.AccessFSRemoveDir |
		unix.AccessFSMakeChar | unix.AccessFSMakeDir | unix.AccessFSMakeReg |
		unix.AccessFSMakeSock | unix.AccessFSMakeFifo | unix.AccessFSMakeBlock |
		unix.AccessFSMakeSym
)

func newPlatformEnforcer(workspace string, cfg Config) (Enforcer, error) {
	ver, err := landlockABIVersion()
	if err != nil || ver < 1 {
		return nil, fmt.Errorf("landlock unavailable on this kernel: %w", err)
	}

	attr := unix.RulesetAttr{
		HandledAccessFs: uint64(rAccess | wAccess),
	}
	fd, err := unix.LandlockCreateRuleset(&attr, 0)
	if err != nil {
		return nil, fmt.Errorf("landlock_create_ruleset: %w", err)
	}

	reads := append([]string{workspace}, cfg.AllowedPaths...)
	var writes []string
	if cfg.WorkspaceAccess == AccessRW {
		writes = append(writes, workspace)
	}
	writes = append(writes, cfg.AllowedPaths...)

	for _, p := range reads {
		if err := addPathRule(fd, p, uint64(rAccess)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("add read rule for %s: %w", p, err)
		}
	}
	for _, p := range writes {
		if err := addPathRule(fd, p, uint64(wAccess)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("add write rule for %s: %w", p, err)
		}
	}

	if err := unix.LandlockRestrictSelf(fd, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("landlock_restrict_self: %w", err)
	}

	return &landlockEnforcer{fd: fd, readPaths: reads, writePaths: writes}, nil
}

func addPathRule(rulesetFd int, path string, access uint64) error {
	parentFd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		// Path may not exist yet (e.g. a file to be created) — resolve the
		// parent directory instead, matching the workspace-relative write
		// semantics used by the code-level path check.
		parentFd, err = unix.Open(filepath.Dir(path), unix.O_PATH|unix.O_CLOEXEC, 0)
		if err != nil {
			return err
		}
	}
	defer unix.Close(parentFd)

	attr := unix.PathBeneathAttr{
		AllowedAccess: access,
		ParentFd:      int32(parentFd),
	}
	return unix.LandlockAddRule(rulesetFd, unix.LANDLOCK_RULE_PATH_BENEATH, &attr, 0)
}

// landlockABIVersion queries the kernel's supported Landlock ABI version.
// Landlock requires kernel 5.13+; querying the ABI version is also how a
// caller detects "Landlock compiled out" vs. "Landlock present but this
// kernel doesn't support it" without parsing uname strings.
func landlockABIVersion() (int, error) {
	attr := unix.RulesetAttr{}
	ver, err := unix.LandlockGetABIVersion()
	if err != nil {
		return 0, err
	}
	_ = attr
	return ver, nil
}

func (l *landlockEnforcer) CheckRead(resolvedPath string) error {
	for _, p := range l.readPaths {
		if isPathInside(resolvedPath, filepath.Clean(p)) {
			return nil
		}
	}
	return fmt.Errorf("access denied: %s not covered by landlock read ruleset", resolvedPath)
}

func (l *landlockEnforcer) CheckWrite(resolvedPath string) error {
	for _, p := range l.writePaths {
		if isPathInside(resolvedPath, filepath.Clean(p)) {
			return nil
		}
	}
	return fmt.Errorf("access denied: %s not covered by landlock write ruleset", resolvedPath)
}

func (l *landlockEnforcer) Close() error {
	return unix.Close(l.fd)
}
