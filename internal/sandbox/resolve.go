package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// IsReadBlocked resolves path against workspace and returns an error if the
// read should be denied — either because it escapes the workspace boundary
// (including via symlink or hardlink tricks) or because it falls under an
// explicitly denied prefix. On success it returns the canonical resolved
// path, which callers should use for the actual I/O and for any further
// OS-level check, so that the TOCTOU window between check and use is as
// small as possible.
func IsReadBlocked(path, workspace string, allowedPrefixes, deniedPrefixes []string) (string, error) {
	resolved, err := resolveWithin(path, workspace, true)
	if err != nil {
		if allowed := resolveAgainstAllowed(path, allowedPrefixes); allowed != "" {
			return allowed, nil
		}
		slog.Warn("sandbox: read denied", "path", path, "workspace", workspace)
		return "", err
	}
	if err := checkDenied(resolved, workspace, deniedPrefixes); err != nil {
		return "", err
	}
	return resolved, nil
}

// IsWriteBlocked is IsReadBlocked plus the workspace-access gate: a write is
// always blocked when WorkspaceAccess is AccessNone or AccessRO, regardless
// of path.
func IsWriteBlocked(path, workspace string, access Access, allowedPrefixes, deniedPrefixes []string) (string, error) {
	if access == AccessNone || access == AccessRO {
		return "", fmt.Errorf("access denied: workspace is not writable (%s)", access)
	}
	return IsReadBlocked(path, workspace, allowedPrefixes, deniedPrefixes)
}

// resolveWithin resolves path relative to workspace and, when restrict is
// true, canonicalizes both sides (following symlinks) and rejects anything
// that escapes the workspace boundary, including via a broken symlink whose
// target — or whose target's own intermediate symlinks — point outside it.
func resolveWithin(path, workspace string, restrict bool) (string, error) {
	var joined string
	if filepath.IsAbs(path) {
		joined = filepath.Clean(path)
	} else {
		joined = filepath.Clean(filepath.Join(workspace, path))
	}

	if !restrict {
		return joined, nil
	}

	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}

	absTarget, _ := filepath.Abs(joined)
	real, err := filepath.EvalSymlinks(absTarget)
	if err != nil {
		if os.IsNotExist(err) {
			real, err = resolveMissing(absTarget, wsReal)
			if err != nil {
				return "", err
			}
		} else {
			slog.Warn("sandbox: path resolve failed", "path", path, "error", err)
			return "", fmt.Errorf("access denied: cannot resolve path")
		}
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("sandbox: path escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", fmt.Errorf("access denied: path outside workspace")
	}
	if hasMutableSymlinkParent(real) {
		slog.Warn("sandbox: mutable symlink parent", "path", path, "resolved", real)
		return "", fmt.Errorf("access denied: path contains mutable symlink component")
	}
	if err := checkHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

// resolveMissing handles a path that doesn't exist yet: either it's a
// broken symlink (which must still be validated against its target) or a
// genuinely absent file under an existing parent.
func resolveMissing(absTarget, wsReal string) (string, error) {
	if linfo, lerr := os.Lstat(absTarget); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absTarget)
		if readErr != nil {
			return "", fmt.Errorf("access denied: cannot resolve symlink")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(absTarget), target)
		}
		target = filepath.Clean(target)

		resolved, err := resolveThroughExistingAncestors(target)
		if err != nil {
			return "", fmt.Errorf("access denied: cannot resolve broken symlink target")
		}
		if !isPathInside(resolved, wsReal) {
			return "", fmt.Errorf("access denied: broken symlink target outside workspace")
		}
		return resolved, nil
	}

	parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absTarget))
	if parentErr != nil {
		return "", fmt.Errorf("access denied: cannot resolve path")
	}
	return filepath.Join(parentReal, filepath.Base(absTarget)), nil
}

// resolveThroughExistingAncestors canonicalizes the deepest existing
// ancestor of target and rebuilds the remaining (non-existent) components
// on top of it, so a chain of symlinks whose final hop doesn't exist is
// still checked against its fully-resolved intermediate path.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

func resolveAgainstAllowed(path string, allowedPrefixes []string) string {
	absPath, _ := filepath.Abs(filepath.Clean(path))
	real, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absPath))
		if parentErr != nil {
			return ""
		}
		real = filepath.Join(parentReal, filepath.Base(absPath))
	}
	for _, prefix := range allowedPrefixes {
		absPrefix, _ := filepath.Abs(prefix)
		prefixReal, err := filepath.EvalSymlinks(absPrefix)
		if err != nil {
			prefixReal = absPrefix
		}
		if isPathInside(real, prefixReal) {
			return real
		}
	}
	return ""
}

// checkDenied rejects paths under any workspace-relative denied prefix,
// e.g. ".omega" to hide the gateway's own state directory from tools.
func checkDenied(resolved, workspace string, deniedPrefixes []string) error {
	if len(deniedPrefixes) == 0 {
		return nil
	}
	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace
	}
	for _, prefix := range deniedPrefixes {
		denied := filepath.Join(wsReal, prefix)
		if isPathInside(resolved, denied) {
			return fmt.Errorf("access denied: path %s is restricted", prefix)
		}
	}
	return nil
}

// isPathInside reports whether child is inside or equal to parent,
// comparing canonicalized paths component-wise via the OS separator so
// "/workspace-evil" is never mistaken for a child of "/workspace".
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// hasMutableSymlinkParent reports whether any path component is a symlink
// whose parent directory the process can write to — such a symlink could
// be swapped between this check and the actual file operation.
func hasMutableSymlinkParent(path string) bool {
	components := strings.Split(filepath.Clean(path), string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

// checkHardlink rejects regular files with more than one hard link, since a
// second link elsewhere on the filesystem can bypass the workspace
// boundary entirely for writes made through the original path.
func checkHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Nlink > 1 {
			slog.Warn("sandbox: hardlink rejected", "path", path, "nlink", stat.Nlink)
			return fmt.Errorf("access denied: hardlinked file not allowed")
		}
	}
	return nil
}
