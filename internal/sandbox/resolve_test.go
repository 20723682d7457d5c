package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReadBlockedAllowsWithinWorkspace(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "notes.txt"), []byte("hi"), 0o644))

	resolved, err := IsReadBlocked("notes.txt", ws, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, "notes.txt"), resolved)
}

func TestIsReadBlockedRejectsEscape(t *testing.T) {
	ws := t.TempDir()
	_, err := IsReadBlocked("../../../../etc/passwd", ws, nil, nil)
	assert.Error(t, err)
}

func TestIsReadBlockedRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	link := filepath.Join(ws, "link")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), link))

	_, err := IsReadBlocked("link", ws, nil, nil)
	assert.Error(t, err)
}

func TestIsReadBlockedDeniedPrefix(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".omega"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".omega", "state.db"), []byte("x"), 0o644))

	_, err := IsReadBlocked(".omega/state.db", ws, nil, []string{".omega"})
	assert.Error(t, err)
}

func TestIsReadBlockedAllowedPrefixRescuesOutsideAccess(t *testing.T) {
	ws := t.TempDir()
	skillsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(skillsDir, "skill.md"), []byte("#"), 0o644))

	resolved, err := IsReadBlocked(filepath.Join(skillsDir, "skill.md"), ws, []string{skillsDir}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(skillsDir, "skill.md"), resolved)
}

func TestIsWriteBlockedRespectsAccessLevel(t *testing.T) {
	ws := t.TempDir()

	_, err := IsWriteBlocked("out.txt", ws, AccessNone, nil, nil)
	assert.Error(t, err)

	_, err = IsWriteBlocked("out.txt", ws, AccessRO, nil, nil)
	assert.Error(t, err)

	resolved, err := IsWriteBlocked("out.txt", ws, AccessRW, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, "out.txt"), resolved)
}

func TestIsPathInsideComponentAware(t *testing.T) {
	assert.True(t, isPathInside("/workspace/sub", "/workspace"))
	assert.True(t, isPathInside("/workspace", "/workspace"))
	assert.False(t, isPathInside("/workspace-evil", "/workspace"))
	assert.False(t, isPathInside("/other", "/workspace"))
}

func TestGuardAppliesModeSemantics(t *testing.T) {
	off := NewGuard(t.TempDir(), Config{Mode: ModeOff})
	assert.False(t, off.Applies(true))
	assert.False(t, off.Applies(false))

	nonMain := NewGuard(t.TempDir(), Config{Mode: ModeNonMain})
	assert.False(t, nonMain.Applies(true))
	assert.True(t, nonMain.Applies(false))

	all := NewGuard(t.TempDir(), Config{Mode: ModeAll})
	assert.True(t, all.Applies(true))
	assert.True(t, all.Applies(false))
}
