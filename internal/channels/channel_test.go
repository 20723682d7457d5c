package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyAllowlistDeniesAllWhenAuthEnabled(t *testing.T) {
	c := NewBaseChannel("test", true, nil)
	assert.False(t, c.IsAllowed("12345"))
	assert.False(t, c.IsAllowed("anyone"))
}

func TestEmptyAllowlistAllowsAllWhenAuthDisabled(t *testing.T) {
	c := NewBaseChannel("test", false, nil)
	assert.True(t, c.IsAllowed("12345"))
}

func TestAllowlistMatchesCompoundSenderID(t *testing.T) {
	c := NewBaseChannel("test", true, []string{"12345"})
	assert.True(t, c.IsAllowed("12345|alice"))
	assert.False(t, c.IsAllowed("99999|bob"))
}

func TestAllowlistMatchesUsernameEntry(t *testing.T) {
	c := NewBaseChannel("test", true, []string{"@alice"})
	assert.True(t, c.IsAllowed("12345|alice"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "he...", Truncate("hello", 2))
}
