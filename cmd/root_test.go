package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["gateway"])
	assert.True(t, names["migrate"])
	assert.True(t, names["doctor"])
	assert.True(t, names["version"])
}

func TestResolveConfigPathDefaultsWhenUnset(t *testing.T) {
	old := cfgFile
	cfgFile = ""
	t.Cleanup(func() { cfgFile = old })

	t.Setenv("OMEGA_CONFIG", "")
	assert.Equal(t, "config.toml", resolveConfigPath())
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	old := cfgFile
	cfgFile = "/tmp/custom.toml"
	t.Cleanup(func() { cfgFile = old })

	assert.Equal(t, "/tmp/custom.toml", resolveConfigPath())
}
