package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegahq/gateway/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Build.TopologyPath = filepath.Join(t.TempDir(), "topology.toml")
	cfg.Build.WorkspaceDir = t.TempDir()
	cfg.Scheduler.PollIntervalSecs = 60
	cfg.Providers.Subprocess.Enabled = true
	cfg.Providers.Subprocess.Executable = "true"
	return cfg
}

func TestNewWiresAppWithoutChannels(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app)
	defer app.Store.Close()

	assert.Empty(t, app.Channels.Names())
	_, ok := app.Providers.Get("subprocess")
	assert.True(t, ok)
}

func TestRunStartsAndShutsDownCleanly(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestResolveOwnerWithNoOwnerIDsReturnsEmpty(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Store.Close()

	channelName, chatID := resolveOwner(cfg, app.Channels)
	assert.Empty(t, channelName)
	assert.Empty(t, chatID)
}
