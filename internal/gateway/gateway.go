// Package gateway is the composition root: it wires config, store, channels,
// providers, and every background loop (pipeline, scheduler, summarizer,
// heartbeat, webhook) into one running process, and drives the graceful
// shutdown sequence from cmd/gateway.go's signal-handling goroutine,
// generalized from its ad hoc per-service Stop calls to a fixed ordering.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omegahq/gateway/internal/background"
	"github.com/omegahq/gateway/internal/build"
	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/channels/telegram"
	"github.com/omegahq/gateway/internal/channels/whatsapp"
	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/discovery"
	"github.com/omegahq/gateway/internal/pipeline"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/providers/subprocess"
	"github.com/omegahq/gateway/internal/sandbox"
	"github.com/omegahq/gateway/internal/scheduler"
	"github.com/omegahq/gateway/internal/store"
	"github.com/omegahq/gateway/internal/webhook"
)

// App owns every long-running component this gateway runs.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Channels  *channels.Manager
	Providers *providers.Registry

	pipeline   *pipeline.Pipeline
	scheduler  *scheduler.Scheduler
	summarizer *background.Summarizer
	heartbeat  *background.Heartbeat
	webhook    *webhook.Server
}

// inboundQueueCapacity bounds how many unprocessed messages can back up
// across all channels before a channel's Push starts blocking.
const inboundQueueCapacity = 64

// New wires a fully-constructed App from cfg. It opens the store, builds
// the provider registry and channel manager, and registers every channel
// the config enables — but does not start anything; call Run for that.
func New(cfg *config.Config) (*App, error) {
	st, err := store.Open(config.ExpandHome(cfg.Store.Path))
	if err != nil {
		return nil, fmt.Errorf("gateway: open store: %w", err)
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)

	queue := bus.NewQueue(inboundQueueCapacity)
	mgr := channels.NewManager(queue)

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token:          cfg.Channels.Telegram.Token,
			Proxy:          cfg.Channels.Telegram.Proxy,
			AllowFrom:      cfg.Channels.Telegram.AllowFrom,
			AuthEnabled:    cfg.Channels.Telegram.AuthEnabled,
			RateLimitPerS:  cfg.Channels.Telegram.RateLimitPerS,
			RateLimitBurst: cfg.Channels.Telegram.RateLimitBurst,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("gateway: construct telegram channel: %w", err)
		}
		mgr.RegisterChannel(ch)
	}

	if cfg.Channels.WhatsApp.Enabled {
		ch, err := whatsapp.New(whatsapp.Config{
			BridgeURL:      cfg.Channels.WhatsApp.BridgeURL,
			AllowFrom:      cfg.Channels.WhatsApp.AllowFrom,
			AuthEnabled:    cfg.Channels.WhatsApp.AuthEnabled,
			RateLimitPerS:  cfg.Channels.WhatsApp.RateLimitPerS,
			RateLimitBurst: cfg.Channels.WhatsApp.RateLimitBurst,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("gateway: construct whatsapp channel: %w", err)
		}
		mgr.RegisterChannel(ch)
	}

	discoveryEngine := &discovery.Engine{
		Store:        st,
		Providers:    registry,
		ProviderName: cfg.Gateway.DefaultProvider,
		DataDir:      config.ExpandHome(cfg.Build.WorkspaceDir),
	}

	topologyPath := config.ExpandHome(cfg.Build.TopologyPath)
	workspaceDir := config.ExpandHome(cfg.Build.WorkspaceDir)

	pipe := &pipeline.Pipeline{
		Config:    cfg,
		Store:     st,
		Channels:  mgr,
		Providers: registry,
		Discovery: discoveryEngine,
		NewBuildRunner: func(notify build.Notifier) *build.Runner {
			topology, err := build.LoadTopology(topologyPath)
			if err != nil {
				slog.Error("gateway: load build topology", "error", err)
				topology = build.DefaultTopology()
			}
			return &build.Runner{
				Topology:        topology,
				Providers:       registry,
				Store:           st,
				Workspace:       workspaceDir,
				FastProvider:    cfg.Build.FastProvider,
				ComplexProvider: cfg.Build.ComplexProvider,
				Notify:          notify,
			}
		},
	}

	sched := &scheduler.Scheduler{
		Store:        st,
		Channels:     mgr,
		Providers:    registry,
		ProviderName: cfg.Gateway.DefaultProvider,
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSecs) * time.Second,
	}

	summarizer := &background.Summarizer{
		Store:         st,
		Providers:     registry,
		ProviderName:  cfg.Gateway.DefaultProvider,
		IdleThreshold: time.Duration(cfg.Gateway.IdleTimeoutMins) * time.Minute,
	}

	ownerChannel, ownerChatID := resolveOwner(cfg, mgr)
	heartbeat := &background.Heartbeat{
		Channels:     mgr,
		Providers:    registry,
		ProviderName: cfg.Gateway.DefaultProvider,
		OwnerChannel: ownerChannel,
		OwnerChatID:  ownerChatID,
	}

	hook := webhook.New(cfg, mgr, st)

	return &App{
		Config:     cfg,
		Store:      st,
		Channels:   mgr,
		Providers:  registry,
		pipeline:   pipe,
		scheduler:  sched,
		summarizer: summarizer,
		heartbeat:  heartbeat,
		webhook:    hook,
	}, nil
}

// resolveOwner picks the first OwnerIDs entry and the first channel it
// appears allowed on as the heartbeat notification target. This
// is an Open Question resolution, not a spec-mandated parsing convention —
// see DESIGN.md's internal/background entry.
func resolveOwner(cfg *config.Config, mgr *channels.Manager) (channelName, chatID string) {
	if len(cfg.Gateway.OwnerIDs) == 0 {
		return "", ""
	}
	owner := cfg.Gateway.OwnerIDs[0]
	for _, name := range []string{"telegram", "whatsapp"} {
		if ch, ok := mgr.GetChannel(name); ok && ch.IsAllowed(owner) {
			return name, owner
		}
	}
	return "", ""
}

func registerProviders(registry *providers.Registry, cfg *config.Config) {
	sp := cfg.Providers.Subprocess
	if sp.Enabled {
		var guard *sandbox.Guard
		if cfg.Sandbox.Mode != "off" {
			guard = sandbox.NewGuard(config.ExpandHome(cfg.Build.WorkspaceDir), cfg.Sandbox.ToSandboxConfig())
		}
		registry.Register(subprocess.New(subprocess.Config{
			Name:       "subprocess",
			Executable: sp.Executable,
			Args:       sp.Args,
			Timeout:    time.Duration(sp.TimeoutSec) * time.Second,
			Guard:      guard,
		}))
	}
}

// Run starts every component and blocks until ctx is cancelled, then runs
// the graceful shutdown sequence: stop accepting new inbound messages,
// drain the in-flight pipeline call, summarize every open conversation,
// stop channels, and return once everything has wound down.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Channels.StartAll(runCtx); err != nil {
		return fmt.Errorf("gateway: start channels: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); a.consumeLoop(runCtx) }()
	go func() { defer wg.Done(); a.scheduler.Run(runCtx) }()
	go func() { defer wg.Done(); a.summarizer.Run(runCtx) }()
	go func() { defer wg.Done(); a.heartbeat.Run(runCtx) }()

	webhookErrCh := make(chan error, 1)
	go func() { webhookErrCh <- a.webhook.Run(runCtx) }()

	<-ctx.Done()
	slog.Info("gateway: shutdown initiated")

	cancel()
	wg.Wait()
	<-webhookErrCh

	a.summarizeActiveConversations(context.Background())

	if err := a.Channels.StopAll(context.Background()); err != nil {
		slog.Error("gateway: error stopping channels", "error", err)
	}
	if err := a.Store.Close(); err != nil {
		slog.Error("gateway: error closing store", "error", err)
	}

	slog.Info("gateway: shutdown complete")
	return nil
}

// consumeLoop is the pipeline's receive loop: pop one fanned-in inbound
// message at a time (preserving per-sender FIFO order, since every channel
// feeds the same shared queue) and run it through the pipeline.
func (a *App) consumeLoop(ctx context.Context) {
	for {
		msg, ok := a.Channels.Pop(ctx)
		if !ok {
			return
		}
		if err := a.pipeline.Process(ctx, msg); err != nil {
			slog.Error("gateway: pipeline error", "channel", msg.Channel, "sender", msg.SenderID, "error", err)
		}
	}
}

// summarizeActiveConversations runs one final summarizer sweep over every
// still-open conversation during shutdown, per the graceful-shutdown
// sequence's "summarize all active conversations" step. It passes a
// negative threshold (zero would fall back to the summarizer's default) so
// every open conversation qualifies, however recently it was active.
func (a *App) summarizeActiveConversations(ctx context.Context) {
	sweep := *a.summarizer
	sweep.IdleThreshold = -time.Hour
	sweep.SweepOnce(ctx)
}
