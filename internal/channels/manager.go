package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omegahq/gateway/internal/bus"
)

// Manager owns the registered channels' lifecycle and fans their inbound
// messages into one shared queue for the pipeline to consume.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	inbound  *bus.Queue
	cancels  map[string]context.CancelFunc
}

// NewManager creates a Manager that fans inbound messages from every
// registered channel into inbound.
func NewManager(inbound *bus.Queue) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		cancels:  make(map[string]context.CancelFunc),
		inbound:  inbound,
	}
}

// RegisterChannel adds a channel. It must be called before StartAll.
func (m *Manager) RegisterChannel(channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.Name()] = channel
}

// GetChannel returns a registered channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered channel and spawns one fan-in goroutine
// per channel that forwards its inbound messages into the shared queue.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		slog.Warn("channels: no channels registered")
		return nil
	}

	for name, ch := range m.channels {
		chCtx, cancel := context.WithCancel(ctx)
		inCh, err := ch.Start(chCtx)
		if err != nil {
			cancel()
			slog.Error("channels: failed to start channel", "channel", name, "error", err)
			continue
		}
		m.cancels[name] = cancel
		go m.fanIn(chCtx, name, inCh)
		slog.Info("channels: started", "channel", name)
	}
	return nil
}

func (m *Manager) fanIn(ctx context.Context, name string, inCh <-chan bus.IncomingMessage) {
	for {
		select {
		case msg, ok := <-inCh:
			if !ok {
				slog.Info("channels: inbound stream closed", "channel", name)
				return
			}
			if err := m.inbound.Push(ctx, msg); err != nil {
				slog.Warn("channels: dropping inbound message, queue push canceled", "channel", name, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// StopAll stops every registered channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, ch := range m.channels {
		if cancel, ok := m.cancels[name]; ok {
			cancel()
		}
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels: error stopping channel", "channel", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Send routes an outbound message to the named channel.
func (m *Manager) Send(ctx context.Context, channelName string, msg bus.OutgoingMessage) error {
	m.mu.RLock()
	ch, ok := m.channels[channelName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channels: unknown channel %q", channelName)
	}
	return ch.Send(ctx, msg)
}

// Push enqueues msg directly into the shared inbound queue, as if a
// registered channel had produced it. Used by the webhook's "ai" mode to
// inject a synthesized message without a real channel adapter.
func (m *Manager) Push(ctx context.Context, msg bus.IncomingMessage) error {
	return m.inbound.Push(ctx, msg)
}

// Pop dequeues the next fanned-in inbound message, blocking until one
// arrives or ctx is done. The composition root's consume loop drives the
// pipeline off this.
func (m *Manager) Pop(ctx context.Context) (bus.IncomingMessage, bool) {
	return m.inbound.Pop(ctx)
}

// Names returns the names of all registered channels.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
