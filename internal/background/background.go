// Package background runs the gateway's two independent low-frequency
// loops: the Summarizer, which closes idle conversations and extracts
// durable facts from them, and the Heartbeat, a liveness probe delivered
// to the owner whenever it doesn't report itself healthy. Both are
// grounded on the teacher's cmd/gateway_cron.go ticker-loop shape.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

const (
	defaultSummarizerInterval = 60 * time.Second
	defaultIdleThreshold      = 30 * time.Minute
	defaultHeartbeatInterval  = 5 * time.Minute
)

const summarizeSystemPrompt = "Summarize the conversation below in 1-2 sentences."
const factExtractSystemPrompt = "Extract durable facts worth remembering from the conversation below. " +
	"Reply with one \"key: value\" pair per line, or the single word \"none\" if there is nothing worth keeping."

// Summarizer closes conversations idle for at least IdleThreshold,
// recording a short summary and any extracted facts.
type Summarizer struct {
	Store         *store.Store
	Providers     *providers.Registry
	ProviderName  string
	IdleThreshold time.Duration
	Interval      time.Duration
}

// Run blocks, polling every s.Interval until ctx is cancelled.
func (s *Summarizer) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSummarizerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// SweepOnce runs one idle-conversation sweep immediately, outside the
// regular Interval ticker. Used by the composition root's shutdown
// sequence to summarize every still-open conversation before exit.
func (s *Summarizer) SweepOnce(ctx context.Context) {
	s.sweepOnce(ctx)
}

func (s *Summarizer) sweepOnce(ctx context.Context) {
	threshold := s.IdleThreshold
	if threshold == 0 {
		threshold = defaultIdleThreshold
	}
	idle, err := s.Store.FindIdleConversations(threshold)
	if err != nil {
		slog.Error("background: failed to load idle conversations", "error", err)
		return
	}
	for _, conv := range idle {
		s.closeOne(ctx, conv)
	}
}

func (s *Summarizer) closeOne(ctx context.Context, conv store.Conversation) {
	prov, ok := s.provider()
	if !ok {
		slog.Warn("background: no provider available to summarize conversation", "conversation_id", conv.ID)
		return
	}

	pctx, err := s.Store.BuildContext(conv.Sender, "", store.ContextParams{HistoryLimit: 200})
	if err != nil {
		slog.Error("background: failed to load conversation history", "conversation_id", conv.ID, "error", err)
		return
	}
	transcript := renderTranscript(pctx.History)
	if transcript == "" {
		_ = s.Store.CloseConversation(conv.ID, "")
		return
	}

	summary := s.ask(ctx, prov, conv.Sender, summarizeSystemPrompt, transcript)
	if err := s.Store.CloseConversation(conv.ID, strings.TrimSpace(summary)); err != nil {
		slog.Error("background: failed to close conversation", "conversation_id", conv.ID, "error", err)
	}

	factsText := s.ask(ctx, prov, conv.Sender, factExtractSystemPrompt, transcript)
	s.applyExtractedFacts(conv.Sender, factsText)
}

func (s *Summarizer) ask(ctx context.Context, prov providers.Provider, sender, systemPrompt, transcript string) string {
	// Agent mode renders only CurrentMessage, so the instruction travels in it.
	pctx := promptctx.Build(promptctx.Input{
		CurrentMessage: systemPrompt + "\n\n" + transcript,
		CurrentTime:    time.Now().UTC(),
		SenderID:       sender,
		AgentName:      "summarizer",
	})
	out, err := prov.Complete(ctx, pctx)
	if err != nil {
		slog.Warn("background: summarizer provider call failed", "sender", sender, "error", err)
		return ""
	}
	return out.Content
}

// applyExtractedFacts parses "key: value" lines and upserts each, skipping
// the literal "none" response and any system-reserved key.
func (s *Summarizer) applyExtractedFacts(sender, text string) {
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "none") {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" || store.IsSystemFactKey(key) {
			continue
		}
		if err := s.Store.SetFact(sender, key, value); err != nil {
			slog.Warn("background: failed to store extracted fact", "sender", sender, "key", key, "error", err)
		}
	}
}

func (s *Summarizer) provider() (providers.Provider, bool) {
	name := s.ProviderName
	if name == "" {
		name = "subprocess"
	}
	return s.Providers.Get(name)
}

func renderTranscript(history []promptctx.HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, h := range history {
		fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

const heartbeatPrompt = "Reply with the single literal \"HEARTBEAT_OK\" if everything is healthy, or describe the problem."

// Heartbeat pings the provider on its own cadence and delivers the owner a
// message whenever the reply doesn't contain the HEARTBEAT_OK literal.
type Heartbeat struct {
	Channels     *channels.Manager
	Providers    *providers.Registry
	ProviderName string
	Interval     time.Duration
	OwnerChannel string
	OwnerChatID  string
}

// Run blocks, pinging every h.Interval until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pingOnce(ctx)
		}
	}
}

func (h *Heartbeat) pingOnce(ctx context.Context) {
	name := h.ProviderName
	if name == "" {
		name = "subprocess"
	}
	prov, ok := h.Providers.Get(name)
	if !ok {
		return
	}

	pctx := promptctx.Build(promptctx.Input{
		CurrentMessage: heartbeatPrompt,
		CurrentTime:    time.Now().UTC(),
		AgentName:      "heartbeat",
	})
	out, err := prov.Complete(ctx, pctx)
	if err != nil {
		h.notifyOwner(ctx, fmt.Sprintf("Heartbeat failed: %v", err))
		return
	}
	if strings.Contains(out.Content, "HEARTBEAT_OK") {
		return
	}
	h.notifyOwner(ctx, "Heartbeat reported a problem: "+out.Content)
}

func (h *Heartbeat) notifyOwner(ctx context.Context, text string) {
	if h.OwnerChannel == "" || h.Channels == nil {
		slog.Warn("background: heartbeat has no owner channel configured, dropping notification", "text", text)
		return
	}
	if err := h.Channels.Send(ctx, h.OwnerChannel, bus.OutgoingMessage{ChatID: h.OwnerChatID, Content: text}); err != nil {
		slog.Warn("background: heartbeat owner notification failed", "error", err)
	}
}
