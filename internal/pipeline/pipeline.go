// Package pipeline implements the gateway's single-threaded hot path: one
// inbound message in, all the way through auth, sanitization, command
// dispatch, discovery/build intercepts, provider call, and delivery. The
// stage shape is grounded on the teacher's cmd/gateway_consumer.go consume
// loop, generalized from its multi-agent routing lanes down to the fixed
// twelve-stage sequence this system specifies.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omegahq/gateway/internal/build"
	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/discovery"
	"github.com/omegahq/gateway/internal/omegaerr"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/sanitize"
	"github.com/omegahq/gateway/internal/store"
)

const typingRepeatInterval = 5 * time.Second

// defaultDeniedText is sent when a sender fails the channel's auth check.
const defaultDeniedText = "You're not authorized to use this bot."

// Pipeline wires every component the twelve stages touch.
type Pipeline struct {
	Config    *config.Config
	Store     *store.Store
	Channels  *channels.Manager
	Providers *providers.Registry
	Discovery *discovery.Engine

	// NewBuildRunner constructs a fresh Runner per launch (a Runner is not
	// reused across runs since it carries a per-run Notify closure).
	NewBuildRunner func(notify build.Notifier) *build.Runner
}

// Process runs one inbound message through every stage. Errors returned
// are the ones worth logging at the call site (auth denial is not an
// error — it terminates the pipeline by returning nil after sending its
// own reply; sanitize warnings are logged and processing continues).
func (p *Pipeline) Process(ctx context.Context, msg bus.IncomingMessage) error {
	cfg := p.Config.Snapshot()
	sender := msg.SenderID

	// 1. Authentication.
	ch, ok := p.Channels.GetChannel(msg.Channel)
	if !ok {
		return omegaerr.Newf(omegaerr.Channel, "no registered channel %q", msg.Channel)
	}
	if !ch.IsAllowed(sender) {
		p.sendReply(ctx, msg, defaultDeniedText)
		p.audit(msg, "", defaultDeniedText, "denied", 0)
		return nil
	}

	// 2. Sanitization.
	clean := sanitize.Sanitize(msg.Content)
	if len(clean.Warnings) > 0 {
		slog.Warn("pipeline: sanitize flagged input", "sender", sender, "warnings", clean.Warnings)
	}
	text := clean.Text

	// 3. Command dispatch.
	if strings.HasPrefix(strings.TrimSpace(text), "/") {
		if reply, handled := p.dispatchCommand(ctx, sender, text); handled {
			p.sendReply(ctx, msg, reply)
			p.audit(msg, text, reply, "ok", 0)
			return nil
		}
	}

	lang := cfg.Gateway.Language

	// 4a. Discovery intercept.
	if active, err := p.Discovery.Active(sender); err == nil && active {
		outcome, err := p.Discovery.Continue(ctx, sender, text, lang)
		if err != nil {
			return err
		}
		if outcome.Complete {
			p.sendReply(ctx, msg, outcome.Reply)
			p.audit(msg, text, outcome.Reply, "ok", 0)
			return nil
		}
		// Expired sessions fall through to normal processing; the expiry
		// notice, if any, is sent as its own message first.
		if !outcome.Expired {
			p.sendReply(ctx, msg, outcome.Reply)
			p.audit(msg, text, outcome.Reply, "ok", 0)
			return nil
		}
		if outcome.Reply != "" {
			p.sendReply(ctx, msg, outcome.Reply)
		}
		// fall through
	}

	// 4b. Build intercept.
	if brief, ok, err := p.Store.GetFact(sender, "pending_build_request"); err == nil && ok {
		handled, err := p.handleBuildConfirmation(ctx, msg, sender, brief, text, lang)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
		// Unrelated message: fact already cleared by handleBuildConfirmation, fall through.
	}

	// 4c. Build-keyword intercept.
	if isBuildKeyword(text) {
		outcome, err := p.Discovery.Start(ctx, sender, text, lang)
		if err != nil {
			return err
		}
		p.sendReply(ctx, msg, outcome.Reply)
		p.audit(msg, text, outcome.Reply, "ok", 0)
		return nil
	}

	// 5. Typing indicator.
	stopTyping := p.startTypingRepeater(ctx, msg.Channel, msg.ChatID)
	defer stopTyping()

	// 6. Context build.
	sessionID, _, _ := p.Store.GetFact(sender, "active_session_id")
	pctx, err := p.Store.BuildContext(sender, text, store.ContextParams{
		SystemPrompt: defaultSystemPrompt,
		SessionID:    sessionID,
	})
	if err != nil {
		p.sendReply(ctx, msg, "Sorry, I couldn't pull up our conversation right now.")
		return err
	}

	// 7. Provider call, with session-clear-and-retry fallback.
	providerName := cfg.Gateway.DefaultProvider
	prov, ok := p.Providers.Get(providerName)
	if !ok {
		return omegaerr.Newf(omegaerr.Provider, "no provider registered for %q", providerName)
	}

	start := time.Now()
	out, err := prov.Complete(ctx, pctx)
	if err != nil && sessionID != "" {
		_ = p.Store.DeleteFact(sender, "active_session_id")
		pctx, ctxErr := p.Store.BuildContext(sender, text, store.ContextParams{SystemPrompt: defaultSystemPrompt})
		if ctxErr != nil {
			p.sendReply(ctx, msg, "Sorry, something went wrong processing that.")
			return err
		}
		out, err = prov.Complete(ctx, pctx)
		if err != nil {
			p.sendReply(ctx, msg, "Sorry, something went wrong processing that.")
			return err
		}
	} else if err != nil {
		p.sendReply(ctx, msg, "Sorry, something went wrong processing that.")
		return err
	}
	elapsed := time.Since(start)

	// 8. Persist session id.
	if newSession := out.Metadata["session_id"]; newSession != "" {
		_ = p.Store.SetSystemFact(sender, "active_session_id", newSession)
	}

	// 9. Store exchange (best-effort).
	if err := p.Store.StoreExchange(sender, msg.Channel, text, out.Content); err != nil {
		slog.Warn("pipeline: store exchange failed", "sender", sender, "error", err)
	}

	// 10. Audit (best-effort).
	p.audit(msg, text, out.Content, "ok", elapsed.Milliseconds())

	// 11. Send.
	p.sendReply(ctx, msg, out.Content)

	// 12. Self-heal marker handling.
	p.handleSelfHeal(sender, msg, out.Content)

	return nil
}

func (p *Pipeline) sendReply(ctx context.Context, msg bus.IncomingMessage, text string) {
	out := bus.OutgoingMessage{ChatID: msg.ChatID, Content: text}
	if err := p.Channels.Send(ctx, msg.Channel, out); err != nil {
		slog.Warn("pipeline: send failed", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

func (p *Pipeline) audit(msg bus.IncomingMessage, input, output, status string, ms int64) {
	err := p.Store.AppendAudit(store.AuditEntry{
		Channel:      msg.Channel,
		Sender:       msg.SenderID,
		Input:        input,
		Output:       output,
		ProcessingMS: ms,
		Status:       status,
	})
	if err != nil {
		slog.Warn("pipeline: audit write failed", "error", err)
	}
}

// startTypingRepeater sends one typing indicator immediately and re-emits
// it every 5s until the returned stop func is called. The stop func is
// always deferred by the caller so the repeater goroutine never outlives
// the pipeline stage that started it, on every exit path including panic
// recovery further up the call stack.
func (p *Pipeline) startTypingRepeater(ctx context.Context, channelName, target string) (stop func()) {
	typingCtx, cancel := context.WithCancel(ctx)
	send := func() {
		if ch, ok := p.Channels.GetChannel(channelName); ok {
			_ = ch.SendTyping(typingCtx, target)
		}
	}
	send()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingRepeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

const defaultSystemPrompt = "You are a helpful personal assistant, reachable over chat."

func isBuildKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range []string{
		"build me", "build a ", "build an ", "create an app", "create a project",
		"make me an app", "make me a website", "i want you to build", "let's build",
	} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var affirmatives = map[string]bool{
	"yes": true, "y": true, "ok": true, "okay": true, "sure": true, "go": true, "yep": true,
	"si": true, "sí": true, "oui": true, "ja": true, "sim": true, "はい": true, "是": true, "có": true,
}

func isAffirmative(text string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(text))]
}

// handleBuildConfirmation implements stage 4b. The pending_build_request
// fact is cleared in every case. It returns handled=true when the message
// confirmed or rejected the build; for an unrelated message it returns
// false, and the caller falls through to normal processing.
func (p *Pipeline) handleBuildConfirmation(ctx context.Context, msg bus.IncomingMessage, sender, briefSummary, text, lang string) (bool, error) {
	trimmed := strings.TrimSpace(text)
	if isAffirmative(trimmed) {
		_ = p.Store.DeleteFact(sender, "pending_build_request")
		p.launchBuild(ctx, msg, sender, build.Brief{Summary: briefSummary}, lang)
		return true, nil
	}
	if isCancelWord(trimmed) {
		_ = p.Store.DeleteFact(sender, "pending_build_request")
		p.sendReply(ctx, msg, "Okay, I won't start that build.")
		return true, nil
	}
	// Unrelated message: clear the fact and let this message process normally.
	_ = p.Store.DeleteFact(sender, "pending_build_request")
	return false, nil
}

func isCancelWord(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range []string{"no", "cancel", "nevermind", "never mind", "stop"} {
		if lower == kw {
			return true
		}
	}
	return false
}

// launchBuild runs the build orchestrator in its own goroutine so the
// pipeline's single-threaded consume loop is never blocked by a
// multi-phase build. Progress notifications and the final result are
// both delivered back through the same channel/chat the request came
// from.
func (p *Pipeline) launchBuild(ctx context.Context, msg bus.IncomingMessage, sender string, brief build.Brief, lang string) {
	if p.NewBuildRunner == nil {
		p.sendReply(ctx, msg, "Build orchestration isn't configured on this gateway.")
		return
	}
	notify := func(_ context.Context, text string) {
		p.sendReply(context.Background(), msg, text)
	}
	runner := p.NewBuildRunner(notify)

	go func() {
		runCtx := context.Background()
		res, err := runner.Run(runCtx, build.Request{
			Sender:   sender,
			Channel:  msg.Channel,
			Brief:    brief,
			Language: lang,
		})
		if err != nil {
			p.sendReply(runCtx, msg, fmt.Sprintf("Build failed at %s: %v", res.Phase, err))
			return
		}
	}()
}
