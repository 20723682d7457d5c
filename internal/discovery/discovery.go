package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/omegahq/gateway/internal/build"
	"github.com/omegahq/gateway/internal/omegaerr"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

const (
	factPendingDiscovery = "pending_discovery"
	factPendingBuildReq  = "pending_build_request"
	previewMaxChars      = 280
)

// Outcome is what a caller (the pipeline's stage 4a/4c intercepts) acts on
// after a Start or Continue call.
type Outcome struct {
	Reply     string      // text to send back to the sender, always set unless Expired/Cancelled with no message
	Complete  bool        // a build.Brief is ready; caller should store pending_build_request and present Reply
	Brief     build.Brief // valid only when Complete
	Rejected  bool        // a session was already active; Reply explains
	Expired   bool        // the prior session's TTL lapsed; caller should fall through to normal processing
	Cancelled bool        // the user cancelled; Reply explains
}

// Engine runs the discovery state machine for one store/provider pairing.
type Engine struct {
	Store        *store.Store
	Providers    *providers.Registry
	ProviderName string
	DataDir      string
}

func (e *Engine) provider() (providers.Provider, error) {
	name := e.ProviderName
	if name == "" {
		name = "subprocess"
	}
	p, ok := e.Providers.Get(name)
	if !ok {
		return nil, omegaerr.Newf(omegaerr.Provider, "no provider registered for %q", name)
	}
	return p, nil
}

func (e *Engine) invoke(ctx context.Context, body string) (string, error) {
	p, err := e.provider()
	if err != nil {
		return "", err
	}
	pctx := promptctx.Build(promptctx.Input{
		CurrentMessage: body,
		CurrentTime:    time.Now().UTC(),
		AgentName:      "discovery",
	})
	out, err := p.Complete(ctx, pctx)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// Active reports whether sender has a discovery session in progress —
// the concurrency guard the build-keyword intercept (4c) consults before
// calling Start.
func (e *Engine) Active(sender string) (bool, error) {
	_, ok, err := e.Store.GetFact(sender, factPendingDiscovery)
	return ok, err
}

// Start begins a new discovery session for sender from their initial build
// request. If a session is already active, it is rejected rather than
// restarted — the caller must cancel first.
func (e *Engine) Start(ctx context.Context, sender, request, lang string) (Outcome, error) {
	active, err := e.Active(sender)
	if err != nil {
		return Outcome{}, err
	}
	if active {
		return Outcome{Rejected: true, Reply: localize(lang, msgAlreadyActive)}, nil
	}

	path := statePath(e.DataDir, sender)
	st := newState(path, request)

	reply, err := e.invoke(ctx, st.body)
	if err != nil {
		// First-round failure degrades to a direct confirmation: the
		// original request becomes the brief, no further rounds happen.
		return e.complete(sender, build.Brief{Summary: request}, lang)
	}

	if build.HasDiscoveryComplete(reply) {
		brief, ok := build.ParseIdeaBrief(reply)
		if !ok {
			brief = build.Brief{Summary: request}
		}
		return e.complete(sender, brief, lang)
	}

	st = st.appendAgentReply(reply)
	if err := st.save(); err != nil {
		return Outcome{}, omegaerr.Wrap(omegaerr.Io, "save discovery state", err)
	}
	if err := e.Store.SetSystemFact(sender, factPendingDiscovery, path); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reply: reply}, nil
}

// Continue advances an active discovery session with the sender's next
// message. Callers invoke this from the pipeline's stage-4a intercept
// whenever the pending_discovery system fact is present.
func (e *Engine) Continue(ctx context.Context, sender, message, lang string) (Outcome, error) {
	path := statePath(e.DataDir, sender)
	st, err := loadState(path)
	if err != nil {
		// The fact pointed at a file that is gone; clear it and fall
		// through as if nothing were active.
		_ = e.Store.DeleteFact(sender, factPendingDiscovery)
		return Outcome{Expired: true}, nil
	}

	if st.expired() {
		_ = removeState(path)
		_ = e.Store.DeleteFact(sender, factPendingDiscovery)
		return Outcome{Expired: true, Reply: localize(lang, msgExpired)}, nil
	}

	if isCancellation(lang, message) {
		_ = removeState(path)
		_ = e.Store.DeleteFact(sender, factPendingDiscovery)
		return Outcome{Cancelled: true, Reply: localize(lang, msgCancelled)}, nil
	}

	st = st.appendAnswer(message)

	reply, err := e.invoke(ctx, st.body)
	if err != nil {
		// Subsequent-round failures surface an error but keep the session
		// alive so the sender can retry without losing their answers.
		if saveErr := st.save(); saveErr != nil {
			return Outcome{}, omegaerr.Wrap(omegaerr.Io, "save discovery state", saveErr)
		}
		return Outcome{Reply: localize(lang, msgAgentError)}, nil
	}

	forceComplete := st.round >= MaxRounds
	if build.HasDiscoveryComplete(reply) || forceComplete {
		brief, ok := build.ParseIdeaBrief(reply)
		if !ok {
			brief = build.Brief{Summary: st.body}
		}
		_ = removeState(path)
		_ = e.Store.DeleteFact(sender, factPendingDiscovery)
		return e.complete(sender, brief, lang)
	}

	st = st.appendAgentReply(reply)
	if err := st.save(); err != nil {
		return Outcome{}, omegaerr.Wrap(omegaerr.Io, "save discovery state", err)
	}
	if err := e.Store.SetSystemFact(sender, factPendingDiscovery, path); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reply: reply}, nil
}

func (e *Engine) complete(sender string, brief build.Brief, lang string) (Outcome, error) {
	summary := brief.Summary
	if summary == "" {
		summary = brief.Project
	}
	if err := e.Store.SetSystemFact(sender, factPendingBuildReq, summary); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Complete: true,
		Brief:    brief,
		Reply:    fmt.Sprintf(localize(lang, msgConfirm), truncate(summary, previewMaxChars)),
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
