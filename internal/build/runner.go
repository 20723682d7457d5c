package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/omegahq/gateway/internal/omegaerr"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

var tracer = otel.Tracer("github.com/omegahq/gateway/internal/build")

const phaseRetryDelay = 2 * time.Second

// Notifier delivers a localized progress message to whoever is waiting on
// the build. Errors are swallowed by the runner — a failed progress
// notification must never abort the build itself.
type Notifier func(ctx context.Context, text string)

// Request describes one build run.
type Request struct {
	Sender   string
	Channel  string
	Brief    Brief
	Language string // progress-message language; unknown falls back to English
}

// Result is what a completed (or failed) run reports back.
type Result struct {
	Summary string
	Failed  bool
	Phase   string // the phase that failed, empty on success
}

// Runner executes a Topology against a provider registry.
type Runner struct {
	Topology        *Topology
	Providers       *providers.Registry
	Store           *store.Store
	Workspace       string
	FastProvider    string
	ComplexProvider string
	Notify          Notifier
}

// Run drives every phase of the topology in order, applying per-phase
// retries, the QA-fix-then-recheck loop, and the non-fatal reviewer path.
// Progress is reported via r.Notify in req.Language; a nil Notify is a
// silent run.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "build.Run")
	defer span.End()

	guard, err := AcquireAgentFiles(r.Workspace, r.Topology.Phases, r.Topology.DiscoveryBody)
	if err != nil {
		return Result{}, err
	}
	defer guard.Release()

	state := req.Brief.Summary
	if state == "" {
		state = req.Brief.Project
	}

	for _, phase := range r.Topology.Phases {
		r.notify(ctx, req.Language, progressPhaseStart, phase.Role)

		for _, rel := range phase.PreValidate {
			if _, statErr := os.Stat(filepath.Join(r.Workspace, rel)); statErr != nil {
				err := omegaerr.Wrap(omegaerr.Io, fmt.Sprintf("phase %q pre-validation: %s missing", phase.Name, rel), statErr)
				r.auditPhaseFailure(req, phase.Name, err)
				return Result{Failed: true, Phase: phase.Name}, err
			}
		}

		reply, err := r.runPhaseWithRetry(ctx, phase, state, req.Language)
		if err != nil {
			r.auditPhaseFailure(req, phase.Name, err)
			if phase.NonFatal {
				slog.Warn("build: non-fatal phase failed, continuing", "phase", phase.Name, "error", err)
				continue
			}
			return Result{Failed: true, Phase: phase.Name}, err
		}
		r.auditPhaseSuccess(req, phase.Name, reply)

		switch phase.Name {
		case "analyst":
			if brief, ok := ParseProjectBrief(reply); ok {
				state = brief
			} else {
				state = reply
			}
		case "qa":
			pass, reason, found := ParsePassFail(reply, "QA")
			if found && !pass {
				r.notify(ctx, req.Language, progressQAFailed, reason)
				reply, err = r.runQAFixLoop(ctx, phase, state, reason, req.Language)
				if err != nil {
					r.auditPhaseFailure(req, phase.Name, err)
					return Result{Failed: true, Phase: phase.Name}, err
				}
			}
			state = reply
		case "reviewer":
			pass, reason, found := ParsePassFail(reply, "REVIEW")
			if found && !pass {
				r.notify(ctx, req.Language, progressReviewWarn, reason)
				// non-fatal: logged, not retried, proceed to delivery
			}
			state = reply
		case "delivery":
			summary, ok := ParseBuildComplete(reply)
			if !ok {
				summary = reply
			}
			r.notify(ctx, req.Language, progressBuildDone, summary)
			r.auditSuccess(req, summary)
			return Result{Summary: summary}, nil
		default:
			state = reply
		}
	}

	// Topology with no delivery phase still completed every phase cleanly.
	r.auditSuccess(req, state)
	return Result{Summary: state}, nil
}

func (r *Runner) runPhaseWithRetry(ctx context.Context, phase Phase, state, lang string) (string, error) {
	ctx, span := tracer.Start(ctx, "build.phase."+phase.Name)
	defer span.End()

	providerName := r.providerFor(phase.Model)
	p, ok := r.Providers.Get(providerName)
	if !ok {
		return "", omegaerr.Newf(omegaerr.Provider, "no provider registered for %q", providerName)
	}

	maxAttempts := phase.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pctx := promptctx.Build(promptctx.Input{
			CurrentMessage: state,
			CurrentTime:    time.Now().UTC(),
			AgentName:      phase.Name,
		})
		out, err := p.Complete(ctx, pctx)
		if err == nil {
			return out.Content, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			r.notify(ctx, lang, progressPhaseRetry, phase.Role, attempt, maxAttempts)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(phaseRetryDelay):
			}
		}
	}
	return "", omegaerr.Wrap(omegaerr.Provider, fmt.Sprintf("phase %q exhausted retries", phase.Name), lastErr)
}

// runQAFixLoop invokes the phase's fix agent once, then re-runs QA once
// more. If QA still fails after that, the build stops — QA is only ever
// corrected once per spec.
func (r *Runner) runQAFixLoop(ctx context.Context, qaPhase Phase, state, reason, lang string) (string, error) {
	fixName := qaPhase.FixAgent
	if fixName == "" {
		fixName = "developer"
	}

	var fixPhase Phase
	found := false
	for _, p := range r.Topology.Phases {
		if p.Name == fixName {
			fixPhase = p
			found = true
			break
		}
	}
	if !found {
		return "", omegaerr.Newf(omegaerr.Config, "fix agent %q not found in topology", fixName)
	}

	fixInput := fmt.Sprintf("%s\n\nQA reported: %s\nAddress the issue and resubmit.", state, reason)
	if _, err := r.runPhaseWithRetry(ctx, fixPhase, fixInput, lang); err != nil {
		return "", err
	}

	reply, err := r.runPhaseWithRetry(ctx, qaPhase, state, lang)
	if err != nil {
		return "", err
	}
	if pass, stillReason, found := ParsePassFail(reply, "QA"); found && !pass {
		return "", omegaerr.Newf(omegaerr.Provider, "qa still failing after one fix attempt: %s", stillReason)
	}
	return reply, nil
}

func (r *Runner) providerFor(tier ModelTier) string {
	if tier == ModelComplex && r.ComplexProvider != "" {
		return r.ComplexProvider
	}
	if tier == ModelFast && r.FastProvider != "" {
		return r.FastProvider
	}
	if r.FastProvider != "" {
		return r.FastProvider
	}
	return "subprocess"
}

func (r *Runner) notify(ctx context.Context, lang string, key progressKey, args ...interface{}) {
	if r.Notify == nil {
		return
	}
	msg := fmt.Sprintf(localize(lang, key), args...)
	r.Notify(ctx, msg)
}

// auditPhaseSuccess records one audit row per completed build phase, ahead
// of the single completion row auditSuccess appends once the whole topology
// is done.
func (r *Runner) auditPhaseSuccess(req Request, phaseName, output string) {
	if r.Store == nil {
		return
	}
	_ = r.Store.AppendAudit(store.AuditEntry{
		Channel:  req.Channel,
		Sender:   req.Sender,
		Input:    req.Brief.Summary,
		Output:   output,
		Provider: "build:" + phaseName,
		Status:   "ok",
	})
}

func (r *Runner) auditSuccess(req Request, summary string) {
	if r.Store == nil {
		return
	}
	_ = r.Store.AppendAudit(store.AuditEntry{
		Channel:  req.Channel,
		Sender:   req.Sender,
		Input:    req.Brief.Summary,
		Output:   summary,
		Provider: "build",
		Status:   "ok",
	})
}

func (r *Runner) auditPhaseFailure(req Request, phase string, err error) {
	if r.Store == nil {
		return
	}
	_ = r.Store.AppendAudit(store.AuditEntry{
		Channel:  req.Channel,
		Sender:   req.Sender,
		Input:    req.Brief.Summary,
		Output:   fmt.Sprintf("phase %q failed: %v", phase, err),
		Provider: "build",
		Status:   "error",
	})
}
