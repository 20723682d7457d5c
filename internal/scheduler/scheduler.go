// Package scheduler polls the store for due scheduled tasks and executes
// them: reminders are a direct send, actions invoke a provider and parse
// its ACTION_OUTCOME marker. The poll loop shape is grounded on the
// teacher's cmd/gateway_cron.go ticker loop, generalized from its
// fixed cron jobs to the data-driven ScheduledTask table.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

const defaultPollInterval = 60 * time.Second

var actionOutcomeRe = regexp.MustCompile(`(?is)ACTION_OUTCOME:\s*(success|failed)\s*(?:[,:]?\s*(.+))?`)

// Scheduler drives the due-task poll loop.
type Scheduler struct {
	Store        *store.Store
	Channels     *channels.Manager
	Providers    *providers.Registry
	ProviderName string
	PollInterval time.Duration
}

// Run blocks, polling every PollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	due, err := s.Store.GetDueTasks(time.Now().UTC())
	if err != nil {
		slog.Error("scheduler: failed to load due tasks", "error", err)
		return
	}
	for _, t := range due {
		s.execute(ctx, t)
	}
}

func (s *Scheduler) execute(ctx context.Context, t store.ScheduledTask) {
	switch t.TaskType {
	case "action":
		s.executeAction(ctx, t)
	default:
		s.executeReminder(ctx, t)
	}
}

func (s *Scheduler) executeReminder(ctx context.Context, t store.ScheduledTask) {
	text := "Reminder: " + t.Description
	s.deliver(ctx, t, text)
	if err := s.Store.CompleteTask(t.ID); err != nil {
		slog.Error("scheduler: failed to complete reminder task", "task_id", t.ID, "error", err)
	}
	s.audit(t, text, "ok")
}

func (s *Scheduler) executeAction(ctx context.Context, t store.ScheduledTask) {
	prov, ok := s.provider()
	if !ok {
		s.failAction(t, "no provider available")
		return
	}

	pctx := promptctx.Build(promptctx.Input{
		SystemPrompt:   "You execute a scheduled action and report the outcome.",
		CurrentMessage: fmt.Sprintf("[ACTION] %s", t.Description),
		CurrentTime:    time.Now().UTC(),
		SenderID:       t.Sender,
		AgentName:      "scheduled-action",
	})

	out, err := prov.Complete(ctx, pctx)
	if err != nil {
		s.failAction(t, err.Error())
		return
	}

	success, reason, found := parseActionOutcome(out.Content)
	if !found {
		s.failAction(t, "provider did not report an ACTION_OUTCOME marker")
		return
	}
	if !success {
		s.failAction(t, reason)
		return
	}

	if err := s.Store.CompleteTask(t.ID); err != nil {
		slog.Error("scheduler: failed to complete action task", "task_id", t.ID, "error", err)
	}
	s.deliver(ctx, t, fmt.Sprintf("Action completed: %s", t.Description))
	s.audit(t, t.Description, "ok")
}

func (s *Scheduler) failAction(t store.ScheduledTask, reason string) {
	if err := s.Store.FailTask(t.ID, reason); err != nil {
		slog.Error("scheduler: failed to record action failure", "task_id", t.ID, "error", err)
	}

	tasks, err := s.Store.ListTasks(t.Sender)
	retrying := false
	if err == nil {
		for _, candidate := range tasks {
			if candidate.ID == t.ID {
				retrying = true
				break
			}
		}
	}

	ctx := context.Background()
	if retrying {
		updated, err := s.findTask(t.Sender, t.ID)
		if err == nil {
			s.deliver(ctx, t, fmt.Sprintf("Action %q failed (%s); will retry at %s", t.Description, reason, updated.DueAt.Format(time.RFC3339)))
		}
	} else {
		s.deliver(ctx, t, fmt.Sprintf("Action %q failed permanently: %s", t.Description, reason))
	}
	s.audit(t, t.Description, "error")
}

func (s *Scheduler) findTask(sender, id string) (store.ScheduledTask, error) {
	tasks, err := s.Store.ListTasks(sender)
	if err != nil {
		return store.ScheduledTask{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return store.ScheduledTask{}, fmt.Errorf("task %s no longer pending", id)
}

func (s *Scheduler) provider() (providers.Provider, bool) {
	name := s.ProviderName
	if name == "" {
		name = "subprocess"
	}
	return s.Providers.Get(name)
}

func (s *Scheduler) deliver(ctx context.Context, t store.ScheduledTask, text string) {
	if err := s.Channels.Send(ctx, t.Channel, bus.OutgoingMessage{ChatID: t.ReplyTarget, Content: text}); err != nil {
		slog.Warn("scheduler: delivery failed", "task_id", t.ID, "channel", t.Channel, "error", err)
	}
}

func (s *Scheduler) audit(t store.ScheduledTask, output, status string) {
	err := s.Store.AppendAudit(store.AuditEntry{
		Channel: t.Channel,
		Sender:  t.Sender,
		Input:   "[ACTION] " + t.Description,
		Output:  output,
		Status:  status,
	})
	if err != nil {
		slog.Warn("scheduler: audit write failed", "error", err)
	}
}

// parseActionOutcome extracts the ACTION_OUTCOME marker, tolerating the
// "success", "failed", and "failed: <reason>" variants named in the contract.
func parseActionOutcome(text string) (success bool, reason string, found bool) {
	m := actionOutcomeRe.FindStringSubmatch(text)
	if m == nil {
		return false, "", false
	}
	success = strings.EqualFold(m[1], "success")
	reason = strings.TrimSpace(m[2])
	if !success && reason == "" {
		reason = "unspecified failure"
	}
	return success, reason, true
}

// ValidateCronExpr validates an operator-supplied cron expression for a
// recurring task schedule, accepting the standard 5-field form.
func ValidateCronExpr(expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}
