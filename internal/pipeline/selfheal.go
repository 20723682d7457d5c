package pipeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/store"
)

// selfHealRetryDelay is how far out the verification follow-up task is
// scheduled after a provider reply reports a self-heal attempt.
const selfHealRetryDelay = 10 * time.Minute

var selfHealRe = regexp.MustCompile(`(?m)^SELF_HEAL:\s*(.+?)(?:\s*\|\s*(.+))?$`)

// handleSelfHeal implements stage 12. A provider reply may emit
// "SELF_HEAL: description | verification test" when it attempted to fix
// something on its own, or "SELF_HEAL_RESOLVED" to close out a prior
// attempt. Both are best-effort bookkeeping against self_heal_state; a
// failure here never surfaces to the sender, since the reply already went
// out in stage 11.
func (p *Pipeline) handleSelfHeal(sender string, msg bus.IncomingMessage, content string) {
	if strings.Contains(content, "SELF_HEAL_RESOLVED") {
		_ = p.Store.DeleteFact(sender, "self_heal_state")
		return
	}

	m := selfHealRe.FindStringSubmatch(content)
	if m == nil {
		return
	}
	description := strings.TrimSpace(m[1])
	verification := strings.TrimSpace(m[2])

	_ = p.Store.SetSystemFact(sender, "self_heal_state", description)

	if verification == "" {
		return
	}
	_, _ = p.Store.CreateTask(store.ScheduledTask{
		Channel:     msg.Channel,
		Sender:      sender,
		ReplyTarget: msg.ChatID,
		Description: "Verify self-heal: " + verification,
		DueAt:       time.Now().UTC().Add(selfHealRetryDelay),
		TaskType:    "action",
	})
}
