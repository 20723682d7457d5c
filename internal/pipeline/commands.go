package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/omegahq/gateway/internal/store"
)

// dispatchCommand implements stage 3: slash commands are resolved entirely
// against the store, never touching a provider. handled is false only for
// an unrecognized "/word" that should fall through to normal processing
// (treated as ordinary text, e.g. a literal "/dev/null" pasted by a user).
func (p *Pipeline) dispatchCommand(ctx context.Context, sender, text string) (reply string, handled bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	switch cmd {
	case "/help":
		return helpText, true
	case "/status":
		return p.cmdStatus(sender), true
	case "/uptime":
		return p.cmdUptime(), true
	case "/facts":
		return p.cmdFacts(sender), true
	case "/memory":
		return p.cmdMemory(sender), true
	case "/forget":
		return p.cmdForget(sender, arg), true
	case "/tasks":
		return p.cmdTasks(sender), true
	case "/cancel":
		return p.cmdCancel(sender, arg), true
	case "/projects":
		return p.cmdProjects(sender), true
	case "/project":
		return p.cmdProject(sender, arg), true
	case "/skills":
		return p.cmdSkills(sender, arg), true
	case "/setup":
		return p.cmdSetup(ctx, sender, arg), true
	default:
		return "", false
	}
}

const helpText = `Available commands:
/help - show this message
/status - show gateway status
/uptime - show how long the gateway has been running
/facts - list what I remember about you
/memory - show a short summary of our recent conversation
/forget <key> - remove a remembered fact
/tasks - list your pending reminders and scheduled actions
/cancel <id> - cancel a pending task
/projects - list projects you've worked on with me
/project [name] - show or set your active project
/skills [domain] - list lessons learned for a domain
/setup <description> - start a guided project discovery, or check status with no argument`

var startedAt = time.Now()

func (p *Pipeline) cmdStatus(sender string) string {
	names := p.Channels.Names()
	return fmt.Sprintf("Gateway is running. Channels: %s", strings.Join(names, ", "))
}

func (p *Pipeline) cmdUptime() string {
	return fmt.Sprintf("Up for %s.", time.Since(startedAt).Round(time.Second))
}

func (p *Pipeline) cmdFacts(sender string) string {
	facts, err := p.Store.ListFacts(sender)
	if err != nil {
		return "Couldn't read your facts right now."
	}
	if len(facts) == 0 {
		return "I don't have any facts stored about you yet."
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Here's what I remember:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, facts[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Pipeline) cmdMemory(sender string) string {
	pctx, err := p.Store.BuildContext(sender, "", store.ContextParams{})
	if err != nil {
		return "Couldn't pull up our conversation history right now."
	}
	if len(pctx.History) == 0 && len(pctx.RecentSummaries) == 0 {
		return "We haven't talked much yet."
	}
	var b strings.Builder
	if len(pctx.RecentSummaries) > 0 {
		b.WriteString("Recent summaries:\n")
		for _, s := range pctx.RecentSummaries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(pctx.History) > 0 {
		b.WriteString("Recent messages:\n")
		for _, h := range pctx.History {
			fmt.Fprintf(&b, "- %s: %s\n", h.Role, h.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Pipeline) cmdForget(sender, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "Usage: /forget <key>"
	}
	if store.IsSystemFactKey(key) {
		return "That fact is managed internally and can't be forgotten directly."
	}
	if err := p.Store.DeleteFact(sender, key); err != nil {
		return "Couldn't forget that right now."
	}
	return fmt.Sprintf("Forgot %q.", key)
}

func (p *Pipeline) cmdTasks(sender string) string {
	tasks, err := p.Store.ListTasks(sender)
	if err != nil {
		return "Couldn't list your tasks right now."
	}
	if len(tasks) == 0 {
		return "You have no pending tasks."
	}
	var b strings.Builder
	b.WriteString("Pending tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s due %s\n", t.ID[:8], t.Description, t.DueAt.Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Pipeline) cmdCancel(sender, arg string) string {
	id := strings.TrimSpace(arg)
	if id == "" {
		return "Usage: /cancel <task-id>"
	}
	tasks, err := p.Store.ListTasks(sender)
	if err != nil {
		return "Couldn't look up that task right now."
	}
	var fullID string
	for _, t := range tasks {
		if t.ID == id || strings.HasPrefix(t.ID, id) {
			fullID = t.ID
			break
		}
	}
	if fullID == "" {
		return "No pending task with that id."
	}
	if err := p.Store.CancelTask(fullID); err != nil {
		return "Couldn't cancel that task right now."
	}
	return "Cancelled."
}

func (p *Pipeline) cmdProjects(sender string) string {
	tasks, err := p.Store.ListTasks(sender)
	if err != nil {
		return "Couldn't list your projects right now."
	}
	seen := map[string]bool{}
	var projects []string
	for _, t := range tasks {
		if t.Project != "" && !seen[t.Project] {
			seen[t.Project] = true
			projects = append(projects, t.Project)
		}
	}
	if len(projects) == 0 {
		return "No projects on file yet."
	}
	sort.Strings(projects)
	return "Projects: " + strings.Join(projects, ", ")
}

func (p *Pipeline) cmdProject(sender, arg string) string {
	name := strings.TrimSpace(arg)
	if name == "" {
		current, ok, err := p.Store.GetFact(sender, "active_project")
		if err != nil {
			return "Couldn't read your active project right now."
		}
		if !ok || current == "" {
			return "No active project set."
		}
		return "Active project: " + current
	}
	if err := p.Store.SetSystemFact(sender, "active_project", name); err != nil {
		return "Couldn't set that project right now."
	}
	return "Active project set to " + name + "."
}

func (p *Pipeline) cmdSkills(sender, arg string) string {
	domain := strings.TrimSpace(arg)
	if domain == "" {
		domain = "general"
	}
	lessons, err := p.Store.LessonsFor(sender, domain)
	if err != nil {
		return "Couldn't look up skills right now."
	}
	if len(lessons) == 0 {
		return fmt.Sprintf("No lessons learned yet for %q.", domain)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Lessons for %s:\n", domain)
	for _, l := range lessons {
		scope := l.Project
		if scope == "" {
			scope = "general"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", scope, l.Lesson)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Pipeline) cmdSetup(ctx context.Context, sender, arg string) string {
	desc := strings.TrimSpace(arg)
	active, err := p.Discovery.Active(sender)
	if err == nil && active {
		return "A setup is already in progress. Answer the last question, or say \"cancel\" to stop it."
	}
	if desc == "" {
		if _, ok, _ := p.Store.GetFact(sender, "pending_build_request"); ok {
			return "A build is waiting for your confirmation. Reply yes to start it, or no to cancel."
		}
		return "Usage: /setup <short description of what you want to build>"
	}
	cfg := p.Config.Snapshot()
	outcome, err := p.Discovery.Start(ctx, sender, desc, cfg.Gateway.Language)
	if err != nil {
		return "Couldn't start setup right now."
	}
	if outcome.Rejected {
		return "A setup is already in progress."
	}
	return outcome.Reply
}
