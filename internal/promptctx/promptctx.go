// Package promptctx renders the Context a provider consumes from whatever
// conversation state is available, picking one of three render modes
// depending on whether the call targets a stateless agent role or a
// backend-resumed session.
package promptctx

import (
	"fmt"
	"strings"
	"time"
)

// HistoryEntry is one turn in the flattened conversation history.
type HistoryEntry struct {
	Role    string // "user" or "assistant"
	Content string
}

// Context is the unit a provider consumes.
type Context struct {
	SystemPrompt   string
	History        []HistoryEntry
	CurrentMessage string
	CurrentTime    time.Time
	SenderID       string
	SessionID      string // empty means none
	AgentName      string // empty means none
}

// Rendered returns the exact text a provider should send to its backend,
// following the three-way switch: agent mode renders bare, a live session
// renders a minimal continuation, and the cold path renders the full
// composed prompt.
func (c Context) Rendered() string {
	if c.AgentName != "" {
		return c.CurrentMessage
	}
	if c.SessionID != "" {
		return c.renderContinuation()
	}
	return c.renderCold()
}

func (c Context) renderContinuation() string {
	var b strings.Builder
	b.WriteString(currentTimeLine(c.CurrentTime))
	for _, block := range conditionalBlocks(c.CurrentMessage) {
		b.WriteString(block)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(c.CurrentMessage)
	return b.String()
}

func (c Context) renderCold() string {
	var b strings.Builder
	if c.SystemPrompt != "" {
		b.WriteString(c.SystemPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString(currentTimeLine(c.CurrentTime))
	b.WriteString("\n")
	for _, h := range c.History {
		fmt.Fprintf(&b, "%s: %s\n", h.Role, h.Content)
	}
	b.WriteString(c.CurrentMessage)
	return b.String()
}

func currentTimeLine(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return fmt.Sprintf("Current time: %s", t.UTC().Format(time.RFC3339))
}

// conditionalKeywords maps a keyword found in the current message to a
// short contextual block appended only when relevant — never unconditionally,
// to keep the continuation path minimal.
var conditionalKeywords = map[string]string{
	"position":   "Context: sender has open trading positions tracked elsewhere in memory.",
	"trade":      "Context: sender has open trading positions tracked elsewhere in memory.",
	"project":    "Context: sender has an active project; keep suggestions scoped to it.",
	"build":      "Context: sender has an active project; keep suggestions scoped to it.",
	"reminder":   "Context: sender has scheduled tasks; consider referencing them.",
	"task":       "Context: sender has scheduled tasks; consider referencing them.",
}

func conditionalBlocks(text string) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	var blocks []string
	for keyword, block := range conditionalKeywords {
		if !strings.Contains(lower, keyword) {
			continue
		}
		if seen[block] {
			continue
		}
		seen[block] = true
		blocks = append(blocks, block)
	}
	return blocks
}

// Input collects everything Build needs to assemble a Context, so callers
// (the pipeline, the build orchestrator, the scheduler) don't each have to
// know the rendering rules themselves.
type Input struct {
	SystemPrompt     string
	History          []HistoryEntry
	RecentSummaries  []string
	Facts            map[string]string
	Recall           []string // FTS5-recalled prior user messages
	CurrentMessage   string
	CurrentTime      time.Time
	SenderID         string
	SessionID        string
	AgentName        string
}

// Build assembles a Context from conversation state. Agent mode and
// live-session mode ignore most of in, by design — only the cold path
// (no agent, no session) composes facts/summaries/recall into the system
// prompt, so the "expensive" inputs are only ever paid for once per
// conversation.
func Build(in Input) Context {
	ctx := Context{
		CurrentMessage: in.CurrentMessage,
		CurrentTime:    in.CurrentTime,
		SenderID:       in.SenderID,
		SessionID:      in.SessionID,
		AgentName:      in.AgentName,
	}

	if in.AgentName != "" {
		// Agent mode: stateless per call, bare current message. Caller's
		// role file supplies the system prompt on the provider side.
		return ctx
	}
	if in.SessionID != "" {
		// Continuation mode: no system prompt or history resent.
		return ctx
	}

	ctx.SystemPrompt = composeSystemPrompt(in.SystemPrompt, in.Facts, in.RecentSummaries, in.Recall)
	ctx.History = in.History
	return ctx
}

func composeSystemPrompt(base string, facts map[string]string, summaries, recall []string) string {
	var b strings.Builder
	b.WriteString(base)

	if len(facts) > 0 {
		b.WriteString("\n\nKnown facts about this user:\n")
		for k, v := range facts {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	if len(summaries) > 0 {
		b.WriteString("\nRecent conversation summaries:\n")
		for _, s := range summaries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(recall) > 0 {
		b.WriteString("\nRecalled related messages:\n")
		for _, r := range recall {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}
