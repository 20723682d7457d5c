package build

import (
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

// Brief is the structured output of discovery, consumed as the first
// phase's input. Requirements is optional: a plain-text brief with no
// json5 object still parses, it simply leaves Requirements empty.
type Brief struct {
	Project      string   `json:"project"`
	Summary      string   `json:"summary"`
	Requirements []string `json:"requirements"`
}

var ideaBriefRe = regexp.MustCompile(`(?is)IDEA_BRIEF:\s*(.*)`)

// ParseIdeaBrief extracts the IDEA_BRIEF block from a discovery reply. The
// body after the marker may be a json5 object (tolerant of trailing commas,
// comments, and unquoted keys) or plain prose; either way ok is true as
// long as the marker itself was present.
func ParseIdeaBrief(text string) (Brief, bool) {
	m := ideaBriefRe.FindStringSubmatch(text)
	if m == nil {
		return Brief{}, false
	}
	body := strings.TrimSpace(m[1])

	var b Brief
	if strings.HasPrefix(body, "{") {
		if err := json5.Unmarshal([]byte(body), &b); err == nil {
			return b, true
		}
	}
	return Brief{Summary: body}, true
}

// HasDiscoveryComplete reports whether text carries the DISCOVERY_COMPLETE
// marker, which takes precedence over DISCOVERY_QUESTIONS when both appear
// in the same reply.
func HasDiscoveryComplete(text string) bool {
	return strings.Contains(text, "DISCOVERY_COMPLETE")
}

// HasDiscoveryQuestions reports whether text carries the
// DISCOVERY_QUESTIONS marker.
func HasDiscoveryQuestions(text string) bool {
	return strings.Contains(text, "DISCOVERY_QUESTIONS")
}

var projectBriefRe = regexp.MustCompile(`(?is)PROJECT_BRIEF:\s*(.*)`)

// ParseProjectBrief extracts the analyst phase's restated requirements.
func ParseProjectBrief(text string) (string, bool) {
	m := projectBriefRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

var passFailRe = regexp.MustCompile(`(?is)^\s*([A-Z]+)\s*:\s*(PASS|FAIL)\s*:?\s*(.*)$`)

// ParsePassFail parses a "<PREFIX>: PASS" or "<PREFIX>: FAIL: <reason>"
// line, used by both the qa and reviewer phases. found is false if no line
// in text matches prefix at all — the caller should treat that as a parse
// failure distinct from an explicit FAIL.
func ParsePassFail(text, prefix string) (pass bool, reason string, found bool) {
	for _, line := range strings.Split(text, "\n") {
		m := passFailRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || !strings.EqualFold(m[1], prefix) {
			continue
		}
		return strings.EqualFold(m[2], "PASS"), strings.TrimSpace(m[3]), true
	}
	return false, "", false
}

var buildCompleteRe = regexp.MustCompile(`(?is)BUILD_COMPLETE:\s*(.*)`)

// ParseBuildComplete extracts the delivery phase's closing summary.
func ParseBuildComplete(text string) (string, bool) {
	m := buildCompleteRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
