// Package build implements the multi-phase build orchestrator: a topology of
// agent phases run in sequence against a provider, turning a discovery brief
// into a shipped change. The phase/retry shape is grounded loosely on the
// teacher's internal/agent Loop (Think-Act-Observe with bounded retries),
// generalized here into a fixed pipeline of named phases rather than a
// tool-calling loop.
package build

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ModelTier selects which configured provider a phase runs against.
type ModelTier string

const (
	ModelFast    ModelTier = "fast"
	ModelComplex ModelTier = "complex"
)

// Phase is one stage of a build topology.
type Phase struct {
	Name        string    `toml:"name"`
	Role        string    `toml:"role"`      // short human label, e.g. "QA engineer"
	AgentBody   string    `toml:"agent_body"` // markdown + YAML frontmatter written to .claude/agents/<name>.md
	Model       ModelTier `toml:"model"`
	MaxRetries  int       `toml:"max_retries"`
	FixAgent    string    `toml:"fix_agent,omitempty"`    // phase name invoked to address a failing QA verdict
	PreValidate []string  `toml:"pre_validate,omitempty"` // relative paths that must exist before this phase runs
	NonFatal    bool      `toml:"non_fatal,omitempty"`    // a failure here is logged and the run proceeds
}

// Topology is an ordered list of phases plus the standalone discovery agent
// body used by internal/discovery (discovery runs before any topology phase
// and is not itself a phase).
type Topology struct {
	Name          string  `toml:"name"`
	Phases        []Phase `toml:"phase"`
	DiscoveryBody string  `toml:"discovery_agent_body"`
}

var topologyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName rejects anything that is not a bare, path-traversal-safe
// token, since the name is used to build a file path under the operator's
// topology directory.
func ValidateName(name string) error {
	if !topologyNamePattern.MatchString(name) {
		return fmt.Errorf("invalid topology name %q", name)
	}
	return nil
}

// LoadTopology reads the topology at path. If the file does not exist, the
// bundled default topology is installed there (parent directories created as
// needed) and returned — an existing file is never overwritten.
func LoadTopology(path string) (*Topology, error) {
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read topology: %w", err)
		}
		var t Topology
		if _, err := toml.Decode(string(data), &t); err != nil {
			return nil, fmt.Errorf("parse topology: %w", err)
		}
		return &t, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat topology: %w", err)
	}

	def := DefaultTopology()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create topology directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return LoadTopology(path) // lost a race with another installer, read what's there
		}
		return nil, fmt.Errorf("install default topology: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(def); err != nil {
		return nil, fmt.Errorf("write default topology: %w", err)
	}
	return def, nil
}

// DefaultTopology is the seven-phase pipeline every fresh install gets:
// analyst -> architect -> test-writer -> developer -> qa -> reviewer -> delivery.
// Phases 1-2 run on the complex tier, phases 3-7 on the fast tier.
func DefaultTopology() *Topology {
	return &Topology{
		Name: "default",
		Phases: []Phase{
			{
				Name:       "analyst",
				Role:       "requirements analyst",
				AgentBody:  analystAgentBody,
				Model:      ModelComplex,
				MaxRetries: 2,
			},
			{
				Name:       "architect",
				Role:       "software architect",
				AgentBody:  architectAgentBody,
				Model:      ModelComplex,
				MaxRetries: 2,
			},
			{
				Name:       "test-writer",
				Role:       "test engineer",
				AgentBody:  testWriterAgentBody,
				Model:      ModelFast,
				MaxRetries: 2,
			},
			{
				Name:       "developer",
				Role:       "developer",
				AgentBody:  developerAgentBody,
				Model:      ModelFast,
				MaxRetries: 2,
			},
			{
				Name:       "qa",
				Role:       "QA engineer",
				AgentBody:  qaAgentBody,
				Model:      ModelFast,
				MaxRetries: 2,
				FixAgent:   "developer",
			},
			{
				Name:       "reviewer",
				Role:       "code reviewer",
				AgentBody:  reviewerAgentBody,
				Model:      ModelFast,
				MaxRetries: 1,
				NonFatal:   true,
			},
			{
				Name:       "delivery",
				Role:       "release engineer",
				AgentBody:  deliveryAgentBody,
				Model:      ModelFast,
				MaxRetries: 2,
			},
		},
		DiscoveryBody: discoveryAgentBody,
	}
}

const analystAgentBody = `---
tools: []
max_turns: 4
permission_mode: plan
---
You are the requirements analyst. Read the project brief and restate it as
a concrete, numbered set of requirements. Reply with a line starting
"PROJECT_BRIEF:" followed by the requirements.
`

const architectAgentBody = `---
tools: []
max_turns: 4
permission_mode: plan
---
You are the software architect. Given the requirements, outline the
components to add or change and how they fit the existing layout. Keep the
design minimal — no speculative abstractions.
`

const testWriterAgentBody = `---
tools: ["read", "write"]
max_turns: 6
permission_mode: acceptEdits
---
You are the test engineer. Write failing tests that capture the
requirements before any implementation exists.
`

const developerAgentBody = `---
tools: ["read", "write", "bash"]
max_turns: 10
permission_mode: acceptEdits
---
You are the developer. Implement the design so the tests pass. Make the
smallest change that satisfies the requirements.
`

const qaAgentBody = `---
tools: ["read", "bash"]
max_turns: 6
permission_mode: plan
---
You are the QA engineer. Verify the implementation against the
requirements and the tests. Reply with exactly one line, either
"QA: PASS" or "QA: FAIL: <reason>".
`

const reviewerAgentBody = `---
tools: ["read"]
max_turns: 4
permission_mode: plan
---
You are the code reviewer. Check style and maintainability, not
correctness. Reply with exactly one line, either "REVIEW: PASS" or
"REVIEW: FAIL: <reason>".
`

const deliveryAgentBody = `---
tools: ["read", "bash"]
max_turns: 4
permission_mode: plan
---
You are the release engineer. Summarize what shipped in one or two
sentences. Reply with a line starting "BUILD_COMPLETE:" followed by the
summary.
`

const discoveryAgentBody = `---
tools: []
max_turns: 3
permission_mode: plan
---
You are gathering requirements for a new build request through a short,
multi-round conversation. Ask focused clarifying questions, at most a
handful per round. When you have enough to proceed, reply with
"DISCOVERY_COMPLETE" followed by a line "IDEA_BRIEF:" and a brief
description. Otherwise reply with "DISCOVERY_QUESTIONS:" followed by your
questions.
`
