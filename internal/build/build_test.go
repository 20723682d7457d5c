package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/promptctx"
	"github.com/omegahq/gateway/internal/providers"
	"github.com/omegahq/gateway/internal/store"
)

func TestValidateNameRejectsPathTraversal(t *testing.T) {
	assert.NoError(t, ValidateName("default"))
	assert.NoError(t, ValidateName("my-topology_2"))
	assert.Error(t, ValidateName("../etc/passwd"))
	assert.Error(t, ValidateName("with space"))
	assert.Error(t, ValidateName(""))
}

func TestLoadTopologyInstallsDefaultWithoutOverwritingExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "topology.toml")

	top, err := LoadTopology(path)
	require.NoError(t, err)
	assert.Len(t, top.Phases, 7)
	assert.Equal(t, "analyst", top.Phases[0].Name)
	assert.Equal(t, "delivery", top.Phases[len(top.Phases)-1].Name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	// Mutate the on-disk file, then reload: the installed copy must win,
	// never silently re-overwritten with the bundled default.
	require.NoError(t, os.WriteFile(path, append(data, []byte("\n# user edit\n")...), 0644))
	again, err := LoadTopology(path)
	require.NoError(t, err)
	assert.Len(t, again.Phases, 7)
}

func TestParseIdeaBriefJSON5AndPlainText(t *testing.T) {
	b, ok := ParseIdeaBrief("some preamble\nIDEA_BRIEF: {project: \"widget\", summary: 'a thing', requirements: [\"a\", \"b\",]}")
	require.True(t, ok)
	assert.Equal(t, "widget", b.Project)
	assert.Equal(t, []string{"a", "b"}, b.Requirements)

	b2, ok := ParseIdeaBrief("IDEA_BRIEF: just build a todo app")
	require.True(t, ok)
	assert.Equal(t, "just build a todo app", b2.Summary)

	_, ok = ParseIdeaBrief("no marker here")
	assert.False(t, ok)
}

// Precedence itself is applied by internal/discovery, which checks
// HasDiscoveryComplete first; here both markers must be detectable.
func TestDiscoveryMarkersBothDetectedInOneReply(t *testing.T) {
	text := "DISCOVERY_QUESTIONS: what else?\nDISCOVERY_COMPLETE\nIDEA_BRIEF: done"
	assert.True(t, HasDiscoveryComplete(text))
	assert.True(t, HasDiscoveryQuestions(text))
}

func TestParsePassFail(t *testing.T) {
	pass, reason, found := ParsePassFail("some chatter\nQA: PASS\n", "QA")
	assert.True(t, found)
	assert.True(t, pass)
	assert.Empty(t, reason)

	pass, reason, found = ParsePassFail("QA: FAIL: missing edge case", "QA")
	assert.True(t, found)
	assert.False(t, pass)
	assert.Equal(t, "missing edge case", reason)

	_, _, found = ParsePassFail("no verdict here", "QA")
	assert.False(t, found)
}

func TestParseBuildComplete(t *testing.T) {
	summary, ok := ParseBuildComplete("wrapping up\nBUILD_COMPLETE: shipped the widget endpoint")
	require.True(t, ok)
	assert.Equal(t, "shipped the widget endpoint", summary)
}

func TestAcquireAgentFilesWritesAndReleaseRemoves(t *testing.T) {
	workspace := t.TempDir()
	top := DefaultTopology()

	guard, err := AcquireAgentFiles(workspace, top.Phases, top.DiscoveryBody)
	require.NoError(t, err)

	agentsDir := filepath.Join(workspace, ".claude", "agents")
	for _, p := range top.Phases {
		_, err := os.Stat(filepath.Join(agentsDir, p.Name+".md"))
		assert.NoError(t, err, "expected agent file for phase %s", p.Name)
	}
	_, err = os.Stat(filepath.Join(agentsDir, "discovery.md"))
	assert.NoError(t, err)

	guard.Release()
	_, err = os.Stat(agentsDir)
	assert.True(t, os.IsNotExist(err))

	// Idempotent: releasing twice must not panic.
	guard.Release()
}

func TestLocalizeFallsBackToEnglishForUnknownLanguage(t *testing.T) {
	assert.Equal(t, localize("en", progressBuildDone), localize("xx", progressBuildDone))
	assert.NotEqual(t, localize("en", progressBuildDone), localize("ja", progressBuildDone))
}

// scriptedProvider replies with the next entry in replies each call, and is
// used to drive the Runner through a QA-fail-then-fix-then-pass sequence.
type scriptedProvider struct {
	name    string
	replies []string
	calls   int
}

func (s *scriptedProvider) Name() string        { return s.name }
func (s *scriptedProvider) RequiresAPIKey() bool { return false }
func (s *scriptedProvider) IsAvailable() bool    { return true }
func (s *scriptedProvider) Complete(_ context.Context, _ promptctx.Context) (bus.OutgoingMessage, error) {
	if s.calls >= len(s.replies) {
		return bus.OutgoingMessage{}, errors.New("scripted provider ran out of replies")
	}
	reply := s.replies[s.calls]
	s.calls++
	return bus.OutgoingMessage{Content: reply}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunnerHappyPath(t *testing.T) {
	top := &Topology{
		Name: "mini",
		Phases: []Phase{
			{Name: "analyst", Role: "analyst", AgentBody: "x", Model: ModelComplex, MaxRetries: 1},
			{Name: "delivery", Role: "release engineer", AgentBody: "x", Model: ModelFast, MaxRetries: 1},
		},
	}

	p := &scriptedProvider{name: "subprocess", replies: []string{
		"PROJECT_BRIEF: build a todo list",
		"BUILD_COMPLETE: shipped the todo list",
	}}
	registry := providers.NewRegistry()
	registry.Register(p)

	st := newTestStore(t)

	var notified []string
	r := &Runner{
		Topology:  top,
		Providers: registry,
		Store:     st,
		Workspace: t.TempDir(),
		Notify: func(_ context.Context, text string) {
			notified = append(notified, text)
		},
	}

	res, err := r.Run(context.Background(), Request{
		Sender:   "alice",
		Channel:  "telegram",
		Brief:    Brief{Summary: "build a todo list"},
		Language: "en",
	})
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, "shipped the todo list", res.Summary)
	assert.NotEmpty(t, notified)
}

func TestRunnerQAFailThenFixThenPass(t *testing.T) {
	top := &Topology{
		Name: "mini",
		Phases: []Phase{
			{Name: "developer", Role: "developer", AgentBody: "x", Model: ModelFast, MaxRetries: 1},
			{Name: "qa", Role: "QA engineer", AgentBody: "x", Model: ModelFast, MaxRetries: 1, FixAgent: "developer"},
			{Name: "delivery", Role: "release engineer", AgentBody: "x", Model: ModelFast, MaxRetries: 1},
		},
	}

	p := &scriptedProvider{name: "subprocess", replies: []string{
		"implemented the thing",              // developer
		"QA: FAIL: missing validation",        // qa, first pass
		"added validation",                    // developer fix
		"QA: PASS",                            // qa, re-check
		"BUILD_COMPLETE: shipped with fix",    // delivery
	}}
	registry := providers.NewRegistry()
	registry.Register(p)

	st := newTestStore(t)

	r := &Runner{
		Topology:  top,
		Providers: registry,
		Store:     st,
		Workspace: t.TempDir(),
	}

	res, err := r.Run(context.Background(), Request{
		Sender:  "bob",
		Channel: "whatsapp",
		Brief:   Brief{Summary: "add validation"},
	})
	require.NoError(t, err)
	assert.Equal(t, "shipped with fix", res.Summary)
	assert.Equal(t, 5, p.calls)
}

func TestRunnerQAStillFailingAfterFixStopsRun(t *testing.T) {
	top := &Topology{
		Name: "mini",
		Phases: []Phase{
			{Name: "qa", Role: "QA engineer", AgentBody: "x", Model: ModelFast, MaxRetries: 1, FixAgent: "developer"},
			{Name: "developer", Role: "developer", AgentBody: "x", Model: ModelFast, MaxRetries: 1},
		},
	}

	p := &scriptedProvider{name: "subprocess", replies: []string{
		"QA: FAIL: broken",
		"attempted a fix",
		"QA: FAIL: still broken",
	}}
	registry := providers.NewRegistry()
	registry.Register(p)

	st := newTestStore(t)
	r := &Runner{Topology: top, Providers: registry, Store: st, Workspace: t.TempDir()}

	res, err := r.Run(context.Background(), Request{Sender: "carol", Channel: "telegram", Brief: Brief{Summary: "x"}})
	require.Error(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, "qa", res.Phase)
}
