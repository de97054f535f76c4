package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/services"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

type fakeGenerator struct {
	reply string
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.block != nil {
		<-g.block
	}
	return g.reply, g.err
}

type member struct {
	mu      sync.Mutex
	project *models.Project
	events  []bus.Event
}

func (m *member) Deliver(ev bus.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return true
}

func (m *member) SetProject(p *models.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.project = p
}

type fixture struct {
	mem      *store.Memory
	projects *services.ProjectService
	reg      *bus.Registry
	member   *member
	project  *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	projects := services.NewProjectService(mem)
	p, err := projects.CreateProject(ctx, "demo", "u1")
	require.NoError(t, err)
	p, err = projects.ReplaceTree(ctx, p.ID, filetree.Tree{
		"a.js": filetree.FileNode("old a"),
		"b.js": filetree.FileNode("old b"),
	})
	require.NoError(t, err)

	reg := bus.NewRegistry(mem, time.Second, logger.Discard())
	m := &member{project: p.Clone()}
	reg.Join(p.ID, m)
	t.Cleanup(func() { reg.Leave(p.ID, m) })
	return &fixture{mem: mem, projects: projects, reg: reg, member: m, project: p}
}

func (f *fixture) adapter(gen Generator) *Adapter {
	return NewAdapter(gen, f.projects, f.reg, time.Second, logger.Discard())
}

func (f *fixture) aiMessages() []models.Message {
	var out []models.Message
	for _, msg := range f.mem.Messages(f.project.ID) {
		if msg.Sender.IsAI() {
			out = append(out, msg)
		}
	}
	return out
}

func TestPrompt(t *testing.T) {
	assert.True(t, Triggered("hey @ai do it"))
	assert.False(t, Triggered("hey ai"))
	assert.Equal(t, "do it", Prompt("@ai do it"))
	assert.Equal(t, "use @ai twice", Prompt("@ai use @ai twice"))
	assert.Equal(t, "", Prompt("  @ai  "))
}

func TestEmptyPromptGetsHelpWithoutCall(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{}
	f.adapter(gen).Handle(context.Background(), f.project.ID, "@ai")

	assert.Equal(t, int32(0), gen.calls.Load())
	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, HelpReply, msgs[0].Body)
	assert.Equal(t, models.AISender(), msgs[0].Sender)
}

func TestInvalidReplyGetsApologyWithoutMutation(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: "not json"}
	f.adapter(gen).Handle(context.Background(), f.project.ID, "@ai make a server")

	assert.Equal(t, int32(1), gen.calls.Load())
	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ApologyReply, msgs[0].Body)

	p, err := f.projects.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.True(t, f.project.FileTree.Equal(p.FileTree))
}

func TestGeneratorErrorGetsApology(t *testing.T) {
	f := newFixture(t)
	f.adapter(&fakeGenerator{err: errors.New("quota")}).Handle(context.Background(), f.project.ID, "@ai hi")

	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ApologyReply, msgs[0].Body)
}

func TestTextReplyIsPublishedVerbatim(t *testing.T) {
	f := newFixture(t)
	raw := `{"text":"Hello!"}`
	f.adapter(&fakeGenerator{reply: raw}).Handle(context.Background(), f.project.ID, "@ai hi")

	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, raw, msgs[0].Body)

	f.member.mu.Lock()
	defer f.member.mu.Unlock()
	require.Len(t, f.member.events, 1)
	assert.Equal(t, bus.TypeChatMessage, f.member.events[0].Type)
}

func TestFileTreeReplyMergesAndRefreshesRoom(t *testing.T) {
	f := newFixture(t)
	raw := `{"text":"t","fileTree":{"a.js":{"file":{"contents":"new a"}}}}`
	f.adapter(&fakeGenerator{reply: raw}).Handle(context.Background(), f.project.ID, "@ai update a")

	p, err := f.projects.GetProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "new a", p.FileTree["a.js"].File.Contents)
	assert.Equal(t, "old b", p.FileTree["b.js"].File.Contents)

	f.member.mu.Lock()
	assert.Equal(t, "new a", f.member.project.FileTree["a.js"].File.Contents)
	assert.Equal(t, "old b", f.member.project.FileTree["b.js"].File.Contents)
	f.member.mu.Unlock()

	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, raw, msgs[0].Body)
}

func TestMergeFailureGetsApology(t *testing.T) {
	f := newFixture(t)
	raw := `{"text":"t","fileTree":{"a.js":{"file":{"contents":"new a"}}}}`
	a := NewAdapter(&fakeGenerator{reply: raw}, failingMerger{}, f.reg, time.Second, logger.Discard())
	a.Handle(context.Background(), f.project.ID, "@ai update a")

	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ApologyReply, msgs[0].Body)
}

type failingMerger struct{}

func (failingMerger) MergeTree(context.Context, string, filetree.Tree) (*models.Project, error) {
	return nil, errors.New("db down")
}

func TestDispatcherRunsTurnsInBackground(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: `{"text":"ok"}`, block: make(chan struct{})}
	d, err := NewDispatcher(f.adapter(gen), 1, logger.Discard())
	require.NoError(t, err)

	d.Dispatch(f.project.ID, "@ai one")
	require.Eventually(t, func() bool { return gen.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	// The only worker is busy, so this turn is rejected immediately.
	d.Dispatch(f.project.ID, "@ai two")
	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ApologyReply, msgs[0].Body)

	close(gen.block)
	d.Close()
	msgs = f.aiMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"text":"ok"}`, msgs[1].Body)
}

func TestDispatchAfterCloseGetsApology(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: `{"text":"ok"}`}
	d, err := NewDispatcher(f.adapter(gen), 2, logger.Discard())
	require.NoError(t, err)
	d.Close()
	d.Close()

	d.Dispatch(f.project.ID, "@ai late")
	assert.Zero(t, gen.calls.Load())
	msgs := f.aiMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, ApologyReply, msgs[0].Body)
}

func TestDispatchRacingCloseNeverLosesTurns(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: `{"text":"ok"}`}
	d, err := NewDispatcher(f.adapter(gen), 64, logger.Discard())
	require.NoError(t, err)

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(f.project.ID, "@ai hi")
		}()
	}
	d.Close()
	wg.Wait()

	// Every turn was either run before Close returned or rejected.
	assert.Len(t, f.aiMessages(), turns)
}
