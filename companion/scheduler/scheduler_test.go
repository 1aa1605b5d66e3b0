package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/companion-graph/companion"
	"github.com/ZanzyTHEbar/companion-graph/companion/checkpoint"
	"github.com/ZanzyTHEbar/companion-graph/companion/store"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

type memDiaries struct {
	mu      sync.Mutex
	entries []store.Diary
}

func (m *memDiaries) Add(ctx context.Context, conversationID, content string) (store.Diary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := store.Diary{ID: int64(len(m.entries) + 1), ConversationID: conversationID, Content: content}
	m.entries = append(m.entries, d)
	return d, nil
}

type memPosts struct {
	mu    sync.Mutex
	posts []store.Post
}

func (m *memPosts) Add(ctx context.Context, p store.Post) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = int64(len(m.posts) + 1)
	m.posts = append(m.posts, p)
	return p, nil
}

// sideEffectGraph mirrors the routing of the real graph with canned steps.
type sideEffectGraph struct {
	mu      sync.Mutex
	pages   []workflow.Page
	diaryFn workflow.StepFunc
}

func (g *sideEffectGraph) executor(t *testing.T) *workflow.Executor {
	start := func(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
		g.mu.Lock()
		g.pages = append(g.pages, rc.Page)
		g.mu.Unlock()
		return workflow.Update{}, nil
	}
	diary := g.diaryFn
	if diary == nil {
		diary = func(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
			return workflow.Update{Diary: workflow.Ptr("dear diary"), TurnCount: workflow.Ptr(0)}, nil
		}
	}
	posts := func(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
		return workflow.Update{Posts: []workflow.PostDraft{
			{Caption: "bread", Time: "07:00", Labels: []string{"bakery"}},
			{Caption: "rain", Time: "18:00"},
			{Caption: "stars", Time: "23:00"},
		}}, nil
	}
	pictures := func(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
		return workflow.Update{PostPictures: []string{"a.png", "", "c.png"}}, nil
	}
	ex, err := workflow.NewExecutor(&workflow.Graph{
		Entry: "start",
		Nodes: map[workflow.StepName]workflow.StepFunc{
			"start": start, "diary": diary, "posts": posts, "pictures": pictures,
		},
		Edges: map[workflow.StepName]workflow.StepName{
			"diary": workflow.End, "posts": "pictures", "pictures": workflow.End,
		},
		Branches: map[workflow.StepName]workflow.Branch{
			"start": {
				Targets: []workflow.StepName{"diary", "posts"},
				Route: func(rc workflow.RunContext) (workflow.StepName, error) {
					if rc.Page == workflow.PageGenerateDiary {
						return "diary", nil
					}
					return "posts", nil
				},
			},
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	return ex
}

type fixture struct {
	sched       *Scheduler
	graph       *sideEffectGraph
	diaries     *memDiaries
	posts       *memPosts
	checkpoints *checkpoint.MemoryStore
	locker      *checkpoint.Locker
}

func newFixture(t *testing.T, graph *sideEffectGraph) *fixture {
	f := &fixture{
		graph:       graph,
		diaries:     &memDiaries{},
		posts:       &memPosts{},
		checkpoints: checkpoint.NewMemoryStore(),
		locker:      checkpoint.NewLocker(),
	}
	f.sched = New(DefaultPolicy(), graph.executor(t), f.checkpoints, f.locker, f.diaries, f.posts, 0, zerolog.Nop())
	return f
}

func turnState(n int) workflow.State {
	return workflow.State{ConversationID: companion.ChatThreadID(7), TurnCount: n, CharacterName: "Mio"}
}

func TestPolicy_Decide(t *testing.T) {
	p := DefaultPolicy()
	cases := map[int]Kind{
		0: KindNone, 1: KindNone, 29: KindNone,
		30: KindPosts, 31: KindNone,
		60: KindDiary,
		90: KindNone, 120: KindNone,
	}
	for n, want := range cases {
		assert.Equal(t, want, p.Decide(n), "turn count %d", n)
	}
}

func TestPolicy_DiaryTakesPrecedence(t *testing.T) {
	p := Policy{PostEvery: 20, PostCeiling: 80, DiaryAt: 40}
	assert.Equal(t, KindDiary, p.Decide(40))
	assert.Equal(t, KindPosts, p.Decide(20))
	assert.Equal(t, KindPosts, p.Decide(60))
}

func TestScheduler_NothingDue(t *testing.T) {
	f := newFixture(t, &sideEffectGraph{})

	out, err := f.sched.After(context.Background(), 7, turnState(12))
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
	assert.Empty(t, f.graph.pages)
}

func TestScheduler_PostsAtThirty(t *testing.T) {
	f := newFixture(t, &sideEffectGraph{})

	out, err := f.sched.After(context.Background(), 7, turnState(30))
	require.NoError(t, err)

	assert.Equal(t, []workflow.Page{workflow.PageGenerateDynamicCondition}, f.graph.pages)
	assert.Equal(t, KindPosts, out.Kind)
	assert.Equal(t, EventNewMoment, out.Event)
	assert.False(t, out.ResetTurnCount)
	require.Len(t, out.Posts, 3)
	require.Len(t, f.posts.posts, 3)
	assert.Empty(t, f.diaries.entries)

	assert.Equal(t, "char_7_chat", f.posts.posts[0].ConversationID)
	assert.Equal(t, "a.png", f.posts.posts[0].ImagePath)
	assert.Equal(t, "", f.posts.posts[1].ImagePath)
	assert.Equal(t, "c.png", f.posts.posts[2].ImagePath)
	assert.Equal(t, "07:00", f.posts.posts[0].PostedAt)

	// recorded under the text thread only
	cp, found, err := f.checkpoints.Load(context.Background(), companion.TextThreadID(7))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, companion.TextThreadID(7), cp.State.ConversationID)
	assert.Len(t, cp.State.Artifacts.Posts, 3)
	_, found, err = f.checkpoints.Load(context.Background(), companion.ChatThreadID(7))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestScheduler_DiaryAtSixty(t *testing.T) {
	f := newFixture(t, &sideEffectGraph{})

	out, err := f.sched.After(context.Background(), 7, turnState(60))
	require.NoError(t, err)

	assert.Equal(t, []workflow.Page{workflow.PageGenerateDiary}, f.graph.pages)
	assert.Equal(t, KindDiary, out.Kind)
	assert.Equal(t, EventNewDiary, out.Event)
	assert.True(t, out.ResetTurnCount)
	require.NotNil(t, out.Diary)
	assert.Equal(t, "dear diary", out.Diary.Content)
	require.Len(t, f.diaries.entries, 1)
	assert.Empty(t, f.posts.posts)
}

func TestScheduler_RepeatedRunsAdvanceTextCheckpoint(t *testing.T) {
	f := newFixture(t, &sideEffectGraph{})
	ctx := context.Background()

	_, err := f.sched.After(ctx, 7, turnState(30))
	require.NoError(t, err)
	_, err = f.sched.After(ctx, 7, turnState(60))
	require.NoError(t, err)

	cp, _, err := f.checkpoints.Load(ctx, companion.TextThreadID(7))
	require.NoError(t, err)
	assert.EqualValues(t, 2, cp.Version)
}

func TestScheduler_DiaryFailureKeepsTurnCount(t *testing.T) {
	boom := errors.New("creative model unavailable")
	f := newFixture(t, &sideEffectGraph{diaryFn: func(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
		return workflow.Update{}, boom
	}})

	out, err := f.sched.After(context.Background(), 7, turnState(60))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, KindDiary, out.Kind)
	assert.Empty(t, out.Event)
	assert.False(t, out.ResetTurnCount)
	assert.Empty(t, f.diaries.entries)

	_, found, err := f.checkpoints.Load(context.Background(), companion.TextThreadID(7))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestScheduler_BusyTextThread(t *testing.T) {
	f := newFixture(t, &sideEffectGraph{})
	unlock, ok := f.locker.TryLock(companion.TextThreadID(7))
	require.True(t, ok)
	defer unlock()

	_, err := f.sched.After(context.Background(), 7, turnState(30))
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, f.graph.pages)

	// a different character is unaffected
	_, err = f.sched.After(context.Background(), 8, turnState(30))
	assert.NoError(t, err)
}
