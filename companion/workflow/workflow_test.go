package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, st State, rc RunContext) (Update, error) { return Update{}, nil }

func appendStep(text string) StepFunc {
	return func(ctx context.Context, st State, rc RunContext) (Update, error) {
		return Update{AppendMessages: []Message{Agent(text)}, LastReply: Ptr(text)}, nil
	}
}

// linearGraph: a -> b -> c -> end
func linearGraph(a, b, c StepFunc) *Graph {
	return &Graph{
		Entry: "a",
		Nodes: map[StepName]StepFunc{"a": a, "b": b, "c": c},
		Edges: map[StepName]StepName{"a": "b", "b": "c", "c": End},
	}
}

func TestState_ApplyAppendsListsAndOverwritesScalars(t *testing.T) {
	st := State{ShortMemory: []Message{Human("hi")}, TurnCount: 3, LastReply: "old"}

	st.Apply(Update{AppendMessages: []Message{Agent("hello")}, TurnCount: Ptr(4)})
	st.Apply(Update{AppendMessages: []Message{Human("again")}, LastReply: Ptr("new")})

	assert.Equal(t, []Message{Human("hi"), Agent("hello"), Human("again")}, st.ShortMemory)
	assert.Equal(t, 4, st.TurnCount)
	assert.Equal(t, "new", st.LastReply)
	assert.Nil(t, st.Artifacts)
}

func TestState_ApplyEvictsBeforeAppending(t *testing.T) {
	st := State{ShortMemory: []Message{Human("1"), Agent("2"), Human("3"), Agent("4")}}

	st.Apply(Update{Evict: 2, AppendMessages: []Message{Human("5")}})

	assert.Equal(t, []Message{Human("3"), Agent("4"), Human("5")}, st.ShortMemory)

	st.Apply(Update{Evict: 10})
	assert.Empty(t, st.ShortMemory)
}

func TestState_ApplyAttachImageTargetsNewestMessage(t *testing.T) {
	st := State{ShortMemory: []Message{Human("look"), Agent("here it is")}}

	st.Apply(Update{AttachImage: Ptr("talk_picture/a.png"), AppendMessages: []Message{Agent("Sent a picture: cake")}})

	require.Len(t, st.ShortMemory, 3)
	assert.Equal(t, "talk_picture/a.png", st.ShortMemory[1].ImageRef)
	assert.Empty(t, st.ShortMemory[2].ImageRef)
}

func TestState_ApplyArtifacts(t *testing.T) {
	st := State{}
	st.Apply(Update{Posts: []PostDraft{{Caption: "c", Labels: []string{"x"}}}})
	st.Apply(Update{PostPictures: []string{"", "p.png"}, Diary: Ptr("dear diary")})

	require.NotNil(t, st.Artifacts)
	assert.Len(t, st.Artifacts.Posts, 1)
	assert.Equal(t, []string{"", "p.png"}, st.Artifacts.PostPictures)
	assert.Equal(t, "dear diary", st.Artifacts.Diary)
}

func TestState_CloneDoesNotAlias(t *testing.T) {
	orig := State{
		ShortMemory: []Message{Human("a")},
		LongMemory:  map[string]string{"trip": "we went"},
		Artifacts:   &Artifacts{Posts: []PostDraft{{Labels: []string{"l"}}}},
	}
	cp := orig.Clone()
	cp.ShortMemory[0].Content = "changed"
	cp.LongMemory["trip"] = "changed"
	cp.Artifacts.Posts[0].Labels[0] = "changed"

	assert.Equal(t, "a", orig.ShortMemory[0].Content)
	assert.Equal(t, "we went", orig.LongMemory["trip"])
	assert.Equal(t, "l", orig.Artifacts.Posts[0].Labels[0])
}

func TestUpdate_Empty(t *testing.T) {
	assert.True(t, Update{}.Empty())
	assert.False(t, Update{TurnCount: Ptr(0)}.Empty())
	assert.False(t, Update{Evict: 1}.Empty())
}

func TestGraph_ValidateAcceptsLinearGraph(t *testing.T) {
	assert.NoError(t, linearGraph(noop, noop, noop).Validate())
}

func TestGraph_ValidateRejectsDanglingEdge(t *testing.T) {
	g := linearGraph(noop, noop, noop)
	g.Edges["c"] = "missing"

	err := g.Validate()
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "dangling")
}

func TestGraph_ValidateRejectsUnreachableNode(t *testing.T) {
	g := linearGraph(noop, noop, noop)
	g.Nodes["orphan"] = noop
	g.Edges["orphan"] = End

	err := g.Validate()
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestGraph_ValidateRejectsCycle(t *testing.T) {
	g := linearGraph(noop, noop, noop)
	g.Edges["c"] = "a"

	err := g.Validate()
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.Contains(t, err.Error(), "cycle")
}

func TestGraph_ValidateRejectsNodeWithoutExit(t *testing.T) {
	g := linearGraph(noop, noop, noop)
	delete(g.Edges, "c")

	assert.ErrorIs(t, g.Validate(), ErrInvalidGraph)
}

func TestGraph_BranchRouting(t *testing.T) {
	g := &Graph{
		Entry: "start",
		Nodes: map[StepName]StepFunc{"start": noop, "left": noop, "right": noop},
		Edges: map[StepName]StepName{"left": End, "right": End},
		Branches: map[StepName]Branch{
			"start": {
				Targets: []StepName{"left", "right"},
				Route: func(rc RunContext) (StepName, error) {
					switch rc.Page {
					case PageGenerateDiary:
						return "left", nil
					case PageOptimizeMemory:
						return "right", nil
					case PageGenerateDynamicCondition:
						return "nowhere", nil
					}
					return "", ErrNoRoute
				},
			},
		},
	}
	require.NoError(t, g.Validate())

	path, err := g.Path(RunContext{Page: PageGenerateDiary})
	require.NoError(t, err)
	assert.Equal(t, []StepName{"start", "left"}, path)

	path, err = g.Path(RunContext{Page: PageOptimizeMemory})
	require.NoError(t, err)
	assert.Equal(t, []StepName{"start", "right"}, path)

	_, err = g.Path(RunContext{Page: PageGenerateDynamicCondition})
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = g.Path(RunContext{Page: "bogus"})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestExecutor_RunsStepsInOrderAndMergesState(t *testing.T) {
	var seen [][]Message
	record := func(text string) StepFunc {
		return func(ctx context.Context, st State, rc RunContext) (Update, error) {
			seen = append(seen, st.ShortMemory)
			return appendStep(text)(ctx, st, rc)
		}
	}
	ex, err := NewExecutor(linearGraph(record("a"), record("b"), record("c")), zerolog.Nop())
	require.NoError(t, err)

	input := State{ConversationID: "char_1_chat", ShortMemory: []Message{Human("hi")}}
	run := ex.Run(context.Background(), input, RunContext{Page: PageOptimizeMemory})

	var order []StepName
	for ev := range run.Events() {
		order = append(order, ev.Step)
	}
	final, err := run.Wait()
	require.NoError(t, err)

	assert.Equal(t, []StepName{"a", "b", "c"}, order)
	// each step sees the merged output of the previous ones
	assert.Len(t, seen[0], 1)
	assert.Len(t, seen[1], 2)
	assert.Len(t, seen[2], 3)
	assert.Equal(t, "c", final.LastReply)
	assert.Len(t, final.ShortMemory, 4)
	// input untouched
	assert.Len(t, input.ShortMemory, 1)
}

func TestExecutor_FailedStepAbortsRun(t *testing.T) {
	boom := errors.New("completion unavailable")
	calledC := false
	c := func(ctx context.Context, st State, rc RunContext) (Update, error) {
		calledC = true
		return Update{}, nil
	}
	failing := func(ctx context.Context, st State, rc RunContext) (Update, error) {
		return Update{}, boom
	}
	ex, err := NewExecutor(linearGraph(appendStep("a"), failing, c), zerolog.Nop())
	require.NoError(t, err)

	run := ex.Run(context.Background(), State{}, RunContext{})
	var order []StepName
	for ev := range run.Events() {
		order = append(order, ev.Step)
	}
	final, err := run.Wait()

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepName("b"), stepErr.Step)
	assert.Equal(t, []StepName{"a"}, order)
	assert.False(t, calledC)
	assert.Empty(t, final.ShortMemory)
}

func TestExecutor_PanickingStepBecomesError(t *testing.T) {
	panicky := func(ctx context.Context, st State, rc RunContext) (Update, error) {
		panic("nil map write")
	}
	ex, err := NewExecutor(linearGraph(noop, panicky, noop), zerolog.Nop())
	require.NoError(t, err)

	_, err = ex.Run(context.Background(), State{}, RunContext{}).Wait()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map write")
}

func TestExecutor_DoesNotBlockWhenEventsAreNotDrained(t *testing.T) {
	ex, err := NewExecutor(linearGraph(appendStep("a"), appendStep("b"), appendStep("c")), zerolog.Nop())
	require.NoError(t, err)

	run := ex.Run(context.Background(), State{}, RunContext{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = run.Wait()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run blocked on undrained events")
	}
}

func TestExecutor_CancelledContextStopsBeforeNextStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := func(ctx context.Context, st State, rc RunContext) (Update, error) {
		cancel()
		return Update{}, nil
	}
	ex, err := NewExecutor(linearGraph(cancelling, noop, noop), zerolog.Nop())
	require.NoError(t, err)

	_, err = ex.Run(ctx, State{}, RunContext{}).Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewExecutor_RejectsInvalidGraph(t *testing.T) {
	_, err := NewExecutor(&Graph{Entry: "x"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidGraph)
}
