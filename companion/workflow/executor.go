package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// StepEvent is published after a step's update has been merged.
type StepEvent struct {
	Step   StepName
	Update Update
}

// StepError reports which step aborted a run.
type StepError struct {
	Step StepName
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Executor drives runs over a validated graph.
type Executor struct {
	graph  *Graph
	logger zerolog.Logger
}

// NewExecutor validates g and returns an executor for it.
func NewExecutor(g *Graph, logger zerolog.Logger) (*Executor, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		graph:  g,
		logger: logger.With().Str("component", "workflow").Logger(),
	}, nil
}

// Graph exposes the graph the executor runs.
func (e *Executor) Graph() *Graph { return e.graph }

// Run is one in-flight execution.
type Run struct {
	ID     string
	events chan StepEvent
	done   chan struct{}
	result State
	err    error
}

// Events yields step completions in execution order and is closed when the run ends.
func (r *Run) Events() <-chan StepEvent { return r.events }

// Wait blocks until the run ends and returns the merged state. On error the
// returned state is the zero value and nothing from the run should be committed.
func (r *Run) Wait() (State, error) {
	<-r.done
	return r.result, r.err
}

// Run starts executing from the graph entry on its own goroutine. The input state
// is copied; the caller's value is never modified.
//
// The events channel holds one slot per node and a node runs at most once, so the
// worker never blocks on a consumer that stopped reading.
func (e *Executor) Run(ctx context.Context, st State, rc RunContext) *Run {
	r := &Run{
		ID:     uuid.NewString(),
		events: make(chan StepEvent, len(e.graph.Nodes)),
		done:   make(chan struct{}),
	}
	work := st.Clone()
	go e.execute(ctx, r, work, rc)
	return r
}

func (e *Executor) execute(ctx context.Context, r *Run, work State, rc RunContext) {
	defer close(r.done)
	defer close(r.events)

	logger := e.logger.With().
		Str("run_id", r.ID).
		Str("conversation_id", work.ConversationID).
		Str("page", string(rc.Page)).
		Logger()
	started := time.Now()

	visited := make(map[StepName]bool, len(e.graph.Nodes))
	cur := e.graph.Entry
	for cur != End {
		if err := ctx.Err(); err != nil {
			r.err = &StepError{Step: cur, Err: err}
			logger.Warn().Str("step", string(cur)).Err(err).Msg("run cancelled")
			return
		}
		if visited[cur] {
			r.err = &StepError{Step: cur, Err: fmt.Errorf("%w: re-entry", ErrInvalidGraph)}
			return
		}
		visited[cur] = true

		step, ok := e.graph.Nodes[cur]
		if !ok {
			r.err = &StepError{Step: cur, Err: ErrUnknownStep}
			return
		}

		stepStart := time.Now()
		upd, err := runStep(ctx, step, work.Clone(), rc)
		if err != nil {
			r.err = &StepError{Step: cur, Err: err}
			logger.Error().Str("step", string(cur)).Dur("elapsed", time.Since(stepStart)).Err(err).Msg("step failed")
			return
		}
		work.Apply(upd)
		logger.Debug().Str("step", string(cur)).Dur("elapsed", time.Since(stepStart)).Msg("step done")
		r.events <- StepEvent{Step: cur, Update: upd}

		next, err := e.graph.Next(cur, rc)
		if err != nil {
			r.err = &StepError{Step: cur, Err: err}
			return
		}
		cur = next
	}

	r.result = work
	logger.Debug().Dur("elapsed", time.Since(started)).Int("turn_count", work.TurnCount).Msg("run complete")
}

// runStep converts a panicking step into an error so it aborts the run like any
// other failure.
func runStep(ctx context.Context, step StepFunc, st State, rc RunContext) (upd Update, err error) {
	var pc panics.Catcher
	pc.Try(func() { upd, err = step(ctx, st, rc) })
	if rec := pc.Recovered(); rec != nil {
		return Update{}, rec.AsError()
	}
	return upd, err
}
