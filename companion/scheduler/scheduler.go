// Package scheduler decides, after each completed turn, whether a diary or a
// social-post run is due, and executes and persists it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion"
	"github.com/ZanzyTHEbar/companion-graph/companion/checkpoint"
	"github.com/ZanzyTHEbar/companion-graph/companion/store"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

// Client-visible notifications announced after a successful side-effect run.
const (
	EventNewMoment = "new_moment_available"
	EventNewDiary  = "new_diary_available"
)

// ErrBusy is returned when a side-effect run for the same character is still in flight.
var ErrBusy = errors.New("side-effect run already in flight")

// Kind is the type of side-effect run.
type Kind string

const (
	KindNone  Kind = ""
	KindPosts Kind = "posts"
	KindDiary Kind = "diary"
)

// Policy holds the turn-count thresholds.
type Policy struct {
	PostEvery   int // posts fire on multiples of this
	PostCeiling int // and only below this
	DiaryAt     int // the diary fires exactly here
}

func DefaultPolicy() Policy {
	return Policy{PostEvery: 30, PostCeiling: 80, DiaryAt: 60}
}

// Decide returns the run due at turnCount. The diary wins when both match.
func (p Policy) Decide(turnCount int) Kind {
	if p.DiaryAt > 0 && turnCount == p.DiaryAt {
		return KindDiary
	}
	if p.PostEvery > 0 && turnCount > 0 && turnCount < p.PostCeiling && turnCount%p.PostEvery == 0 {
		return KindPosts
	}
	return KindNone
}

// Runner starts workflow runs. *workflow.Executor implements it.
type Runner interface {
	Run(ctx context.Context, st workflow.State, rc workflow.RunContext) *workflow.Run
}

type DiaryStore interface {
	Add(ctx context.Context, conversationID, content string) (store.Diary, error)
}

type PostStore interface {
	Add(ctx context.Context, p store.Post) (store.Post, error)
}

// Outcome describes what a side-effect run produced.
type Outcome struct {
	Kind  Kind
	Event string // notification to announce; empty when nothing ran
	// ResetTurnCount asks the caller to zero the conversation's turn counter.
	ResetTurnCount bool
	Diary          *store.Diary
	Posts          []store.Post
}

type Scheduler struct {
	policy      Policy
	runner      Runner
	checkpoints checkpoint.Store
	locker      *checkpoint.Locker
	diaries     DiaryStore
	posts       PostStore
	timeout     time.Duration
	logger      zerolog.Logger
}

func New(policy Policy, runner Runner, checkpoints checkpoint.Store, locker *checkpoint.Locker, diaries DiaryStore, posts PostStore, timeout time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		policy:      policy,
		runner:      runner,
		checkpoints: checkpoints,
		locker:      locker,
		diaries:     diaries,
		posts:       posts,
		timeout:     timeout,
		logger:      logger.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Policy() Policy { return s.policy }

// After inspects the committed turn state and runs the side effect that is due,
// under the character's text thread so it never touches the conversation
// checkpoint. A zero Outcome means nothing was due.
func (s *Scheduler) After(ctx context.Context, characterID int64, st workflow.State) (Outcome, error) {
	kind := s.policy.Decide(st.TurnCount)
	if kind == KindNone {
		return Outcome{}, nil
	}

	threadID := companion.TextThreadID(characterID)
	logger := s.logger.With().
		Str("thread_id", threadID).
		Str("conversation_id", st.ConversationID).
		Str("kind", string(kind)).
		Int("turn_count", st.TurnCount).
		Logger()

	unlock, ok := s.locker.TryLock(threadID)
	if !ok {
		return Outcome{Kind: kind}, fmt.Errorf("%w: %s", ErrBusy, threadID)
	}
	defer unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	page := workflow.PageGenerateDynamicCondition
	if kind == KindDiary {
		page = workflow.PageGenerateDiary
	}

	cp, _, err := s.checkpoints.Load(ctx, threadID)
	if err != nil {
		return Outcome{Kind: kind}, err
	}

	logger.Info().Msg("side-effect run starting")
	final, err := s.runner.Run(ctx, st, workflow.RunContext{Page: page, UserID: st.ConversationID}).Wait()
	if err != nil {
		logger.Error().Err(err).Msg("side-effect run failed")
		return Outcome{Kind: kind}, err
	}

	out := Outcome{Kind: kind}
	switch kind {
	case KindDiary:
		if err := s.persistDiary(ctx, st.ConversationID, final, &out); err != nil {
			return Outcome{Kind: kind}, err
		}
		out.Event = EventNewDiary
		out.ResetTurnCount = final.TurnCount == 0
	case KindPosts:
		if err := s.persistPosts(ctx, st.ConversationID, final, &out); err != nil {
			return Outcome{Kind: kind}, err
		}
		out.Event = EventNewMoment
	}

	final.ConversationID = threadID
	if _, err := s.checkpoints.Save(ctx, threadID, final, cp.Version); err != nil {
		// The artifacts are already stored; the text thread only mirrors them.
		logger.Warn().Err(err).Msg("could not checkpoint side-effect thread")
	}
	logger.Info().Str("event", out.Event).Int("posts", len(out.Posts)).Msg("side-effect run done")
	return out, nil
}

func (s *Scheduler) persistDiary(ctx context.Context, conversationID string, final workflow.State, out *Outcome) error {
	if final.Artifacts == nil || final.Artifacts.Diary == "" {
		return fmt.Errorf("diary run produced no entry")
	}
	d, err := s.diaries.Add(ctx, conversationID, final.Artifacts.Diary)
	if err != nil {
		return err
	}
	out.Diary = &d
	return nil
}

func (s *Scheduler) persistPosts(ctx context.Context, conversationID string, final workflow.State, out *Outcome) error {
	if final.Artifacts == nil || len(final.Artifacts.Posts) == 0 {
		return fmt.Errorf("social-post run produced no drafts")
	}
	pictures := final.Artifacts.PostPictures
	for i, draft := range final.Artifacts.Posts {
		p := store.Post{
			ConversationID: conversationID,
			Caption:        draft.Caption,
			Labels:         draft.Labels,
			PostedAt:       draft.Time,
		}
		if i < len(pictures) {
			p.ImagePath = pictures[i]
		}
		saved, err := s.posts.Add(ctx, p)
		if err != nil {
			return err
		}
		out.Posts = append(out.Posts, saved)
	}
	return nil
}
