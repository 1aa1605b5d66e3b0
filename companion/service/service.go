// Package service runs conversation turns end to end: it validates the
// request, serializes turns per conversation, logs the human message, seeds or
// loads the checkpoint, drives the workflow, streams its progress, commits the
// result and triggers side effects.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/checkpoint"
	"github.com/ZanzyTHEbar/companion-graph/companion/memory"
	"github.com/ZanzyTHEbar/companion-graph/companion/scheduler"
	"github.com/ZanzyTHEbar/companion-graph/companion/store"
	"github.com/ZanzyTHEbar/companion-graph/companion/stream"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

type CharacterStore interface {
	Create(ctx context.Context, c store.Character) (store.Character, error)
	GetOwned(ctx context.Context, id int64, ownerID string) (store.Character, error)
	ListOwned(ctx context.Context, ownerID string) ([]store.Character, error)
}

type MessageStore interface {
	Append(ctx context.Context, conversationID string, msg workflow.Message) (store.ChatMessage, error)
	History(ctx context.Context, conversationID string) ([]store.ChatMessage, error)
	Recent(ctx context.Context, conversationID string) ([]workflow.Message, error)
}

type DiaryReader interface {
	List(ctx context.Context, conversationID string) ([]store.Diary, error)
}

type PostReader interface {
	List(ctx context.Context, conversationID string) ([]store.Post, error)
}

// SideEffects runs the post-turn scheduler. *scheduler.Scheduler implements it.
type SideEffects interface {
	After(ctx context.Context, characterID int64, st workflow.State) (scheduler.Outcome, error)
}

// Emitter receives the events of one turn. *stream.Emitter implements it.
type Emitter interface {
	Emit(ev stream.Event) bool
}

// Deps are the collaborators of the service.
type Deps struct {
	Characters  CharacterStore
	Messages    MessageStore
	Diaries     DiaryReader
	Posts       PostReader
	Checkpoints checkpoint.Store
	Locker      *checkpoint.Locker
	Runner      scheduler.Runner
	SideEffects SideEffects
}

type Options struct {
	ShortWindow    int
	PictureBaseURL string
	TurnTimeout    time.Duration
}

type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.ShortWindow <= 0 {
		opts.ShortWindow = memory.DefaultShortWindow
	}
	return &Service{deps: deps, opts: opts, logger: logger.With().Str("component", "service").Logger()}
}

// TurnRequest is one human message addressed to a character.
type TurnRequest struct {
	UserID      string
	CharacterID int64
	Text        string
}

func (r TurnRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.UserID) == "" {
		missing = append(missing, "user")
	}
	if r.CharacterID <= 0 {
		missing = append(missing, "character_id")
	}
	if strings.TrimSpace(r.Text) == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Turn is an admitted turn holding its conversation's lock.
type Turn struct {
	svc       *Service
	req       TurnRequest
	character store.Character
	unlock    func()
}

// Begin validates req, checks the character belongs to the user and claims the
// conversation. Nothing is mutated when it fails. The caller must Run or Close
// the returned turn.
func (s *Service) Begin(ctx context.Context, req TurnRequest) (*Turn, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	c, err := s.deps.Characters.GetOwned(ctx, req.CharacterID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCharacter, req.CharacterID)
	}
	if err != nil {
		return nil, err
	}
	unlock, ok := s.deps.Locker.TryLock(c.ConversationID())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationBusy, c.ConversationID())
	}
	req.Text = strings.TrimSpace(req.Text)
	return &Turn{svc: s, req: req, character: c, unlock: unlock}, nil
}

// Close releases the conversation without running the turn.
func (t *Turn) Close() { t.unlock() }

// Run executes the turn and streams it to emit: text and image events as the
// workflow produces them, then done, then at most one side-effect notification.
// A failure before done emits a single error event and leaves the checkpoint
// untouched.
//
// The run is detached from ctx cancellation: a client that disconnects stops
// receiving events but the turn still commits.
func (t *Turn) Run(ctx context.Context, emit Emitter) error {
	defer t.unlock()
	s := t.svc
	ctx = context.WithoutCancel(ctx)
	if s.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TurnTimeout)
		defer cancel()
	}

	convID := t.character.ConversationID()
	logger := s.logger.With().
		Str("conversation_id", convID).
		Int64("character_id", t.character.ID).
		Logger()

	fail := func(err error) error {
		kind := Classify(err)
		logger.Error().Str("kind", string(kind)).Err(err).Msg("turn failed")
		emit.Emit(stream.Error(string(kind), err.Error()))
		return err
	}

	cp, found, err := s.deps.Checkpoints.Load(ctx, convID)
	if err != nil {
		return fail(err)
	}
	var prior []workflow.Message
	if !found {
		if prior, err = s.deps.Messages.Recent(ctx, convID); err != nil {
			return fail(err)
		}
	}

	human := workflow.Human(t.req.Text)
	if _, err := s.deps.Messages.Append(ctx, convID, human); err != nil {
		return fail(err)
	}

	st := s.initialState(t.character, cp, found, prior, human)
	rc := workflow.RunContext{Page: workflow.PageOptimizeMemory, UserID: convID, FirstTurn: !found}

	run := s.deps.Runner.Run(ctx, st, rc)
	for ev := range run.Events() {
		if ev.Update.LastReply != nil {
			emit.Emit(stream.Text(*ev.Update.LastReply))
		}
		if ev.Update.PicturePath != nil {
			emit.Emit(stream.Image(s.pictureURL(*ev.Update.PicturePath)))
		}
	}
	final, err := run.Wait()
	if err != nil {
		return fail(err)
	}

	if _, err := s.deps.Checkpoints.Save(ctx, convID, final, cp.Version); err != nil {
		return fail(err)
	}

	reply := workflow.Message{Role: workflow.RoleAgent, Content: final.LastReply, ImageRef: final.LastPicturePath}
	if _, err := s.deps.Messages.Append(ctx, convID, reply); err != nil {
		logger.Warn().Err(err).Msg("reply committed to checkpoint but not logged to history")
	}
	emit.Emit(stream.Done())
	logger.Info().Int("turn_count", final.TurnCount).Bool("first_turn", !found).Int("short_memory", len(final.ShortMemory)).Msg("turn committed")

	// Side effects run under the text thread; the conversation is free for the
	// next turn while they do.
	t.unlock()
	s.sideEffects(ctx, t.character.ID, final, emit, logger)
	return nil
}

func (s *Service) initialState(c store.Character, cp checkpoint.Checkpoint, found bool, prior []workflow.Message, human workflow.Message) workflow.State {
	if found {
		st := cp.State
		st.ShortMemory = append(st.ShortMemory, human)
		st.CharacterName = c.Name
		st.CharacterProfile = c.Description
		st.Artifacts = nil
		return st
	}
	seed := memory.Bootstrap(prior, c.FirstLine, human, s.opts.ShortWindow)
	return workflow.State{
		ConversationID:   c.ConversationID(),
		ShortMemory:      seed.ShortMemory,
		CharacterName:    c.Name,
		CharacterProfile: c.Description,
		TurnCount:        seed.TurnCount,
	}
}

func (s *Service) sideEffects(ctx context.Context, characterID int64, final workflow.State, emit Emitter, logger zerolog.Logger) {
	if s.deps.SideEffects == nil {
		return
	}
	out, err := s.deps.SideEffects.After(ctx, characterID, final)
	if err != nil {
		logger.Warn().Str("kind", string(KindSideEffect)).Str("run", string(out.Kind)).Err(err).Msg("side-effect run failed")
		return
	}
	if out.ResetTurnCount {
		if err := s.resetTurnCount(ctx, final.ConversationID, final.TurnCount); err != nil {
			logger.Warn().Err(err).Msg("could not reset turn count after diary")
		}
	}
	if out.Event != "" {
		emit.Emit(stream.Notify(out.Event))
	}
}

// resetTurnCount rewinds the conversation counter by the diary threshold it
// reached. Turns committed while the diary was written keep their increments.
func (s *Service) resetTurnCount(ctx context.Context, convID string, reached int) error {
	unlock, err := s.deps.Locker.Lock(ctx, convID)
	if err != nil {
		return err
	}
	defer unlock()

	cp, found, err := s.deps.Checkpoints.Load(ctx, convID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no checkpoint for %s", convID)
	}
	st := cp.State
	st.TurnCount = max(st.TurnCount-reached, 0)
	_, err = s.deps.Checkpoints.Save(ctx, convID, st, cp.Version)
	return err
}

func (s *Service) pictureURL(path string) string {
	if path == "" {
		return ""
	}
	return strings.TrimRight(s.opts.PictureBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// owned resolves a character for read endpoints.
func (s *Service) owned(ctx context.Context, userID string, characterID int64) (store.Character, error) {
	if strings.TrimSpace(userID) == "" || characterID <= 0 {
		return store.Character{}, fmt.Errorf("%w: missing user or character", ErrValidation)
	}
	c, err := s.deps.Characters.GetOwned(ctx, characterID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Character{}, fmt.Errorf("%w: %d", ErrUnknownCharacter, characterID)
	}
	return c, err
}

// History returns the character's full chat log with picture urls resolved.
func (s *Service) History(ctx context.Context, userID string, characterID int64) ([]store.ChatMessage, error) {
	c, err := s.owned(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	hist, err := s.deps.Messages.History(ctx, c.ConversationID())
	if err != nil {
		return nil, err
	}
	for i := range hist {
		hist[i].ImagePath = s.pictureURL(hist[i].ImagePath)
	}
	return hist, nil
}

func (s *Service) Diaries(ctx context.Context, userID string, characterID int64) ([]store.Diary, error) {
	c, err := s.owned(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	return s.deps.Diaries.List(ctx, c.ConversationID())
}

func (s *Service) Posts(ctx context.Context, userID string, characterID int64) ([]store.Post, error) {
	c, err := s.owned(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	posts, err := s.deps.Posts.List(ctx, c.ConversationID())
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].ImagePath = s.pictureURL(posts[i].ImagePath)
	}
	return posts, nil
}

// CreateCharacter registers a character for userID.
func (s *Service) CreateCharacter(ctx context.Context, userID string, c store.Character) (store.Character, error) {
	c.OwnerID = strings.TrimSpace(userID)
	if c.OwnerID == "" || strings.TrimSpace(c.Name) == "" {
		return store.Character{}, fmt.Errorf("%w: a character needs an owner and a name", ErrValidation)
	}
	return s.deps.Characters.Create(ctx, c)
}

func (s *Service) Characters(ctx context.Context, userID string) ([]store.Character, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user", ErrValidation)
	}
	return s.deps.Characters.ListOwned(ctx, userID)
}
