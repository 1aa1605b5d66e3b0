package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
	"github.com/ZanzyTHEbar/companion-graph/companion/memory"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

var (
	// ErrEmptyReply is returned when the chat model answers with nothing.
	ErrEmptyReply = errors.New("empty reply from completion service")
	// ErrTooFewPosts is returned when a social-post run drafts fewer posts than configured.
	ErrTooFewPosts = errors.New("too few post drafts")
)

// PictureCaption prefixes the agent message recording what a sent picture shows.
const PictureCaption = "Sent a picture: "

// Start counts the turn on the conversation path. Side-effect runs leave the
// counter alone.
func (s *Steps) Start(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	if rc.Page != workflow.PageOptimizeMemory {
		return workflow.Update{}, nil
	}
	return workflow.Update{TurnCount: workflow.Ptr(st.TurnCount + 1)}, nil
}

func (s *Steps) OptimizeMemory(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	sum := s.caps.Summarizer.Summarize(ctx, st.ConversationID, st.ShortMemory)
	s.logger.Debug().
		Str("conversation_id", st.ConversationID).
		Strs("labels", sum.Labels).
		Int("evict", sum.Evict).
		Msg("short memory consolidated")
	return workflow.Update{Evict: sum.Evict}, nil
}

func (s *Steps) GetLongMemory(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	newest, ok := st.Newest()
	if !ok {
		return workflow.Update{LongMemory: map[string]string{}}, nil
	}
	recalled := s.caps.Retriever.Retrieve(ctx, st.ConversationID, newest.Content)
	if recalled == nil {
		recalled = map[string]string{}
	}
	return workflow.Update{LongMemory: recalled}, nil
}

func (s *Steps) GenerateTalk(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	system, err := render(s.caps.Prompts.TalkSystem, persona(st))
	if err != nil {
		return workflow.Update{}, err
	}
	user, err := render(s.caps.Prompts.TalkUser, conversationData(st))
	if err != nil {
		return workflow.Update{}, err
	}
	in := s.builder.Build(system, nil, generation.User(user), map[string]string{"conversation_id": st.ConversationID})

	reply, err := s.caps.Generator.Complete(ctx, generation.CapChat, in)
	if err != nil {
		return workflow.Update{}, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return workflow.Update{}, ErrEmptyReply
	}
	return workflow.Update{
		AppendMessages: []workflow.Message{workflow.Agent(reply)},
		LastReply:      workflow.Ptr(reply),
	}, nil
}

// GenerateTalkPicture asks whether the newest reply shares something visual and
// renders it when it does. Every failure degrades to an empty picture path.
func (s *Steps) GenerateTalkPicture(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	none := workflow.Update{PicturePath: workflow.Ptr("")}
	newest, ok := st.Newest()
	if !ok || s.caps.Images == nil || s.caps.Pictures == nil {
		return none, nil
	}

	text, err := render(s.caps.Prompts.TalkPicture, map[string]string{"Message": newest.Content})
	if err != nil {
		return workflow.Update{}, err
	}
	var intent struct {
		Prompt string `json:"prompt"`
	}
	in := ports.PromptInput{Messages: generation.User(text), Meta: map[string]string{"task": "talk_picture", generation.MetaNoCache: "1"}}
	if err := s.caps.Generator.Extract(ctx, generation.CapExtract, in, PictureSchema, &intent); err != nil {
		s.logger.Warn().Str("conversation_id", st.ConversationID).Err(err).Msg("picture intent unavailable")
		return none, nil
	}
	if strings.TrimSpace(intent.Prompt) == "" {
		return none, nil
	}

	img, path, err := s.picture(ctx, intent.Prompt)
	if err != nil {
		s.logger.Warn().Str("conversation_id", st.ConversationID).Err(err).Msg("picture synthesis failed")
		return none, nil
	}
	upd := workflow.Update{PicturePath: workflow.Ptr(path), AttachImage: workflow.Ptr(path)}
	if caption := strings.TrimSpace(img.RevisedPrompt); caption != "" {
		upd.AppendMessages = []workflow.Message{workflow.Agent(PictureCaption + caption)}
	}
	return upd, nil
}

// GenerateDiary writes one diary entry and resets the turn counter so the
// diary threshold is not hit again on the next turns.
func (s *Steps) GenerateDiary(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	system, err := render(s.caps.Prompts.DiarySystem, persona(st))
	if err != nil {
		return workflow.Update{}, err
	}
	user, err := render(s.caps.Prompts.DiaryUser, conversationData(st))
	if err != nil {
		return workflow.Update{}, err
	}
	in := s.builder.Build(system, nil, generation.User(user), map[string]string{"conversation_id": st.ConversationID})
	diary, err := s.caps.Generator.Complete(ctx, generation.CapCreative, in)
	if err != nil {
		return workflow.Update{}, err
	}
	diary = strings.TrimSpace(diary)
	if diary == "" {
		return workflow.Update{}, ErrEmptyReply
	}
	return workflow.Update{Diary: workflow.Ptr(diary), TurnCount: workflow.Ptr(0)}, nil
}

func (s *Steps) GenerateDynamicCondition(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	data := conversationData(st)
	data["Count"] = s.caps.PostDrafts
	text, err := render(s.caps.Prompts.Posts, data)
	if err != nil {
		return workflow.Update{}, err
	}
	var out struct {
		Posts []workflow.PostDraft `json:"posts"`
	}
	in := ports.PromptInput{Messages: generation.User(text), Meta: map[string]string{"task": "posts"}}
	if err := s.caps.Generator.Extract(ctx, generation.CapCreative, in, PostsSchema, &out); err != nil {
		return workflow.Update{}, err
	}
	if len(out.Posts) < s.caps.PostDrafts {
		return workflow.Update{}, fmt.Errorf("%w: got %d, want %d", ErrTooFewPosts, len(out.Posts), s.caps.PostDrafts)
	}
	posts := out.Posts[:s.caps.PostDrafts]
	for i := range posts {
		if posts[i].Labels == nil {
			posts[i].Labels = []string{}
		}
	}
	return workflow.Update{Posts: posts}, nil
}

// GenerateDynamicConditionPicture illustrates the drafted posts concurrently.
// The result has one entry per post; an empty entry means no picture.
func (s *Steps) GenerateDynamicConditionPicture(ctx context.Context, st workflow.State, rc workflow.RunContext) (workflow.Update, error) {
	var posts []workflow.PostDraft
	if st.Artifacts != nil {
		posts = st.Artifacts.Posts
	}
	paths := make([]string, len(posts))
	if len(posts) == 0 || s.caps.Images == nil || s.caps.Pictures == nil {
		return workflow.Update{PostPictures: paths}, nil
	}

	text, err := render(s.caps.Prompts.PostPictures, map[string]any{"Posts": posts})
	if err != nil {
		return workflow.Update{}, err
	}
	var out struct {
		Prompts []string `json:"prompts"`
	}
	in := ports.PromptInput{Messages: generation.User(text), Meta: map[string]string{"task": "post_pictures"}}
	if err := s.caps.Generator.Extract(ctx, generation.CapExtract, in, PostPicturesSchema, &out); err != nil {
		s.logger.Warn().Str("conversation_id", st.ConversationID).Err(err).Msg("post illustration prompts unavailable")
		return workflow.Update{PostPictures: paths}, nil
	}

	p := pool.New().WithMaxGoroutines(s.caps.PictureWorkers)
	for i := range posts {
		if i >= len(out.Prompts) || strings.TrimSpace(out.Prompts[i]) == "" {
			continue
		}
		prompt := out.Prompts[i]
		p.Go(func() {
			_, path, err := s.picture(ctx, prompt)
			if err != nil {
				s.logger.Warn().Str("conversation_id", st.ConversationID).Int("post", i).Err(err).Msg("post illustration failed")
				return
			}
			paths[i] = path
		})
	}
	p.Wait()
	return workflow.Update{PostPictures: paths}, nil
}

func (s *Steps) picture(ctx context.Context, prompt string) (ports.Image, string, error) {
	img, err := s.caps.Images.Synthesize(ctx, prompt)
	if err != nil {
		return ports.Image{}, "", err
	}
	path, err := s.caps.Pictures.Save(ctx, img)
	if err != nil {
		return ports.Image{}, "", fmt.Errorf("save picture: %w", err)
	}
	return img, path, nil
}

func persona(st workflow.State) map[string]any {
	return map[string]any{"Name": st.CharacterName, "Profile": st.CharacterProfile}
}

// conversationData is the template data shared by the prompts that look at the
// conversation: persona, transcript and the recalled memories.
func conversationData(st workflow.State) map[string]any {
	data := persona(st)
	data["Transcript"] = memory.Transcript(st.ShortMemory)
	data["LongMemory"] = RenderLongMemory(st.LongMemory)
	return data
}

// RenderLongMemory lists recalled fragments in label order.
func RenderLongMemory(recalled map[string]string) string {
	labels := make([]string, 0, len(recalled))
	for label := range recalled {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	var b strings.Builder
	for i, label := range labels {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "The user asked about %s, which recalled:\n%s", label, recalled[label])
	}
	return b.String()
}
