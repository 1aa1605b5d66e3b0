package workflow

import (
	"maps"
	"slices"
)

// Role identifies who authored a message.
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// Message is one entry of the short-term message log. Messages are never edited
// after being appended, except for attaching the picture produced for the newest
// agent reply.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	ImageRef string `json:"image_ref,omitempty"`
}

func Human(content string) Message { return Message{Role: RoleHuman, Content: content} }
func Agent(content string) Message { return Message{Role: RoleAgent, Content: content} }

// PostDraft is one social-style post produced by a side-effect run.
type PostDraft struct {
	Caption string   `json:"caption"`
	Time    string   `json:"time"`
	Labels  []string `json:"labels"`
}

// Artifacts carries the output of diary and social-post runs. It stays nil on
// normal turns.
type Artifacts struct {
	Diary        string      `json:"diary,omitempty"`
	Posts        []PostDraft `json:"posts,omitempty"`
	PostPictures []string    `json:"post_pictures,omitempty"`
}

// State is the checkpointed conversation state. A single run owns it exclusively.
type State struct {
	ConversationID   string            `json:"conversation_id"`
	ShortMemory      []Message         `json:"short_memory"`
	LongMemory       map[string]string `json:"long_memory,omitempty"` // label -> fragment, rebuilt every turn
	CharacterName    string            `json:"character_name"`
	CharacterProfile string            `json:"character_profile"`
	TurnCount        int               `json:"turn_count"`
	LastReply        string            `json:"last_reply,omitempty"`
	LastPicturePath  string            `json:"last_picture_path,omitempty"`
	Artifacts        *Artifacts        `json:"artifacts,omitempty"`
}

// Clone returns a deep copy so a run can work on state without aliasing the caller's.
func (s State) Clone() State {
	out := s
	out.ShortMemory = slices.Clone(s.ShortMemory)
	if s.LongMemory != nil {
		out.LongMemory = maps.Clone(s.LongMemory)
	}
	if s.Artifacts != nil {
		a := *s.Artifacts
		a.Posts = make([]PostDraft, len(s.Artifacts.Posts))
		for i, p := range s.Artifacts.Posts {
			p.Labels = slices.Clone(p.Labels)
			a.Posts[i] = p
		}
		a.PostPictures = slices.Clone(s.Artifacts.PostPictures)
		out.Artifacts = &a
	}
	return out
}

// Newest returns the most recent short-memory message.
func (s State) Newest() (Message, bool) {
	if len(s.ShortMemory) == 0 {
		return Message{}, false
	}
	return s.ShortMemory[len(s.ShortMemory)-1], true
}

// Update is the partial output of one step. Nil fields are left untouched by Apply.
type Update struct {
	// Evict drops this many of the oldest short-memory messages before appending.
	Evict int
	// AttachImage sets ImageRef on the newest message before appending.
	AttachImage *string
	// AppendMessages are added to the end of short memory.
	AppendMessages []Message

	LongMemory   map[string]string
	LastReply    *string
	PicturePath  *string
	TurnCount    *int
	Diary        *string
	Posts        []PostDraft
	PostPictures []string
}

// Empty reports whether applying u would change nothing.
func (u Update) Empty() bool {
	return u.Evict == 0 && u.AttachImage == nil && len(u.AppendMessages) == 0 &&
		u.LongMemory == nil && u.LastReply == nil && u.PicturePath == nil &&
		u.TurnCount == nil && u.Diary == nil && u.Posts == nil && u.PostPictures == nil
}

// Apply merges u into s field by field: list fields append (after eviction),
// scalar and map fields overwrite when set.
func (s *State) Apply(u Update) {
	if u.Evict > 0 {
		n := min(u.Evict, len(s.ShortMemory))
		s.ShortMemory = slices.Clone(s.ShortMemory[n:])
	}
	if u.AttachImage != nil && len(s.ShortMemory) > 0 {
		s.ShortMemory[len(s.ShortMemory)-1].ImageRef = *u.AttachImage
	}
	if len(u.AppendMessages) > 0 {
		s.ShortMemory = append(s.ShortMemory, u.AppendMessages...)
	}
	if u.LongMemory != nil {
		s.LongMemory = maps.Clone(u.LongMemory)
	}
	if u.LastReply != nil {
		s.LastReply = *u.LastReply
	}
	if u.PicturePath != nil {
		s.LastPicturePath = *u.PicturePath
	}
	if u.TurnCount != nil {
		s.TurnCount = *u.TurnCount
	}
	if u.Diary != nil || u.Posts != nil || u.PostPictures != nil {
		if s.Artifacts == nil {
			s.Artifacts = &Artifacts{}
		}
		if u.Diary != nil {
			s.Artifacts.Diary = *u.Diary
		}
		if u.Posts != nil {
			s.Artifacts.Posts = slices.Clone(u.Posts)
		}
		if u.PostPictures != nil {
			s.Artifacts.PostPictures = slices.Clone(u.PostPictures)
		}
	}
}

// Ptr returns a pointer to v, for building updates.
func Ptr[T any](v T) *T { return &v }
