package agent

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompt templates. Their text is a tunable parameter of the engine; callers may
// replace any of them through Prompts.

const TalkSystemTemplate = `You are {{.Name}}, a living person and never an AI. Your character profile is the rule for everything you say.

Profile:
{{.Profile}}

Weigh information in this order: the profile decides your voice and values, long-term memories give you depth, recent chat is only the stimulus you react to. Recent chat never changes who you are.
Lead the conversation when it stalls. Use short (...) asides for gestures and inner thoughts. Stay within the relationship you actually have with the user.`

const TalkUserTemplate = `Your long-term memories:
{{if .LongMemory}}{{.LongMemory}}{{else}}(none yet){{end}}

Recent chat:
{{.Transcript}}

Reply as {{.Name}} to the last message.`

const TagsTemplate = `Summarise the events in the conversation below as the smallest possible set of tags. Each tag names one event in at most {{.MaxRunes}} characters.
Reuse a tag from the existing list whenever the event matches it; only invent a new tag for a genuinely new event.

Existing tags:
{{if .Existing}}{{.Existing}}{{else}}(none){{end}}

Conversation:
{{.Transcript}}

Answer only with JSON: {"tags": ["..."]}`

const TalkPictureTemplate = `Decide whether the speaker of the message below is actively sharing a visual moment, something a person would pull out their phone to show right now (showing off an object, sharing a view, presenting something they made).
Incidental descriptions, feelings, greetings, questions, plans and negative situations are not.
If it is a visual share, write a detailed image prompt without people: subject, surroundings, composition, light and colour, style. Otherwise use an empty string.

Message:
{{.Message}}

Answer only with JSON: {"prompt": "..."}`

const DiarySystemTemplate = `You are {{.Name}}. Write a first-person diary entry about the moments with the user that moved you or made you think the most. Do not retell the conversation; show your feelings and how your thinking changed.

Profile:
{{.Profile}}`

const DiaryUserTemplate = `Recent chat:
{{.Transcript}}

Memories the user brought back:
{{if .LongMemory}}{{.LongMemory}}{{else}}(none){{end}}

Write today's diary entry.`

const PostsTemplate = `You are {{.Name}}. Write {{.Count}} independent social posts that together show a believable slice of your life. Draw on at least two of: an indirect echo of the recent chat, everyday life, interests, memories. Posts are public: never address the user directly.

Profile:
{{.Profile}}

Recent chat:
{{.Transcript}}

Memories:
{{if .LongMemory}}{{.LongMemory}}{{else}}(none){{end}}

Answer only with JSON: {"posts": [{"caption": "...", "time": "HH:MM", "labels": ["..."]}]}`

const PostPicturesTemplate = `For each social post below decide whether a picture would strengthen it. Concrete scenes, objects, activities and strong moods get a detailed image prompt (subject, surroundings, composition, light and colour, style). Pure announcements, abstract opinions and jokes get an empty string.

{{range $i, $p := .Posts}}{{inc $i}}. caption: {{$p.Caption}}
   time: {{$p.Time}}
   labels: {{join $p.Labels ", "}}
{{end}}
Answer only with JSON holding one entry per post, in order: {"prompts": ["..."]}`

// Prompts holds the parsed templates every step renders.
type Prompts struct {
	TalkSystem   *template.Template
	TalkUser     *template.Template
	Tags         *template.Template
	TalkPicture  *template.Template
	DiarySystem  *template.Template
	DiaryUser    *template.Template
	Posts        *template.Template
	PostPictures *template.Template
}

var funcs = template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}

// DefaultPrompts parses the built-in templates.
func DefaultPrompts() Prompts {
	parse := func(name, text string) *template.Template {
		return template.Must(template.New(name).Funcs(funcs).Parse(text))
	}
	return Prompts{
		TalkSystem:   parse("talk_system", TalkSystemTemplate),
		TalkUser:     parse("talk_user", TalkUserTemplate),
		Tags:         parse("tags", TagsTemplate),
		TalkPicture:  parse("talk_picture", TalkPictureTemplate),
		DiarySystem:  parse("diary_system", DiarySystemTemplate),
		DiaryUser:    parse("diary_user", DiaryUserTemplate),
		Posts:        parse("posts", PostsTemplate),
		PostPictures: parse("post_pictures", PostPicturesTemplate),
	}
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

// Structured output schemas.
var (
	TagsSchema = []byte(`{
  "type": "object",
  "required": ["tags"],
  "properties": {"tags": {"type": "array", "items": {"type": "string"}}}
}`)
	PictureSchema = []byte(`{
  "type": "object",
  "required": ["prompt"],
  "properties": {"prompt": {"type": "string"}}
}`)
	PostsSchema = []byte(`{
  "type": "object",
  "required": ["posts"],
  "properties": {
    "posts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["caption"],
        "properties": {
          "caption": {"type": "string", "minLength": 1},
          "time": {"type": "string"},
          "labels": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`)
	PostPicturesSchema = []byte(`{
  "type": "object",
  "required": ["prompts"],
  "properties": {"prompts": {"type": "array", "items": {"type": "string"}}}
}`)
)
