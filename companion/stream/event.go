// Package stream turns workflow progress into the ordered client event stream
// and writes it over server-sent events or websockets.
package stream

import "encoding/json"

// Type is the client-visible event type.
type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeDone  Type = "done"
	TypeEvent Type = "event"
	TypeError Type = "error"
)

// Event is one message of a turn stream.
type Event struct {
	Type      Type
	Content   string // text and error events
	URL       string // image events; empty when no picture was sent
	EventName string // notification events
	Kind      string // error events: which class of failure
}

func Text(content string) Event { return Event{Type: TypeText, Content: content} }
func Image(url string) Event { return Event{Type: TypeImage, URL: url} }
func Done() Event { return Event{Type: TypeDone} }
func Notify(name string) Event { return Event{Type: TypeEvent, EventName: name} }
func Error(kind, msg string) Event { return Event{Type: TypeError, Kind: kind, Content: msg} }

// MarshalJSON emits only the keys that belong to the event's type. An image
// event always carries "url", possibly empty.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]string{"type": string(e.Type)}
	switch e.Type {
	case TypeText:
		m["content"] = e.Content
	case TypeImage:
		m["url"] = e.URL
	case TypeEvent:
		m["event_name"] = e.EventName
	case TypeError:
		m["content"] = e.Content
		if e.Kind != "" {
			m["kind"] = e.Kind
		}
	}
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = Event{
		Type:      Type(m["type"]),
		Content:   m["content"],
		URL:       m["url"],
		EventName: m["event_name"],
		Kind:      m["kind"],
	}
	return nil
}
