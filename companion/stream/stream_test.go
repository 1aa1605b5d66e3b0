package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalJSON(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Text("hi"), `{"type":"text","content":"hi"}`},
		{Image(""), `{"type":"image","url":""}`},
		{Image("/picture/a.png"), `{"type":"image","url":"/picture/a.png"}`},
		{Done(), `{"type":"done"}`},
		{Notify("new_diary_available"), `{"type":"event","event_name":"new_diary_available"}`},
		{Error("completion", "upstream down"), `{"type":"error","content":"upstream down","kind":"completion"}`},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(data))

		var back Event
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, tc.ev, back)
	}
}

func TestSSEWriter_FramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)

	require.NoError(t, w.WriteEvent(Text("hello")))
	require.NoError(t, w.WriteEvent(Image("")))
	require.NoError(t, w.WriteEvent(Done()))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.True(t, strings.HasPrefix(f, "data: "), f)
	}
	assert.JSONEq(t, `{"type":"text","content":"hello"}`, strings.TrimPrefix(frames[0], "data: "))
	assert.JSONEq(t, `{"type":"done"}`, strings.TrimPrefix(frames[2], "data: "))
}

type flakyWriter struct {
	failAfter int
	got       []Event
}

func (w *flakyWriter) WriteEvent(ev Event) error {
	if len(w.got) >= w.failAfter {
		return errors.New("broken pipe")
	}
	w.got = append(w.got, ev)
	return nil
}

func TestEmitter_DropsAfterFirstFailure(t *testing.T) {
	w := &flakyWriter{failAfter: 1}
	e := NewEmitter(w, zerolog.Nop())

	assert.True(t, e.Emit(Text("a")))
	assert.False(t, e.Emit(Image("")))
	assert.True(t, e.Disconnected())

	// a writer that would now succeed is not retried
	w.failAfter = 10
	assert.False(t, e.Emit(Done()))

	sent, dropped := e.Stats()
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []Event{Text("a")}, w.got)
}

func TestWSWriter_SendsJSONMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		w := NewWSWriter(conn, time.Second)
		assert.NoError(t, w.WriteEvent(Text("hi")))
		assert.NoError(t, w.WriteEvent(Done()))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, second Event
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, Text("hi"), first)
	assert.Equal(t, Done(), second)
}
