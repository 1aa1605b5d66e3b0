package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/companion-graph/companion/agent"
	"github.com/ZanzyTHEbar/companion-graph/companion/checkpoint"
	"github.com/ZanzyTHEbar/companion-graph/companion/db"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation"
	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
	"github.com/ZanzyTHEbar/companion-graph/companion/memory"
	"github.com/ZanzyTHEbar/companion-graph/companion/service"
	"github.com/ZanzyTHEbar/companion-graph/companion/store"
	"github.com/ZanzyTHEbar/companion-graph/companion/stream"
	"github.com/ZanzyTHEbar/companion-graph/companion/workflow"
)

type cannedGenerator struct{}

func (cannedGenerator) Complete(ctx context.Context, c generation.Capability, in ports.PromptInput) (string, error) {
	return "Good morning!", nil
}

func (cannedGenerator) Extract(ctx context.Context, c generation.Capability, in ports.PromptInput, schema []byte, out any) error {
	return json.Unmarshal([]byte(`{"prompt": ""}`), out)
}

type noSummary struct{}

func (noSummary) Summarize(ctx context.Context, id string, short []workflow.Message) memory.Summary {
	return memory.Summary{}
}

type noRecall struct{}

func (noRecall) Retrieve(ctx context.Context, id, query string) map[string]string { return nil }

type fixture struct {
	svc       *service.Service
	srv       *httptest.Server
	character store.Character
	pictures  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(context.Background(), db.Options{Path: filepath.Join(t.TempDir(), "srv.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	st := store.New(conn)

	steps := agent.NewSteps(agent.Capabilities{Generator: cannedGenerator{}, Summarizer: noSummary{}, Retriever: noRecall{}}, zerolog.Nop())
	ex, err := workflow.NewExecutor(agent.NewGraph(steps), zerolog.Nop())
	require.NoError(t, err)

	svc := service.New(service.Deps{
		Characters:  st.Characters,
		Messages:    st.Messages,
		Diaries:     st.Diaries,
		Posts:       st.Posts,
		Checkpoints: checkpoint.NewMemoryStore(),
		Locker:      checkpoint.NewLocker(),
		Runner:      ex,
	}, service.Options{PictureBaseURL: "/picture"}, zerolog.Nop())

	c, err := svc.CreateCharacter(context.Background(), "u1", store.Character{Name: "Mio", FirstLine: "Hello there."})
	require.NoError(t, err)

	pictures := t.TempDir()
	srv := httptest.NewServer(New(svc, Options{PictureDir: pictures, PictureBaseURL: "/picture"}, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return &fixture{svc: svc, srv: srv, character: c, pictures: pictures}
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readSSE(t *testing.T, resp *http.Response) []stream.Event {
	t.Helper()
	var events []stream.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestTurn_StreamsEvents(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/turns", "u1", map[string]any{"text": "hi", "character_id": f.character.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.Len(t, events, 3)
	assert.Equal(t, stream.Text("Good morning!"), events[0])
	assert.Equal(t, stream.Image(""), events[1])
	assert.Equal(t, stream.Done(), events[2])
}

func TestTurn_RejectsBeforeStreaming(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{"no user", "", map[string]any{"text": "hi", "character_id": f.character.ID}, http.StatusBadRequest},
		{"no text", "u1", map[string]any{"character_id": f.character.ID}, http.StatusBadRequest},
		{"bad body", "u1", "not an object", http.StatusBadRequest},
		{"not owner", "u2", map[string]any{"text": "hi", "character_id": f.character.ID}, http.StatusNotFound},
		{"unknown", "u1", map[string]any{"text": "hi", "character_id": 999}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/turns", tc.user, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestTurn_BusyConversation(t *testing.T) {
	f := newFixture(t)
	held, err := f.svc.Begin(context.Background(), service.TurnRequest{UserID: "u1", CharacterID: f.character.ID, Text: "first"})
	require.NoError(t, err)
	defer held.Close()

	resp := f.do(t, http.MethodPost, "/api/turns", "u1", map[string]any{"text": "second", "character_id": f.character.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(service.KindConflict), body["kind"])
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	readSSE(t, f.do(t, http.MethodPost, "/api/turns", "u1", map[string]any{"text": "hi", "character_id": f.character.ID}))

	resp := f.do(t, http.MethodGet, "/api/characters/"+itoa(f.character.ID)+"/history", "u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist []store.ChatMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	require.Len(t, hist, 3)
	assert.Equal(t, "Hello there.", hist[0].Content)
	assert.Equal(t, "hi", hist[1].Content)
	assert.Equal(t, "Good morning!", hist[2].Content)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/characters/"+itoa(f.character.ID)+"/history", "u2", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/characters/abc/history", "u1", nil).StatusCode)
}

func TestDiariesAndPostsStartEmpty(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/diaries", "/posts"} {
		resp := f.do(t, http.MethodGet, "/api/characters/"+itoa(f.character.ID)+path, "u1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var items []json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
		assert.NotNil(t, items)
		assert.Empty(t, items)
	}
}

func TestCharacters_CreateAndList(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/characters", "u1", map[string]string{"name": "Ren", "description": "a florist"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created store.Character
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "u1", created.OwnerID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/characters", "u1", map[string]string{"name": ""}).StatusCode)

	resp = f.do(t, http.MethodGet, "/api/characters", "u1", nil)
	var list []store.Character
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestTurnWS(t *testing.T) {
	f := newFixture(t)
	header := http.Header{}
	header.Set(UserHeader, "u1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+"/api/turns/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"text": "hi", "character_id": f.character.ID}))
	var got []stream.Event
	for len(got) < 3 {
		var ev stream.Event
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
	}
	assert.Equal(t, []stream.Event{stream.Text("Good morning!"), stream.Image(""), stream.Done()}, got)

	require.NoError(t, conn.WriteJSON(map[string]any{"text": "", "character_id": f.character.ID}))
	var ev stream.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stream.TypeError, ev.Type)
	assert.Equal(t, string(service.KindValidation), ev.Kind)
}

func TestPictureServing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.pictures, "a.png"), []byte("png-bytes"), 0o644))

	resp := f.do(t, http.MethodGet, "/picture/a.png", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", buf.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(service.ErrValidation))
	assert.Equal(t, http.StatusNotFound, StatusFor(service.ErrUnknownCharacter))
	assert.Equal(t, http.StatusConflict, StatusFor(service.ErrConversationBusy))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(assert.AnError))
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
