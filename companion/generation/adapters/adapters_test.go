package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/companion-graph/companion/generation/ports"
)

func TestTokenBucket_WaitsThenFails(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)

	release, err := tb.Acquire(context.Background(), "chat")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = tb.Acquire(ctx, "chat")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// other keys have their own bucket
	_, err = tb.Acquire(context.Background(), "extract")
	assert.NoError(t, err)

	release()
	release()
	_, err = tb.Acquire(context.Background(), "chat")
	assert.NoError(t, err)
}

func TestTokenBucket_Refills(t *testing.T) {
	tb := NewTokenBucket(1, 10*time.Millisecond)
	_, err := tb.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tb.Acquire(ctx, "k")
	assert.NoError(t, err)
}

func TestZerologTracer_LogsSpanAndEvents(t *testing.T) {
	var buf bytes.Buffer
	tr := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tr.StartSpan(context.Background(), "complete", map[string]any{"capability": "chat"})
	tr.Event(ctx, "cache_hit", map[string]any{"key": "abc"})
	finish(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"span":"complete"`)
	assert.Contains(t, out, `"capability":"chat"`)
	assert.Contains(t, out, `"event":"cache_hit"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestRistrettoCache_SetGetDelete(t *testing.T) {
	c, err := NewRistrettoCache(1 << 20)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 60))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFilePictureStore_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "talk_picture")
	s, err := NewFilePictureStore(dir)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 2, 10, 4, 5, 0, time.UTC) }

	name, err := s.Save(context.Background(), ports.Image{Data: []byte("png-bytes")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "20240302100405-"))
	assert.True(t, strings.HasSuffix(name, ".png"))

	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = s.Save(context.Background(), ports.Image{})
	assert.Error(t, err)
}

func TestHTTPImageSynthesizer(t *testing.T) {
	var got imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Prompt == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"content policy"}}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{
				"b64_json":       base64.StdEncoding.EncodeToString([]byte("image")),
				"revised_prompt": "a cat on a sofa",
			}},
		})
	}))
	defer srv.Close()

	s := NewHTTPImageSynthesizer(srv.URL, "key", "img-model", "512x512", time.Second)
	img, err := s.Synthesize(context.Background(), "a cat")
	require.NoError(t, err)
	assert.Equal(t, []byte("image"), img.Data)
	assert.Equal(t, "a cat on a sofa", img.RevisedPrompt)
	assert.Equal(t, "b64_json", got.ResponseFormat)
	assert.Equal(t, "img-model", got.Model)

	_, err = s.Synthesize(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content policy")

	_, err = NewHTTPImageSynthesizer("", "", "", "", 0).Synthesize(context.Background(), "x")
	assert.Error(t, err)
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":12,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("test-key", srv.URL, "claude-test")
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), ports.PromptInput{
		System:   "be kind",
		Messages: []ports.PromptMessage{{Role: "user", Content: "hi"}},
	}, ports.Options{MaxTokens: 64, Temperature: 0.5})
	require.NoError(t, err)

	assert.Equal(t, "hello there", out.Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 12, out.Usage.PromptTokens)
	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, 64, body["max_tokens"])

	_, err = NewAnthropicProvider("", "", "m")
	assert.Error(t, err)
}
