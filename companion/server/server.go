// Package server exposes the conversation service over HTTP: turns stream as
// server-sent events or over a websocket, and the history, diary and post
// logs are readable per character.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/companion-graph/companion/service"
	"github.com/ZanzyTHEbar/companion-graph/companion/store"
	"github.com/ZanzyTHEbar/companion-graph/companion/stream"
)

// UserHeader carries the caller identity established by the fronting auth layer.
const UserHeader = "X-User-ID"

// Service is the part of *service.Service the transport needs.
type Service interface {
	Begin(ctx context.Context, req service.TurnRequest) (*service.Turn, error)
	History(ctx context.Context, userID string, characterID int64) ([]store.ChatMessage, error)
	Diaries(ctx context.Context, userID string, characterID int64) ([]store.Diary, error)
	Posts(ctx context.Context, userID string, characterID int64) ([]store.Post, error)
	CreateCharacter(ctx context.Context, userID string, c store.Character) (store.Character, error)
	Characters(ctx context.Context, userID string) ([]store.Character, error)
}

type Options struct {
	PictureDir     string // served under PictureBaseURL when both are set
	PictureBaseURL string
	WSWriteTimeout time.Duration
}

type Server struct {
	svc      Service
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func New(svc Service, opts Options, logger zerolog.Logger) *Server {
	if opts.WSWriteTimeout <= 0 {
		opts.WSWriteTimeout = 10 * time.Second
	}
	return &Server{
		svc:  svc,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/turns", s.handleTurn)
	mux.HandleFunc("GET /api/turns/ws", s.handleTurnWS)
	mux.HandleFunc("GET /api/characters", s.handleListCharacters)
	mux.HandleFunc("POST /api/characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /api/characters/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/characters/{id}/diaries", s.handleDiaries)
	mux.HandleFunc("GET /api/characters/{id}/posts", s.handlePosts)

	if s.opts.PictureDir != "" && strings.HasPrefix(s.opts.PictureBaseURL, "/") {
		prefix := strings.TrimRight(s.opts.PictureBaseURL, "/") + "/"
		mux.Handle("GET "+prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(s.opts.PictureDir))))
	}
	return s.logRequests(mux)
}

type turnRequest struct {
	Text        string `json:"text"`
	CharacterID int64  `json:"character_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", service.ErrValidation, err))
		return
	}
	turn, err := s.svc.Begin(r.Context(), service.TurnRequest{
		UserID:      r.Header.Get(UserHeader),
		CharacterID: req.CharacterID,
		Text:        req.Text,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	emitter := stream.NewEmitter(stream.NewSSEWriter(w), s.logger)
	// the turn reports its own failures on the stream
	_ = turn.Run(r.Context(), emitter)
}

// handleTurnWS serves one turn per inbound JSON message until the client closes.
func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	writer := stream.NewWSWriter(conn, s.opts.WSWriteTimeout)

	for {
		var req turnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		emitter := stream.NewEmitter(writer, s.logger)
		turn, err := s.svc.Begin(r.Context(), service.TurnRequest{UserID: userID, CharacterID: req.CharacterID, Text: req.Text})
		if err != nil {
			emitter.Emit(stream.Error(string(service.Classify(err)), err.Error()))
			continue
		}
		_ = turn.Run(r.Context(), emitter)
		if emitter.Disconnected() {
			return
		}
	}
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := s.svc.Characters(r.Context(), r.Header.Get(UserHeader))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(chars))
}

type createCharacterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FirstLine   string `json:"first_line"`
	AvatarPath  string `json:"avatar_path"`
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req createCharacterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", service.ErrValidation, err))
		return
	}
	c, err := s.svc.CreateCharacter(r.Context(), r.Header.Get(UserHeader), store.Character{
		Name:        req.Name,
		Description: req.Description,
		FirstLine:   req.FirstLine,
		AvatarPath:  req.AvatarPath,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	readList(s, w, r, s.svc.History)
}

func (s *Server) handleDiaries(w http.ResponseWriter, r *http.Request) {
	readList(s, w, r, s.svc.Diaries)
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	readList(s, w, r, s.svc.Posts)
}

func readList[T any](s *Server, w http.ResponseWriter, r *http.Request, get func(context.Context, string, int64) ([]T, error)) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: bad character id %q", service.ErrValidation, r.PathValue("id")))
		return
	}
	items, err := get(r.Context(), r.Header.Get(UserHeader), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(items))
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownCharacter):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConversationBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(service.Classify(err))})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response status while keeping streaming and
// hijacking available to handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
