// Package api implements the HTTP API: the chat endpoints, an
// Ollama-compatible facade, event streaming and health checks.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/nugget/tollgate/internal/buildinfo"
	"github.com/nugget/tollgate/internal/chat"
	"github.com/nugget/tollgate/internal/events"
	"github.com/nugget/tollgate/internal/memory"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Chatter answers chat requests.
type Chatter interface {
	Generate(ctx context.Context, req chat.Request) (string, error)
	Stream(ctx context.Context, req chat.Request) iter.Seq2[string, error]
}

// Pinger reports whether the model backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	chat    Chatter
	store   memory.Store
	bus     *events.Bus
	backend Pinger
	model   string
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, chatter Chatter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		chat:    chatter,
		logger:  logger.With("component", "api"),
	}
}

// SetMemoryStore enables the conversation history endpoints.
func (s *Server) SetMemoryStore(store memory.Store) {
	s.store = store
}

// SetEventBus enables the event stream endpoint.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// SetBackend makes /health check model backend reachability.
func (s *Server) SetBackend(p Pinger) {
	s.backend = p
}

// SetDefaultModel names the model advertised by the Ollama facade.
func (s *Server) SetDefaultModel(model string) {
	s.model = model
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("POST /agent/chat", s.handleChat)
	mux.HandleFunc("POST /agent/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /agent/chat/{chatId}/history", s.handleHistory)
	mux.HandleFunc("DELETE /agent/chat/{chatId}", s.handleClear)
	mux.HandleFunc("GET /v1/memory/stats", s.handleMemoryStats)

	// Ollama-compatible facade
	s.registerOllamaRoutes(mux)

	// Observability
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: streams and tool rounds run long; the
		// request context bounds them instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Tollgate",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.backend.Ping(ctx); err != nil {
			s.logger.Warn("backend unreachable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "unhealthy", "error": err.Error()}, s.logger)
			return
		}
	}
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
	// Think keeps the reasoning trace; absent means true.
	Think *bool `json:"think,omitempty"`
	// Format "html" renders the markdown answer to HTML.
	Format string `json:"format,omitempty"`
	Model  string `json:"model,omitempty"`
}

func (c ChatRequest) toChat() chat.Request {
	think := true
	if c.Think != nil {
		think = *c.Think
	}
	return chat.Request{
		ConversationID: c.ChatID,
		Message:        c.Message,
		Think:          think,
		Model:          c.Model,
	}
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	answer, err := s.chat.Generate(r.Context(), req.toChat())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Format == "html" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(answer), &buf); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "render answer: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, answer)
}

// StreamChunk is one server-sent event of a streamed answer.
type StreamChunk struct {
	ID      string `json:"id"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	id := uuid.NewString()
	for delta, err := range s.chat.Stream(r.Context(), req.toChat()) {
		if err != nil {
			// Can't change status code after streaming started.
			s.writeSSE(w, StreamChunk{ID: id, Error: err.Error()})
			break
		}
		s.writeSSE(w, StreamChunk{ID: id, Content: delta})
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, chunk StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Debug("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE chunk", "error", err)
	}
}

// HistoryMessage is one remembered message.
type HistoryMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	chatID := r.PathValue("chatId")
	msgs, err := s.store.Retrieve(chatID, parseIntParam(r, "limit", 0))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]HistoryMessage, len(msgs))
	for i, m := range msgs {
		out[i] = HistoryMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, ToolName: m.ToolName}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"chatId":   chatID,
		"messages": out,
	}, s.logger)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	chatID := r.PathValue("chatId")
	if err := s.store.Clear(chatID); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("conversation cleared", "conversation", chatID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.store.Stats(), s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
