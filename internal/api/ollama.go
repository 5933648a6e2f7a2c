package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/tollgate/internal/buildinfo"
	"github.com/nugget/tollgate/internal/chat"
)

// The Ollama-compatible facade lets clients that speak Ollama's
// /api/chat (Open WebUI, Home Assistant) use tollgate as their model.
// Only the last user message is answered; history comes from memory,
// keyed by the X-Conversation-Id header.

// ollamaConversationHeader selects the conversation for facade calls.
const ollamaConversationHeader = "X-Conversation-Id"

// OllamaChatRequest is the Ollama /api/chat request format.
type OllamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []OllamaChatMessage `json:"messages"`
	Stream   *bool               `json:"stream,omitempty"`
	Tools    []map[string]any    `json:"tools,omitempty"`
	Think    *bool               `json:"think,omitempty"`
}

// OllamaChatMessage is the Ollama message format.
type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChatResponse is the Ollama /api/chat response format.
type OllamaChatResponse struct {
	Model         string            `json:"model"`
	CreatedAt     string            `json:"created_at"`
	Message       OllamaChatMessage `json:"message"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason,omitempty"`
	TotalDuration int64             `json:"total_duration,omitempty"`
}

// OllamaTagsResponse is the Ollama /api/tags response format.
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a model in the tags response.
type OllamaModel struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaVersionResponse is the Ollama /api/version response.
type OllamaVersionResponse struct {
	Version string `json:"version"`
}

func (s *Server) registerOllamaRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", s.handleOllamaChat)
	mux.HandleFunc("GET /api/tags", s.handleOllamaTags)
	mux.HandleFunc("GET /api/version", s.handleOllamaVersion)
}

// toChat maps a facade request to a chat request. Client-supplied tools
// and system prompts are ignored; tollgate brings its own.
func (s *Server) ollamaToChat(r *http.Request, req *OllamaChatRequest) (chat.Request, bool) {
	if len(req.Tools) > 0 {
		s.logger.Debug("client tools ignored", "count", len(req.Tools))
	}

	var message string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			message = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(message) == "" {
		return chat.Request{}, false
	}

	think := true
	if req.Think != nil {
		think = *req.Think
	}

	// The advertised model name maps to the configured default.
	model := req.Model
	if model == "" || model == "tollgate" || model == "tollgate:latest" {
		model = ""
	}

	conv := r.Header.Get(ollamaConversationHeader)
	if conv == "" {
		conv = "ollama"
	}
	return chat.Request{ConversationID: conv, Message: message, Think: think, Model: model}, true
}

func (s *Server) handleOllamaChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req OllamaChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		ollamaError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.logger.Info("ollama chat request received",
		"remote_addr", r.RemoteAddr,
		"user_agent", r.Header.Get("User-Agent"),
		"model", req.Model,
		"messages", len(req.Messages),
	)

	chatReq, ok := s.ollamaToChat(r, &req)
	if !ok {
		ollamaError(w, http.StatusBadRequest, "no user message")
		return
	}

	model := req.Model
	if model == "" {
		model = "tollgate"
	}

	// For Ollama compatibility, a nil stream defaults to true.
	if req.Stream == nil || *req.Stream {
		s.handleOllamaStream(w, r, chatReq, model, start)
		return
	}

	answer, err := s.chat.Generate(r.Context(), chatReq)
	if err != nil {
		s.logger.Error("ollama chat failed", "error", err)
		ollamaError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, OllamaChatResponse{
		Model:         model,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		Message:       OllamaChatMessage{Role: "assistant", Content: answer},
		Done:          true,
		DoneReason:    "stop",
		TotalDuration: time.Since(start).Nanoseconds(),
	}, s.logger)
}

// handleOllamaStream writes NDJSON chunks, ending with a done message.
func (s *Server) handleOllamaStream(w http.ResponseWriter, r *http.Request, req chat.Request, model string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		ollamaError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")

	write := func(resp OllamaChatResponse) {
		resp.Model = model
		resp.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Debug("failed to marshal ollama chunk", "error", err)
			return
		}
		fmt.Fprintf(w, "%s\n", data)
		flusher.Flush()
	}

	for delta, err := range s.chat.Stream(r.Context(), req) {
		if err != nil {
			s.logger.Error("ollama stream failed", "error", err)
			write(OllamaChatResponse{
				Message:    OllamaChatMessage{Role: "assistant", Content: fmt.Sprintf("Error: %v", err)},
				Done:       true,
				DoneReason: "error",
			})
			return
		}
		write(OllamaChatResponse{Message: OllamaChatMessage{Role: "assistant", Content: delta}})
	}

	write(OllamaChatResponse{
		Message:       OllamaChatMessage{Role: "assistant"},
		Done:          true,
		DoneReason:    "stop",
		TotalDuration: time.Since(start).Nanoseconds(),
	})
}

// handleOllamaTags advertises tollgate as the only model.
func (s *Server) handleOllamaTags(w http.ResponseWriter, r *http.Request) {
	name := "tollgate:latest"
	if s.model != "" {
		name = s.model
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, OllamaTagsResponse{
		Models: []OllamaModel{{
			Name:       name,
			Model:      name,
			ModifiedAt: time.Now().UTC().Format(time.RFC3339),
			Digest:     "tollgate",
		}},
	}, s.logger)
}

func (s *Server) handleOllamaVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, OllamaVersionResponse{Version: buildinfo.Version}, s.logger)
}

// ollamaError sends an error response in a format Ollama clients expect.
func ollamaError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.Marshal(map[string]string{"error": message})
	_, _ = w.Write(data)
}
