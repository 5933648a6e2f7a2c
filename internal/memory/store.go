// Package memory provides conversation memory storage.
package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/nugget/tollgate/internal/llm"
)

// Store is the interface for conversation memory.
type Store interface {
	// Append records a message at the end of a conversation.
	Append(conversationID string, msg llm.Message) error
	// Retrieve returns up to max of the most recent messages, oldest
	// first. A max of zero or less returns everything retained.
	Retrieve(conversationID string, max int) ([]llm.Message, error)
	// Clear removes a conversation.
	Clear(conversationID string) error
	// Stats returns storage statistics.
	Stats() map[string]any
}

// conversation holds the retained messages of one conversation.
type conversation struct {
	messages  []llm.Message
	createdAt time.Time
	updatedAt time.Time
}

// WindowStore keeps a bounded window of messages per conversation in
// process memory.
type WindowStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	maxMessages   int // per conversation
}

// NewWindowStore creates an in-memory store retaining at most
// maxMessages per conversation.
func NewWindowStore(maxMessages int) *WindowStore {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	return &WindowStore{
		conversations: make(map[string]*conversation),
		maxMessages:   maxMessages,
	}
}

// Append adds a message to a conversation, trimming the oldest
// non-system messages once the window is full.
func (s *WindowStore) Append(conversationID string, msg llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &conversation{createdAt: now}
		s.conversations[conversationID] = conv
	}
	conv.messages = append(conv.messages, msg)
	conv.updatedAt = now

	if len(conv.messages) > s.maxMessages {
		conv.messages = trim(conv.messages, s.maxMessages)
	}
	return nil
}

// trim keeps every system message plus the most recent others so the
// total fits in max, never dropping below one non-system message.
func trim(msgs []llm.Message, max int) []llm.Message {
	var system, other []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	keep := max - len(system)
	if keep < 1 {
		keep = 1
	}
	if len(other) > keep {
		other = other[len(other)-keep:]
	}
	return append(system, other...)
}

// Retrieve returns a copy of the most recent messages.
func (s *WindowStore) Retrieve(conversationID string, max int) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []llm.Message{}, nil
	}
	msgs := conv.messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return slices.Clone(msgs), nil
}

// Clear removes a conversation.
func (s *WindowStore) Clear(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// Stats returns memory statistics.
func (s *WindowStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalMessages := 0
	for _, conv := range s.conversations {
		totalMessages += len(conv.messages)
	}

	return map[string]any{
		"conversations": len(s.conversations),
		"messages":      totalMessages,
		"max_per_conv":  s.maxMessages,
		"storage":       "memory",
	}
}
