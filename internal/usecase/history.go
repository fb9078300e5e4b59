package usecase

import (
	"sync"
	"time"

	"relay-ai/internal/domain"
)

// DefaultMaxHistory is the history bound applied when none is configured.
const DefaultMaxHistory = 50

// History is the bounded, append-only conversation log for one user.
// Only user and assistant turns are counted and retained by trimming;
// any other role is dropped the next time the history is trimmed.
//
// Each History carries its own mutex so that concurrent appends for the
// same user serialize the append-and-trim sequence, while histories for
// distinct users never contend.
type History struct {
	mu         sync.RWMutex
	maxEntries int
	turns      []domain.Message
}

// NewHistory creates an empty history bounded to maxEntries turns.
func NewHistory(maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxHistory
	}
	return &History{maxEntries: maxEntries}
}

// Add appends a turn with the given role and trims to the bound.
// It never fails; roles outside user/assistant are silently excluded
// from the retained history.
func (h *History) Add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, domain.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	h.trimLocked()
}

// trimLocked keeps only the last maxEntries user/assistant turns.
// Caller must hold mu.
func (h *History) trimLocked() {
	filtered := h.turns[:0:0]
	for _, t := range h.turns {
		if t.Role == domain.RoleUser || t.Role == domain.RoleAssistant {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) > h.maxEntries {
		filtered = filtered[len(filtered)-h.maxEntries:]
	}
	h.turns = filtered
}

// Snapshot returns a copy of the current trimmed turns, in order,
// suitable for feeding to a model. Mutating the returned slice does not
// affect the history.
func (h *History) Snapshot() []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]domain.Message, len(h.turns))
	copy(cp, h.turns)
	return cp
}

// Clear empties the history immediately.
func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}

// Len returns the current turn count.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
