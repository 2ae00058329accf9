package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types pushed to subscribers.
const (
	TypeStatus   = "status"
	TypeOutput   = "output"
	TypeChunk    = "chunk"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Event is one realtime message scoped to a proposal.
type Event struct {
	Type       string         `json:"type"`
	ProposalID string         `json:"proposal_id"`
	Message    string         `json:"message,omitempty"`
	Content    string         `json:"content,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Hub multicasts events to subscribers grouped by proposal. Delivery is
// best-effort: a subscriber whose buffer is full misses the event rather
// than blocking the publisher. Realtime updates are advisory; the database
// remains the source of truth.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger *slog.Logger
}

// NewHub creates a new event hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		logger: logger,
	}
}

// subscriberBuffer absorbs bursts (LLM chunk streams) without blocking.
const subscriberBuffer = 64

// Subscribe registers a listener for one proposal's events. The returned
// cancel function must be called to release the subscription; it closes
// the channel.
func (h *Hub) Subscribe(proposalID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[proposalID] == nil {
		h.subs[proposalID] = make(map[chan Event]struct{})
	}
	h.subs[proposalID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[proposalID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, proposalID)
			}
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber of the proposal.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.ProposalID] {
		select {
		case ch <- event:
		default:
			h.logger.Debug("event dropped, slow subscriber",
				"proposal_id", event.ProposalID,
				"type", event.Type,
			)
		}
	}
}

// Status publishes a status message.
func (h *Hub) Status(proposalID, message string) {
	h.Publish(Event{Type: TypeStatus, ProposalID: proposalID, Message: message})
}

// Output publishes one line of CLI output.
func (h *Hub) Output(proposalID, content string) {
	h.Publish(Event{Type: TypeOutput, ProposalID: proposalID, Content: content})
}

// Chunk publishes one LLM text chunk.
func (h *Hub) Chunk(proposalID, content string) {
	h.Publish(Event{Type: TypeChunk, ProposalID: proposalID, Content: content})
}

// Complete publishes a completion event with result details.
func (h *Hub) Complete(proposalID string, data map[string]any) {
	h.Publish(Event{Type: TypeComplete, ProposalID: proposalID, Data: data})
}

// Error publishes an error message.
func (h *Hub) Error(proposalID, message string) {
	h.Publish(Event{Type: TypeError, ProposalID: proposalID, Message: message})
}

// SubscriberCount reports how many listeners a proposal currently has.
func (h *Hub) SubscriberCount(proposalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[proposalID])
}
