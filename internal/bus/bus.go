// Package bus provides the ordered, multi-recipient message relay between
// concurrently running agents. All cross-agent interaction goes through the
// bus; agents never call each other directly.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/perrindunn/muster/pkg/models"
)

// ErrClosed indicates a send was attempted after session teardown.
var ErrClosed = errors.New("message bus closed")

// MessageBus relays append-only, globally ordered messages. Delivery is
// at-least-once: a receiver resumes from its last-seen sequence number, so
// duplicates after a reconnect are tolerated but ordering is preserved.
type MessageBus struct {
	mu sync.RWMutex
	// log is the append-only global message history.
	log []models.Message
	// nextSeq is the next sequence number to assign. Sequence 0 is never
	// used, so "since 0" means the full history.
	nextSeq uint64
	// joined maps agent id to the sequence at which it registered.
	// Broadcasts before the join point are not replayed.
	joined map[string]uint64
	// cursors tracks each agent's last delivered sequence for gap warnings.
	cursors map[string]uint64
	closed  bool
	logger  *slog.Logger
}

// New creates an empty message bus.
func New() *MessageBus {
	return &MessageBus{
		nextSeq: 1,
		joined:  make(map[string]uint64),
		cursors: make(map[string]uint64),
		logger:  slog.Default(),
	}
}

// SetLogger replaces the bus logger.
func (b *MessageBus) SetLogger(l *slog.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Register marks an agent active. Broadcasts from this point forward are
// visible to it; earlier broadcasts are only reachable through History.
func (b *MessageBus) Register(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.joined[agentID]; ok {
		return
	}
	b.joined[agentID] = b.nextSeq
}

// Deregister removes an agent from the active set. Its history remains.
func (b *MessageBus) Deregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.joined, agentID)
	delete(b.cursors, agentID)
}

// ActiveAgents returns the ids of all registered agents, sorted.
func (b *MessageBus) ActiveAgents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.joined))
	for id := range b.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send appends a message and returns its assigned sequence number.
// Messages are never mutated after acceptance.
func (b *MessageBus) Send(msg models.Message) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if msg.SenderID == "" {
		return 0, fmt.Errorf("message requires a sender id")
	}
	if msg.RecipientID == "" {
		return 0, fmt.Errorf("message requires a recipient id or broadcast")
	}

	msg.Sequence = b.nextSeq
	msg.Timestamp = time.Now()
	b.nextSeq++
	b.log = append(b.log, msg)
	return msg.Sequence, nil
}

// Receive returns the messages addressed to the agent with sequence numbers
// greater than sinceSeq, in sequence order. Broadcasts sent before the
// agent registered are excluded; History(0) replays them on request.
func (b *MessageBus) Receive(agentID string, sinceSeq uint64) []models.Message {
	b.mu.RLock()
	joinSeq, active := b.joined[agentID]
	var out []models.Message
	for _, msg := range b.log {
		if msg.Sequence <= sinceSeq {
			continue
		}
		if msg.RecipientID == agentID {
			out = append(out, msg)
			continue
		}
		if msg.Broadcast() && active && msg.Sequence >= joinSeq && msg.SenderID != agentID {
			out = append(out, msg)
		}
	}
	b.mu.RUnlock()

	b.trackCursor(agentID, sinceSeq, out)
	return out
}

// trackCursor warns when a receiver resumes past messages it never saw.
// Gaps are never fatal; the receiver backfills with History.
func (b *MessageBus) trackCursor(agentID string, sinceSeq uint64, delivered []models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	last := b.cursors[agentID]
	if sinceSeq > last {
		b.logger.Warn("receiver resumed past undelivered messages",
			"agent_id", agentID, "last_delivered", last, "resumed_from", sinceSeq)
	}
	if n := len(delivered); n > 0 {
		b.cursors[agentID] = delivered[n-1].Sequence
	}
}

// History returns every message with a sequence number greater than
// sinceSeq, regardless of recipient. History(0) is the full record; it
// stays readable after Close for audit and gap backfill.
func (b *MessageBus) History(sinceSeq uint64) []models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []models.Message
	for _, msg := range b.log {
		if msg.Sequence > sinceSeq {
			out = append(out, msg)
		}
	}
	return out
}

// Close stops accepting sends. The history remains readable so the record
// of a session survives teardown.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
