package models

import "time"

// BroadcastRecipient addresses a message to every active agent.
const BroadcastRecipient = "*"

// Message is a unit of inter-agent communication. Messages are append-only
// and globally ordered by sequence number; they are never mutated.
type Message struct {
	// SenderID is the agent that sent the message.
	SenderID string `json:"sender_id"`
	// RecipientID is the target agent, or BroadcastRecipient.
	RecipientID string `json:"recipient_id"`
	// Body is the message content.
	Body string `json:"body"`
	// Timestamp is when the bus accepted the message.
	Timestamp time.Time `json:"timestamp"`
	// Sequence is the monotonic global ordering assigned by the bus.
	Sequence uint64 `json:"sequence"`
}

// Broadcast returns true if the message targets every active agent.
func (m *Message) Broadcast() bool {
	return m.RecipientID == BroadcastRecipient
}
