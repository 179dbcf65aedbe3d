// Package domain contains core domain types for the replyd application.
package domain

import (
	"time"
)

// Direction labels which way a message travelled.
type Direction string

const (
	// DirectionReceived marks a message a conversation partner sent to us.
	DirectionReceived Direction = "received"
	// DirectionSent marks a message we sent to the partner.
	DirectionSent Direction = "sent"
)

// Message is a single record in a conversation log. Records are immutable
// once written and ordered by timestamp within a partner's log.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Summary   string    `json:"summary,omitempty"`
	PartnerID string    `json:"sender_id,omitempty"`
}

// Expired reports whether the record falls outside the retention window.
func (m Message) Expired(now time.Time, window time.Duration) bool {
	return m.Timestamp.Before(now.Add(-window))
}

// Turn is one entry of the chat context handed to the generation capability.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles used when building generation context.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
