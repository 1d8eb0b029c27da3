package domain

import "time"

// ChatMessage is one entry in a ticket's message thread. Messages are
// append-only: once stored they are never edited or deleted, and SentAt
// is assigned by the server so that persisted order matches replay order.
type ChatMessage struct {
	ID         int64
	TicketID   int64
	SenderID   int64
	SenderName string
	Body       string
	SentAt     time.Time
}
