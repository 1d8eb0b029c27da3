package events

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventChatMessageAdded    EventType = "chat_message_added"
	EventEmailMessageSent    EventType = "email_message_sent"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  int64       `json:"ticket_id"`
	ActorID   int64       `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	OwnerUserID int64              `json:"owner_user_id"`
	Title       string             `json:"title"`
	ServiceType domain.ServiceType `json:"service_type"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OwnerUserID int64               `json:"owner_user_id"`
	Title       string              `json:"title"`
	OldStatus   domain.TicketStatus `json:"old_status"`
	NewStatus   domain.TicketStatus `json:"new_status"`
	Comment     string              `json:"comment,omitempty"`
}

// ChatMessageAddedPayload payload.
type ChatMessageAddedPayload struct {
	MessageID   int64  `json:"message_id"`
	SenderID    int64  `json:"sender_id"`
	BodyPreview string `json:"body_preview"`
}

// EmailMessageSentPayload payload.
type EmailMessageSentPayload struct {
	RecipientUserID int64  `json:"recipient_user_id"`
	Title           string `json:"title"`
	BodyPreview     string `json:"body_preview"`
}
