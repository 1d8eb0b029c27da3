package chat

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketStore is the slice of ticket persistence the chat core needs.
// The session never caches permissions: it reloads the ticket before
// every guarded action because an admin may close the ticket while a
// chat is open.
type TicketStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
}

// MessageStore is the durable append-only message log contract.
type MessageStore interface {
	Append(ctx context.Context, ticketID, senderID int64, body string) (*domain.ChatMessage, error)
	ListOrdered(ctx context.Context, ticketID int64) ([]domain.ChatMessage, error)
}
