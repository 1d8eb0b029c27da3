package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets. Values match the
// wire/database representation used by the clients.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "aberto"
	TicketStatusInProgress TicketStatus = "em andamento"
	TicketStatusPending    TicketStatus = "pendente"
	TicketStatusResolved   TicketStatus = "resolvido"
	TicketStatusClosed     TicketStatus = "fechado"
	TicketStatusCancelled  TicketStatus = "cancelado"
)

// Valid reports whether the status is one of the recognized values.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPending,
		TicketStatusResolved, TicketStatusClosed, TicketStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further changes.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusClosed || s == TicketStatusCancelled
}

// ServiceType selects how a ticket is serviced: asynchronous e-mail
// exchange or live chat.
type ServiceType string

const (
	ServiceTypeEmail ServiceType = "email"
	ServiceTypeChat  ServiceType = "chat"
)

// Valid reports whether the service type is recognized.
func (t ServiceType) Valid() bool {
	return t == ServiceTypeEmail || t == ServiceTypeChat
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          int64
	OwnerUserID int64
	Title       string
	Description string
	ServiceType ServiceType
	Status      TicketStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// CanMutate reports whether the ticket still accepts status changes,
// edits or new messages. Once a ticket reaches fechado or cancelado no
// further mutation of any kind is permitted.
func (t *Ticket) CanMutate() bool {
	return !t.Status.Terminal()
}

// CanMessage reports whether a message may be sent on the given channel:
// the ticket must be mutable and its service type must match the channel
// carrying the message.
func (t *Ticket) CanMessage(channel ServiceType) bool {
	return t.CanMutate() && t.ServiceType == channel
}
