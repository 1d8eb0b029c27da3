package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// LifecycleService owns ticket status transitions. It performs no
// authorization; callers decide who may transition what.
type LifecycleService struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
}

// NewLifecycleService constructs the service.
func NewLifecycleService(tickets repository.TicketRepository, dispatcher events.Dispatcher) *LifecycleService {
	return &LifecycleService{tickets: tickets, dispatcher: dispatcher}
}

// Transition moves a ticket to newStatus. Once a ticket reaches fechado
// or cancelado no further transition succeeds; the terminal lock is
// enforced by the conditional UPDATE, so two concurrent closers cannot
// both win.
func (s *LifecycleService) Transition(ctx context.Context, actorID, ticketID int64, newStatus domain.TicketStatus, comment string) (*domain.Ticket, error) {
	if !newStatus.Valid() {
		return nil, apperrors.NewInvalidStatus(string(newStatus))
	}

	current, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("chamado", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.NewPersistence(err)
	}
	if current.Status.Terminal() {
		return nil, apperrors.NewTerminalTicket(ticketID)
	}
	if current.Status == newStatus {
		return current, nil
	}

	updated, err := s.tickets.UpdateStatus(ctx, ticketID, newStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row was there a moment ago; someone closed it between
			// our read and the write.
			return nil, apperrors.NewTerminalTicket(ticketID)
		}
		return nil, apperrors.NewPersistence(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: updated.ID,
		ActorID:  actorID,
		Payload: events.TicketStatusChangedPayload{
			OwnerUserID: updated.OwnerUserID,
			Title:       updated.Title,
			OldStatus:   current.Status,
			NewStatus:   updated.Status,
			Comment:     comment,
		},
	})
	return updated, nil
}

func (s *LifecycleService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	_ = s.dispatcher.Publish(ctx, event)
}
