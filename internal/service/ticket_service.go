package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets    repository.TicketRepository
	messages   repository.MessageRepository
	lifecycle  *LifecycleService
	dispatcher events.Dispatcher
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.MessageRepository
	Lifecycle   *LifecycleService
	Dispatcher  events.Dispatcher
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	ServiceType domain.ServiceType
}

// TicketUpdateInput carries optional field updates.
type TicketUpdateInput struct {
	Title       *string
	Description *string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	ServiceType *domain.ServiceType
	Status      *domain.TicketStatus
	SearchTerm  *string
	Limit       int
	Offset      int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		lifecycle:  deps.Lifecycle,
		dispatcher: deps.Dispatcher,
	}
}

// CreateTicket opens a new ticket for a user. New tickets always start
// in aberto.
func (s *TicketService) CreateTicket(ctx context.Context, user *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("título é obrigatório", nil)
	}
	if !input.ServiceType.Valid() {
		return nil, apperrors.NewValidationError("tipo_atendimento inválido",
			map[string]any{"tipo_atendimento": input.ServiceType})
	}

	ticket := &domain.Ticket{
		OwnerUserID: user.ID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		ServiceType: input.ServiceType,
		Status:      domain.TicketStatusOpen,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewPersistence(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		ActorID:  user.ID,
		Payload: events.TicketCreatedPayload{
			OwnerUserID: ticket.OwnerUserID,
			Title:       ticket.Title,
			ServiceType: ticket.ServiceType,
		},
	})
	return ticket, nil
}

// ListTickets returns tickets visible to the caller. Non-admins only
// ever see their own.
func (s *TicketService) ListTickets(ctx context.Context, user *domain.User, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := repository.TicketFilter{
		ServiceType: filter.ServiceType,
		Status:      filter.Status,
		SearchTerm:  filter.SearchTerm,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	if !user.Admin {
		owner := user.ID
		repoFilter.OwnerUserID = &owner
	}
	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.NewPersistence(err)
	}
	return tickets, nil
}

// GetTicket fetches a ticket with its message history, enforcing
// ownership for non-admins.
func (s *TicketService) GetTicket(ctx context.Context, user *domain.User, ticketID int64) (*domain.Ticket, []domain.ChatMessage, error) {
	ticket, err := s.loadVisible(ctx, user, ticketID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.messages.ListOrdered(ctx, ticket.ID)
	if err != nil {
		return nil, nil, apperrors.NewPersistence(err)
	}
	return ticket, history, nil
}

// UpdateTicket edits title/description. Terminal tickets reject every
// mutation.
func (s *TicketService) UpdateTicket(ctx context.Context, user *domain.User, ticketID int64, input TicketUpdateInput) (*domain.Ticket, error) {
	ticket, err := s.loadVisible(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.CanMutate() {
		return nil, apperrors.NewTerminalTicket(ticketID)
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewValidationError("título é obrigatório", nil)
		}
		ticket.Title = title
	}
	if input.Description != nil {
		ticket.Description = strings.TrimSpace(*input.Description)
	}
	if err := s.tickets.Update(ctx, ticket); err != nil {
		// The guarded UPDATE matched no row: the ticket was closed or
		// cancelled between our read and the write.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewTerminalTicket(ticketID)
		}
		return nil, apperrors.NewPersistence(err)
	}
	return ticket, nil
}

// ChangeStatus applies authorization and delegates the transition.
// Admins may set any status; owners may only cancel their own ticket.
func (s *TicketService) ChangeStatus(ctx context.Context, user *domain.User, ticketID int64, status domain.TicketStatus, comment string) (*domain.Ticket, error) {
	if !user.Admin {
		ticket, err := s.loadVisible(ctx, user, ticketID)
		if err != nil {
			return nil, err
		}
		if status != domain.TicketStatusCancelled {
			return nil, apperrors.NewForbidden("apenas administradores alteram o status do chamado")
		}
		ticketID = ticket.ID
	}
	return s.lifecycle.Transition(ctx, user.ID, ticketID, status, comment)
}

// SendEmailMessage appends a reply to an email-channel ticket and asks
// the notification pipeline to deliver it. Chat tickets refuse the
// email path the same way the socket refuses email tickets.
func (s *TicketService) SendEmailMessage(ctx context.Context, user *domain.User, ticketID int64, body string) (*domain.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("mensagem é obrigatória", nil)
	}

	ticket, err := s.loadVisible(ctx, user, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.CanMutate() {
		return nil, apperrors.NewTerminalTicket(ticketID)
	}
	if !ticket.CanMessage(domain.ServiceTypeEmail) {
		return nil, apperrors.NewValidationError("este chamado não é atendido por e-mail",
			map[string]any{"tipo_atendimento": ticket.ServiceType})
	}

	msg, err := s.messages.Append(ctx, ticket.ID, user.ID, body)
	if err != nil {
		return nil, apperrors.NewPersistence(err)
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventEmailMessageSent,
		TicketID: ticket.ID,
		ActorID:  user.ID,
		Payload: events.EmailMessageSentPayload{
			RecipientUserID: ticket.OwnerUserID,
			Title:           ticket.Title,
			BodyPreview:     stringPreview(msg.Body, 400),
		},
	})
	return msg, nil
}

// loadVisible fetches the ticket and enforces that non-admins can only
// reach tickets they own.
func (s *TicketService) loadVisible(ctx context.Context, user *domain.User, ticketID int64) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("chamado", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.NewPersistence(err)
	}
	if !user.Admin && ticket.OwnerUserID != user.ID {
		return nil, apperrors.NewForbidden("acesso negado ao chamado")
	}
	return ticket, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()
	_ = s.dispatcher.Publish(ctx, event)
}

func stringPreview(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
