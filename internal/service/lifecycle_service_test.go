package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

type fakeTicketRepo struct {
	mu         sync.Mutex
	tickets    map[int64]domain.Ticket
	nextID     int64
	lastFilter repository.TicketFilter
	// statusRace, when set, makes UpdateStatus fail as if another
	// writer closed the ticket between read and write.
	statusRace bool
	// closeBeforeUpdate, when set, closes the stored ticket right
	// before Update applies its terminal guard.
	closeBeforeUpdate bool
}

func newFakeTicketRepo(tickets ...domain.Ticket) *fakeTicketRepo {
	repo := &fakeTicketRepo{tickets: make(map[int64]domain.Ticket)}
	for _, t := range tickets {
		repo.tickets[t.ID] = t
		if t.ID > repo.nextID {
			repo.nextID = t.ID
		}
	}
	return repo
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ticket.ID = r.nextID
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	r.tickets[ticket.ID] = *ticket
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if r.closeBeforeUpdate {
		now := time.Now()
		stored.Status = domain.TicketStatusClosed
		stored.ClosedAt = &now
		r.tickets[ticket.ID] = stored
	}
	// Mirrors the guarded UPDATE: only title and description travel
	// through this path, and terminal rows never match.
	if stored.Status.Terminal() {
		return pgx.ErrNoRows
	}
	stored.Title = ticket.Title
	stored.Description = ticket.Description
	stored.UpdatedAt = time.Now()
	r.tickets[ticket.ID] = stored
	ticket.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *fakeTicketRepo) UpdateStatus(_ context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok || ticket.Status.Terminal() || r.statusRace {
		return nil, pgx.ErrNoRows
	}
	ticket.Status = status
	ticket.UpdatedAt = time.Now()
	if status.Terminal() {
		now := time.Now()
		ticket.ClosedAt = &now
	} else {
		ticket.ClosedAt = nil
	}
	r.tickets[id] = ticket
	copied := ticket
	return &copied, nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := ticket
	return &copied, nil
}

func (r *fakeTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.OwnerUserID != nil && ticket.OwnerUserID != *filter.OwnerUserID {
			continue
		}
		out = append(out, ticket)
	}
	return out, nil
}

func recordEvents(dispatcher events.Dispatcher, eventType events.EventType) *[]events.Event {
	var (
		mu       sync.Mutex
		recorded []events.Event
	)
	dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
		mu.Lock()
		recorded = append(recorded, event)
		mu.Unlock()
		return nil
	})
	return &recorded
}

func openChatTicket(id, ownerID int64) domain.Ticket {
	return domain.Ticket{
		ID:          id,
		OwnerUserID: ownerID,
		Title:       "sem acesso ao sistema",
		ServiceType: domain.ServiceTypeChat,
		Status:      domain.TicketStatusOpen,
	}
}

func TestTransitionUpdatesStatusAndPublishes(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	dispatcher := events.NewInMemoryDispatcher()
	recorded := recordEvents(dispatcher, events.EventTicketStatusChanged)
	svc := NewLifecycleService(repo, dispatcher)

	updated, err := svc.Transition(context.Background(), 99, 1, domain.TicketStatusInProgress, "atendendo")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != domain.TicketStatusInProgress {
		t.Fatalf("status not updated: %s", updated.Status)
	}
	if len(*recorded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(*recorded))
	}
	payload := (*recorded)[0].Payload.(events.TicketStatusChangedPayload)
	if payload.OldStatus != domain.TicketStatusOpen || payload.NewStatus != domain.TicketStatusInProgress {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Comment != "atendendo" {
		t.Fatalf("comment lost: %+v", payload)
	}
}

func TestTransitionClosingSetsClosedAt(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	svc := NewLifecycleService(repo, events.NewInMemoryDispatcher())

	updated, err := svc.Transition(context.Background(), 99, 1, domain.TicketStatusClosed, "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.ClosedAt == nil {
		t.Fatalf("closed ticket missing closed_at")
	}
}

func TestTransitionTerminalTicketRejected(t *testing.T) {
	ticket := openChatTicket(1, 7)
	ticket.Status = domain.TicketStatusCancelled
	repo := newFakeTicketRepo(ticket)
	svc := NewLifecycleService(repo, events.NewInMemoryDispatcher())

	_, err := svc.Transition(context.Background(), 99, 1, domain.TicketStatusOpen, "")
	if !apperrors.HasCode(err, apperrors.CodeTerminalTicket) {
		t.Fatalf("expected terminal ticket error, got %v", err)
	}
}

func TestTransitionLostRaceReportsTerminal(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	repo.statusRace = true
	svc := NewLifecycleService(repo, events.NewInMemoryDispatcher())

	_, err := svc.Transition(context.Background(), 99, 1, domain.TicketStatusClosed, "")
	if !apperrors.HasCode(err, apperrors.CodeTerminalTicket) {
		t.Fatalf("expected terminal ticket error, got %v", err)
	}
}

func TestTransitionInvalidStatus(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	svc := NewLifecycleService(repo, events.NewInMemoryDispatcher())

	_, err := svc.Transition(context.Background(), 99, 1, domain.TicketStatus("arquivado"), "")
	if !apperrors.HasCode(err, apperrors.CodeInvalidStatus) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
}

func TestTransitionUnknownTicket(t *testing.T) {
	svc := NewLifecycleService(newFakeTicketRepo(), events.NewInMemoryDispatcher())

	_, err := svc.Transition(context.Background(), 99, 42, domain.TicketStatusClosed, "")
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	dispatcher := events.NewInMemoryDispatcher()
	recorded := recordEvents(dispatcher, events.EventTicketStatusChanged)
	svc := NewLifecycleService(repo, dispatcher)

	updated, err := svc.Transition(context.Background(), 99, 1, domain.TicketStatusOpen, "")
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != domain.TicketStatusOpen {
		t.Fatalf("status changed on no-op: %s", updated.Status)
	}
	if len(*recorded) != 0 {
		t.Fatalf("no-op transition published an event")
	}
}
