package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

type fakeMessageRepo struct {
	mu       sync.Mutex
	nextID   int64
	byTicket map[int64][]domain.ChatMessage
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{byTicket: make(map[int64][]domain.ChatMessage)}
}

func (r *fakeMessageRepo) Append(_ context.Context, ticketID, senderID int64, body string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg := domain.ChatMessage{
		ID:         r.nextID,
		TicketID:   ticketID,
		SenderID:   senderID,
		SenderName: fmt.Sprintf("user-%d", senderID),
		Body:       body,
		SentAt:     time.Now(),
	}
	r.byTicket[ticketID] = append(r.byTicket[ticketID], msg)
	return &msg, nil
}

func (r *fakeMessageRepo) ListOrdered(_ context.Context, ticketID int64) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatMessage(nil), r.byTicket[ticketID]...), nil
}

func newTicketServiceForTest(repo *fakeTicketRepo, messages *fakeMessageRepo, dispatcher events.Dispatcher) *TicketService {
	return NewTicketService(TicketDependencies{
		TicketRepo:  repo,
		MessageRepo: messages,
		Lifecycle:   NewLifecycleService(repo, dispatcher),
		Dispatcher:  dispatcher,
	})
}

func regularUser(id int64) *domain.User {
	return &domain.User{ID: id, Name: fmt.Sprintf("user-%d", id), Email: fmt.Sprintf("user%d@example.com", id)}
}

func adminUser(id int64) *domain.User {
	user := regularUser(id)
	user.Admin = true
	return user
}

func TestCreateTicketStartsOpen(t *testing.T) {
	repo := newFakeTicketRepo()
	dispatcher := events.NewInMemoryDispatcher()
	recorded := recordEvents(dispatcher, events.EventTicketCreated)
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), dispatcher)

	ticket, err := svc.CreateTicket(context.Background(), regularUser(7), TicketCreateInput{
		Title:       "  sem acesso  ",
		Description: "não consigo entrar",
		ServiceType: domain.ServiceTypeChat,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("new ticket not aberto: %s", ticket.Status)
	}
	if ticket.Title != "sem acesso" {
		t.Fatalf("title not trimmed: %q", ticket.Title)
	}
	if len(*recorded) != 1 {
		t.Fatalf("expected 1 created event, got %d", len(*recorded))
	}
}

func TestCreateTicketValidatesServiceType(t *testing.T) {
	svc := newTicketServiceForTest(newFakeTicketRepo(), newFakeMessageRepo(), events.NewInMemoryDispatcher())

	_, err := svc.CreateTicket(context.Background(), regularUser(7), TicketCreateInput{
		Title:       "teste",
		ServiceType: domain.ServiceType("telefone"),
	})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListTicketsScopesNonAdminToOwner(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7), openChatTicket(2, 8))
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	tickets, err := svc.ListTickets(context.Background(), regularUser(7), TicketListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 1 || tickets[0].OwnerUserID != 7 {
		t.Fatalf("non-admin saw foreign tickets: %+v", tickets)
	}
	if repo.lastFilter.OwnerUserID == nil || *repo.lastFilter.OwnerUserID != 7 {
		t.Fatalf("owner filter not applied: %+v", repo.lastFilter)
	}

	all, err := svc.ListTickets(context.Background(), adminUser(1), TicketListFilter{})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin should see all tickets, got %d", len(all))
	}
}

func TestGetTicketDeniesForeignOwner(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	_, _, err := svc.GetTicket(context.Background(), regularUser(8), 1)
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdateTicketRejectedWhenTerminal(t *testing.T) {
	ticket := openChatTicket(1, 7)
	ticket.Status = domain.TicketStatusClosed
	repo := newFakeTicketRepo(ticket)
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	title := "novo título"
	_, err := svc.UpdateTicket(context.Background(), regularUser(7), 1, TicketUpdateInput{Title: &title})
	if !apperrors.HasCode(err, apperrors.CodeTerminalTicket) {
		t.Fatalf("expected terminal ticket error, got %v", err)
	}
}

func TestUpdateTicketLosesRaceToClose(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	// The ticket closes between the visibility read and the write; the
	// guarded update matches nothing and the edit is rejected.
	repo.closeBeforeUpdate = true
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	title := "novo título"
	_, err := svc.UpdateTicket(context.Background(), regularUser(7), 1, TicketUpdateInput{Title: &title})
	if !apperrors.HasCode(err, apperrors.CodeTerminalTicket) {
		t.Fatalf("expected terminal ticket error, got %v", err)
	}

	stored, err := repo.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.TicketStatusClosed || stored.ClosedAt == nil {
		t.Fatalf("lost edit resurrected the ticket: %+v", stored)
	}
	if stored.Title == title {
		t.Fatalf("rejected edit still written: %+v", stored)
	}
}

func TestChangeStatusOwnerCanOnlyCancel(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	_, err := svc.ChangeStatus(context.Background(), regularUser(7), 1, domain.TicketStatusClosed, "")
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("owner closed own ticket: %v", err)
	}

	updated, err := svc.ChangeStatus(context.Background(), regularUser(7), 1, domain.TicketStatusCancelled, "desisti")
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if updated.Status != domain.TicketStatusCancelled {
		t.Fatalf("ticket not cancelled: %s", updated.Status)
	}
}

func TestChangeStatusAdminAnyStatus(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	updated, err := svc.ChangeStatus(context.Background(), adminUser(2), 1, domain.TicketStatusResolved, "corrigido")
	if err != nil {
		t.Fatalf("admin transition: %v", err)
	}
	if updated.Status != domain.TicketStatusResolved {
		t.Fatalf("unexpected status %s", updated.Status)
	}
}

func TestSendEmailMessageRejectsChatTicket(t *testing.T) {
	repo := newFakeTicketRepo(openChatTicket(1, 7))
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	_, err := svc.SendEmailMessage(context.Background(), regularUser(7), 1, "respondendo por e-mail")
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSendEmailMessagePersistsAndPublishes(t *testing.T) {
	ticket := openChatTicket(1, 7)
	ticket.ServiceType = domain.ServiceTypeEmail
	repo := newFakeTicketRepo(ticket)
	messages := newFakeMessageRepo()
	dispatcher := events.NewInMemoryDispatcher()
	recorded := recordEvents(dispatcher, events.EventEmailMessageSent)
	svc := newTicketServiceForTest(repo, messages, dispatcher)

	msg, err := svc.SendEmailMessage(context.Background(), adminUser(2), 1, "segue a resposta")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.TicketID != 1 || msg.Body != "segue a resposta" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(*recorded) != 1 {
		t.Fatalf("expected 1 email event, got %d", len(*recorded))
	}
	payload := (*recorded)[0].Payload.(events.EmailMessageSentPayload)
	if payload.RecipientUserID != 7 {
		t.Fatalf("wrong recipient: %+v", payload)
	}
}

func TestSendEmailMessageRejectedWhenTerminal(t *testing.T) {
	ticket := openChatTicket(1, 7)
	ticket.ServiceType = domain.ServiceTypeEmail
	ticket.Status = domain.TicketStatusCancelled
	repo := newFakeTicketRepo(ticket)
	svc := newTicketServiceForTest(repo, newFakeMessageRepo(), events.NewInMemoryDispatcher())

	_, err := svc.SendEmailMessage(context.Background(), adminUser(2), 1, "tarde demais")
	if !apperrors.HasCode(err, apperrors.CodeTerminalTicket) {
		t.Fatalf("expected terminal ticket error, got %v", err)
	}
}
