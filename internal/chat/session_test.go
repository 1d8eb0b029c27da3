package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu          sync.Mutex
	writes      []any
	failHistory bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case payload := <-c.in:
		return payload, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := v.(HistoryFrame); ok && c.failHistory {
		return errors.New("write failed")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(payload string) {
	c.in <- []byte(payload)
}

func (c *fakeConn) frames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.writes...)
}

func (c *fakeConn) historyFrame() (HistoryFrame, bool) {
	for _, w := range c.frames() {
		if frame, ok := w.(HistoryFrame); ok {
			return frame, true
		}
	}
	return HistoryFrame{}, false
}

func (c *fakeConn) messageFrames() []MessageFrame {
	var out []MessageFrame
	for _, w := range c.frames() {
		if frame, ok := w.(MessageFrame); ok {
			out = append(out, frame)
		}
	}
	return out
}

func (c *fakeConn) errorFrame() (ErrorFrame, bool) {
	for _, w := range c.frames() {
		if frame, ok := w.(ErrorFrame); ok {
			return frame, true
		}
	}
	return ErrorFrame{}, false
}

type fakeTicketStore struct {
	mu      sync.Mutex
	tickets map[int64]domain.Ticket
}

func newFakeTicketStore(tickets ...domain.Ticket) *fakeTicketStore {
	s := &fakeTicketStore{tickets: make(map[int64]domain.Ticket)}
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
	return s
}

func (s *fakeTicketStore) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := ticket
	return &copied, nil
}

func (s *fakeTicketStore) setStatus(id int64, status domain.TicketStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket := s.tickets[id]
	ticket.Status = status
	s.tickets[id] = ticket
}

type fakeMessageStore struct {
	mu        sync.Mutex
	nextID    int64
	byTicket  map[int64][]domain.ChatMessage
	appendErr error
	listErr   error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{byTicket: make(map[int64][]domain.ChatMessage)}
}

func (s *fakeMessageStore) Append(_ context.Context, ticketID, senderID int64, body string) (*domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.nextID++
	msg := domain.ChatMessage{
		ID:         s.nextID,
		TicketID:   ticketID,
		SenderID:   senderID,
		SenderName: fmt.Sprintf("user-%d", senderID),
		Body:       body,
		SentAt:     time.Now(),
	}
	s.byTicket[ticketID] = append(s.byTicket[ticketID], msg)
	return &msg, nil
}

func (s *fakeMessageStore) ListOrdered(_ context.Context, ticketID int64) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.ChatMessage(nil), s.byTicket[ticketID]...), nil
}

func (s *fakeMessageStore) seed(ticketID int64, msgs ...domain.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		s.byTicket[ticketID] = append(s.byTicket[ticketID], msg)
		if msg.ID > s.nextID {
			s.nextID = msg.ID
		}
	}
}

func (s *fakeMessageStore) count(ticketID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byTicket[ticketID])
}

type noopPresence struct{}

func (noopPresence) Join(context.Context, int64, int64)  {}
func (noopPresence) Leave(context.Context, int64, int64) {}

func newTestDeps(tickets *fakeTicketStore, messages *fakeMessageStore) SessionDependencies {
	registry := NewRegistry()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	return SessionDependencies{
		Registry:       registry,
		Tickets:        tickets,
		Messages:       messages,
		Dispatcher:     NewDispatcher(registry, metrics, logger),
		Presence:       noopPresence{},
		Metrics:        metrics,
		Logger:         logger,
		OutboundBuffer: 8,
	}
}

func startSession(deps SessionDependencies, conn *fakeConn) (*Session, chan struct{}) {
	session := NewSession(conn, deps)
	done := make(chan struct{})
	go func() {
		session.Run(context.Background())
		close(done)
	}()
	return session, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, what string, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func chatTicket(id int64) domain.Ticket {
	return domain.Ticket{
		ID:          id,
		OwnerUserID: 1,
		Title:       "problema no acesso",
		ServiceType: domain.ServiceTypeChat,
		Status:      domain.TicketStatusOpen,
	}
}

func registerPayload(ticketID, userID int64) string {
	return fmt.Sprintf(`{"type":"register","ticket_id":%d,"usuario_id":%d}`, ticketID, userID)
}

func messagePayload(ticketID, userID int64, body string) string {
	return fmt.Sprintf(`{"type":"chat_message","ticket_id":%d,"usuario_id":%d,"conteudo":%q}`, ticketID, userID, body)
}

func TestChatBroadcastBetweenParticipants(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	deps := newTestDeps(tickets, messages)

	conn1 := newFakeConn()
	conn2 := newFakeConn()
	startSession(deps, conn1)
	startSession(deps, conn2)

	conn1.send(registerPayload(1, 10))
	conn2.send(registerPayload(1, 20))
	waitFor(t, "history on conn1", func() bool { _, ok := conn1.historyFrame(); return ok })
	waitFor(t, "history on conn2", func() bool { _, ok := conn2.historyFrame(); return ok })

	conn1.send(messagePayload(1, 10, "oi, alguém aí?"))

	waitFor(t, "delivery to conn2", func() bool { return len(conn2.messageFrames()) == 1 })
	waitFor(t, "echo to sender", func() bool { return len(conn1.messageFrames()) == 1 })

	got := conn2.messageFrames()[0]
	if got.Conteudo != "oi, alguém aí?" || got.UserID != 10 {
		t.Fatalf("unexpected frame: %+v", got)
	}
	if messages.count(1) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", messages.count(1))
	}
}

func TestRegisterReplaysHistoryInOrder(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	ctx := context.Background()
	if _, err := messages.Append(ctx, 1, 10, "primeira"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := messages.Append(ctx, 1, 20, "segunda"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conn := newFakeConn()
	startSession(newTestDeps(tickets, messages), conn)
	conn.send(registerPayload(1, 10))

	waitFor(t, "history frame", func() bool { _, ok := conn.historyFrame(); return ok })
	history, _ := conn.historyFrame()
	if len(history.Historico) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history.Historico))
	}
	if history.Historico[0].Conteudo != "primeira" || history.Historico[1].Conteudo != "segunda" {
		t.Fatalf("history out of order: %+v", history.Historico)
	}
}

func TestRegisterUnknownTicketClosesSession(t *testing.T) {
	tickets := newFakeTicketStore()
	conn := newFakeConn()
	_, done := startSession(newTestDeps(tickets, newFakeMessageStore()), conn)

	conn.send(registerPayload(99, 10))

	waitDone(t, "session end", done)
	errFrame, ok := conn.errorFrame()
	if !ok {
		t.Fatalf("expected error frame, got %v", conn.frames())
	}
	if errFrame.Error != "chamado não encontrado" {
		t.Fatalf("unexpected error %q", errFrame.Error)
	}
}

func TestRegisterRejectsTerminalTicket(t *testing.T) {
	ticket := chatTicket(1)
	ticket.Status = domain.TicketStatusClosed
	conn := newFakeConn()
	_, done := startSession(newTestDeps(newFakeTicketStore(ticket), newFakeMessageStore()), conn)

	conn.send(registerPayload(1, 10))

	waitDone(t, "session end", done)
	errFrame, ok := conn.errorFrame()
	if !ok || errFrame.Error != "chamado já encerrado ou cancelado" {
		t.Fatalf("unexpected frames: %v", conn.frames())
	}
}

func TestRegisterRejectsEmailTicket(t *testing.T) {
	ticket := chatTicket(1)
	ticket.ServiceType = domain.ServiceTypeEmail
	conn := newFakeConn()
	_, done := startSession(newTestDeps(newFakeTicketStore(ticket), newFakeMessageStore()), conn)

	conn.send(registerPayload(1, 10))

	waitDone(t, "session end", done)
	errFrame, ok := conn.errorFrame()
	if !ok || errFrame.Error != "este chamado não é atendido por chat" {
		t.Fatalf("unexpected frames: %v", conn.frames())
	}
}

func TestMessageOnClosedTicketRejected(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	conn := newFakeConn()
	_, done := startSession(newTestDeps(tickets, messages), conn)

	conn.send(registerPayload(1, 10))
	waitFor(t, "history frame", func() bool { _, ok := conn.historyFrame(); return ok })

	// The admin closes the ticket while the chat is open; the next
	// message is rejected but the connection survives.
	tickets.setStatus(1, domain.TicketStatusClosed)
	conn.send(messagePayload(1, 10, "ainda aí?"))

	waitFor(t, "rejection frame", func() bool { _, ok := conn.errorFrame(); return ok })
	errFrame, _ := conn.errorFrame()
	if errFrame.Error != "chamado já encerrado ou cancelado" {
		t.Fatalf("unexpected error %q", errFrame.Error)
	}
	if messages.count(1) != 0 {
		t.Fatalf("rejected message was persisted")
	}
	select {
	case <-done:
		t.Fatalf("session ended on rejected message")
	default:
	}
}

func TestPersistenceFailureDoesNotBroadcast(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	deps := newTestDeps(tickets, messages)

	sender := newFakeConn()
	peer := newFakeConn()
	startSession(deps, sender)
	startSession(deps, peer)
	sender.send(registerPayload(1, 10))
	peer.send(registerPayload(1, 20))
	waitFor(t, "history frames", func() bool {
		_, ok1 := sender.historyFrame()
		_, ok2 := peer.historyFrame()
		return ok1 && ok2
	})

	messages.mu.Lock()
	messages.appendErr = errors.New("insert failed")
	messages.mu.Unlock()

	sender.send(messagePayload(1, 10, "vai falhar"))

	waitFor(t, "error frame to sender", func() bool { _, ok := sender.errorFrame(); return ok })
	if len(peer.messageFrames()) != 0 {
		t.Fatalf("failed message reached other participant")
	}
}

func TestReplacementSessionSurvivesOldDisconnect(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	deps := newTestDeps(tickets, messages)

	oldConn := newFakeConn()
	newConn := newFakeConn()
	peerConn := newFakeConn()
	_, oldDone := startSession(deps, oldConn)
	startSession(deps, newConn)
	startSession(deps, peerConn)

	oldConn.send(registerPayload(1, 10))
	waitFor(t, "old history", func() bool { _, ok := oldConn.historyFrame(); return ok })
	newConn.send(registerPayload(1, 10))
	waitFor(t, "new history", func() bool { _, ok := newConn.historyFrame(); return ok })
	peerConn.send(registerPayload(1, 20))
	waitFor(t, "peer history", func() bool { _, ok := peerConn.historyFrame(); return ok })

	// The stale connection drops; its unregister must not evict the
	// replacement.
	_ = oldConn.Close()
	waitDone(t, "old session end", oldDone)

	peerConn.send(messagePayload(1, 20, "ainda conectado?"))
	waitFor(t, "delivery to replacement", func() bool { return len(newConn.messageFrames()) == 1 })
}

func TestWriteLoopSkipsHistoryDuplicates(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	ctx := context.Background()
	seeded, err := messages.Append(ctx, 1, 20, "mensagem antiga")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	conn := newFakeConn()
	deps := newTestDeps(tickets, messages)
	session, _ := startSession(deps, conn)
	conn.send(registerPayload(1, 10))
	waitFor(t, "history frame", func() bool { _, ok := conn.historyFrame(); return ok })

	// A delivery at or below the history watermark raced the snapshot
	// and was already replayed; only newer ids may be written live.
	dup := *seeded
	session.out <- Delivery{MessageID: seeded.ID, Frame: NewMessageFrame(&dup)}
	fresh := domain.ChatMessage{ID: seeded.ID + 1, TicketID: 1, SenderID: 20, SenderName: "user-20", Body: "nova mensagem"}
	session.out <- Delivery{MessageID: fresh.ID, Frame: NewMessageFrame(&fresh)}

	waitFor(t, "fresh delivery", func() bool { return len(conn.messageFrames()) >= 1 })
	frames := conn.messageFrames()
	if len(frames) != 1 || frames[0].Conteudo != "nova mensagem" {
		t.Fatalf("duplicate slipped through: %+v", frames)
	}
}

func TestWatermarkCoversOutOfOrderHistoryIDs(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	// History replays ordered by send time; an append that raced an
	// earlier one can carry the higher id on the earlier timestamp.
	base := time.Now().Add(-time.Minute)
	messages.seed(1,
		domain.ChatMessage{ID: 2, TicketID: 1, SenderID: 20, SenderName: "user-20", Body: "chegou depois no banco", SentAt: base},
		domain.ChatMessage{ID: 1, TicketID: 1, SenderID: 10, SenderName: "user-10", Body: "chegou antes no banco", SentAt: base.Add(time.Second)},
	)

	conn := newFakeConn()
	session, _ := startSession(newTestDeps(tickets, messages), conn)
	conn.send(registerPayload(1, 10))
	waitFor(t, "history frame", func() bool { _, ok := conn.historyFrame(); return ok })

	// Id 2 was already replayed even though it was not the last history
	// entry; a queued delivery for it must be dropped, id 3 must pass.
	replayed := domain.ChatMessage{ID: 2, TicketID: 1, SenderID: 20, SenderName: "user-20", Body: "chegou depois no banco", SentAt: base}
	session.out <- Delivery{MessageID: replayed.ID, Frame: NewMessageFrame(&replayed)}
	fresh := domain.ChatMessage{ID: 3, TicketID: 1, SenderID: 20, SenderName: "user-20", Body: "mensagem nova", SentAt: time.Now()}
	session.out <- Delivery{MessageID: fresh.ID, Frame: NewMessageFrame(&fresh)}

	waitFor(t, "fresh delivery", func() bool { return len(conn.messageFrames()) >= 1 })
	frames := conn.messageFrames()
	if len(frames) != 1 || frames[0].Conteudo != "mensagem nova" {
		t.Fatalf("replayed message delivered twice: %+v", frames)
	}
}

func TestHistoryFetchFailureReleasesSession(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	messages.listErr = errors.New("query failed")
	deps := newTestDeps(tickets, messages)

	conn := newFakeConn()
	startSession(deps, conn)
	conn.send(registerPayload(1, 10))

	waitFor(t, "error frame", func() bool { _, ok := conn.errorFrame(); return ok })
	errFrame, _ := conn.errorFrame()
	if errFrame.Error != "erro ao buscar o histórico de mensagens" {
		t.Fatalf("unexpected error %q", errFrame.Error)
	}
	if got := deps.Registry.ParticipantsOf(1); got != nil {
		t.Fatalf("participant still registered: %v", got)
	}
	waitFor(t, "balanced session gauge", func() bool {
		sessions, _, _ := deps.Metrics.ChatSnapshot()
		return sessions == 0
	})
}

func TestHistoryWriteFailureReleasesSession(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	messages := newFakeMessageStore()
	deps := newTestDeps(tickets, messages)

	conn := newFakeConn()
	conn.mu.Lock()
	conn.failHistory = true
	conn.mu.Unlock()
	_, done := startSession(deps, conn)
	conn.send(registerPayload(1, 10))

	waitDone(t, "session end", done)
	if got := deps.Registry.ParticipantsOf(1); got != nil {
		t.Fatalf("participant still registered: %v", got)
	}
	sessions, _, _ := deps.Metrics.ChatSnapshot()
	if sessions != 0 {
		t.Fatalf("session gauge left at %d", sessions)
	}
}

func TestUnregisterFrameEndsSession(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	deps := newTestDeps(tickets, newFakeMessageStore())
	conn := newFakeConn()
	_, done := startSession(deps, conn)

	conn.send(registerPayload(1, 10))
	waitFor(t, "history frame", func() bool { _, ok := conn.historyFrame(); return ok })

	conn.send(`{"type":"unregister","ticket_id":1,"usuario_id":10}`)
	waitDone(t, "session end", done)

	if got := deps.Registry.ParticipantsOf(1); got != nil {
		t.Fatalf("participant still registered: %v", got)
	}
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	tickets := newFakeTicketStore(chatTicket(1))
	deps := newTestDeps(tickets, newFakeMessageStore())
	conn := newFakeConn()
	_, done := startSession(deps, conn)

	conn.send(`{"type":"ping"}`)
	conn.send(registerPayload(1, 10))
	waitFor(t, "history after unknown frame", func() bool { _, ok := conn.historyFrame(); return ok })

	select {
	case <-done:
		t.Fatalf("unknown frame ended the session")
	default:
	}
}
