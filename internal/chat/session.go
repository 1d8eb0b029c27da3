package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// FrameConn is the transport a session reads inbound payloads from and
// writes outbound frames to. Implementations need not be safe for
// concurrent writes; the session serializes them.
type FrameConn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateRegistered
	stateClosed
)

// SessionDependencies bundles collaborators for a chat session.
type SessionDependencies struct {
	Registry   *Registry
	Tickets    TicketStore
	Messages   MessageStore
	Dispatcher *Dispatcher
	Presence   Presence
	Events     events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// OutboundBuffer is the broadcast queue depth for this session;
	// zero falls back to a sane default.
	OutboundBuffer int
}

// Session drives the full lifecycle of one live connection: a state
// machine connecting → registered → closed, fed by a blocking receive
// loop. All guard checks go back to the ticket store on every inbound
// message because ticket status can change underneath an open chat.
type Session struct {
	conn    FrameConn
	deps    SessionDependencies
	logger  *zap.Logger
	bufSize int

	state    sessionState
	ticketID int64
	userID   int64

	out chan Delivery
	// watermark is the highest message id included in the history
	// snapshot; the write loop discards live deliveries at or below it
	// so a message racing the registration is delivered exactly once.
	watermark int64

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a session for one accepted connection.
func NewSession(conn FrameConn, deps SessionDependencies) *Session {
	bufSize := deps.OutboundBuffer
	if bufSize <= 0 {
		bufSize = 32
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		conn:    conn,
		deps:    deps,
		logger:  logger,
		bufSize: bufSize,
		closed:  make(chan struct{}),
	}
}

// Run blocks on the receive loop until the connection closes or errors.
// Closing the connection is always legal and triggers unregistration;
// it is the only way a session ends.
func (s *Session) Run(ctx context.Context) {
	defer s.teardown(ctx)

	for {
		payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := DecodeFrame(payload)
		if err != nil {
			if errors.Is(err, ErrUnknownFrameType) {
				s.logger.Info("ignoring unknown frame type")
				continue
			}
			s.sendError(err.Error())
			continue
		}

		switch f := frame.(type) {
		case RegisterFrame:
			s.handleRegister(ctx, f)
		case UnregisterFrame:
			s.handleUnregister(ctx, f)
		case ChatMessageFrame:
			s.handleChatMessage(ctx, f)
		}

		if s.state == stateClosed {
			return
		}
	}
}

func (s *Session) handleRegister(ctx context.Context, f RegisterFrame) {
	if s.state != stateConnecting {
		s.sendError("sessão já registrada")
		return
	}

	ticket, err := s.deps.Tickets.GetByID(ctx, f.TicketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.sendError("chamado não encontrado")
			s.state = stateClosed
			return
		}
		s.logger.Error("load ticket failed", zap.Error(err), zap.Int64("ticket_id", f.TicketID))
		s.sendError("erro ao carregar chamado")
		return
	}

	if !s.allowMessaging(ticket) {
		s.state = stateClosed
		return
	}

	// Register before fetching history: a message persisted while the
	// snapshot is read lands in the delivery queue and the watermark
	// decides which side of the boundary it is seen on. The session
	// gauge and presence pair with leave, so they are counted here and
	// every failure path below goes through leave.
	s.out = make(chan Delivery, s.bufSize)
	s.ticketID = f.TicketID
	s.userID = f.UserID
	s.watermark = 0
	s.deps.Registry.Register(f.TicketID, f.UserID, s.out)
	s.state = stateRegistered
	s.deps.Presence.Join(ctx, f.TicketID, f.UserID)
	s.deps.Metrics.SessionOpened()

	history, err := s.deps.Messages.ListOrdered(ctx, f.TicketID)
	if err != nil {
		s.logger.Error("load history failed", zap.Error(err), zap.Int64("ticket_id", f.TicketID))
		s.leave(ctx)
		s.state = stateConnecting
		s.sendError("erro ao buscar o histórico de mensagens")
		return
	}
	// Replay order is by timestamp, not id, so the watermark must be
	// the maximum id in the snapshot: a concurrent append can leave an
	// earlier-timestamped row with a later id.
	for _, msg := range history {
		if msg.ID > s.watermark {
			s.watermark = msg.ID
		}
	}

	if err := s.writeFrame(NewHistoryFrame(f.TicketID, history)); err != nil {
		_ = s.conn.Close()
		return
	}

	s.logger.Info("chat participant registered",
		zap.Int64("ticket_id", f.TicketID),
		zap.Int64("user_id", f.UserID))

	go s.writeLoop()
}

func (s *Session) handleUnregister(ctx context.Context, f UnregisterFrame) {
	if s.state != stateRegistered || f.TicketID != s.ticketID || f.UserID != s.userID {
		return
	}
	s.leave(ctx)
	s.state = stateClosed
}

func (s *Session) handleChatMessage(ctx context.Context, f ChatMessageFrame) {
	if s.state != stateRegistered {
		s.sendError("registro necessário antes de enviar mensagens")
		return
	}
	if f.TicketID != s.ticketID || f.UserID != s.userID {
		s.sendError("mensagem não corresponde à sessão registrada")
		return
	}

	// Permission is never cached: an admin may have closed the ticket
	// since the previous message.
	ticket, err := s.deps.Tickets.GetByID(ctx, f.TicketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.sendError("chamado não encontrado")
			return
		}
		s.logger.Error("load ticket failed", zap.Error(err), zap.Int64("ticket_id", f.TicketID))
		s.sendError("erro ao carregar chamado")
		return
	}
	if !ticket.CanMessage(domain.ServiceTypeChat) {
		if !ticket.CanMutate() {
			s.sendError("chamado já encerrado ou cancelado")
		} else {
			s.sendError("este chamado não é atendido por chat")
		}
		return
	}

	// Persist first, broadcast after. Never the other way around, so
	// history replay and live delivery agree on which messages exist.
	msg, err := s.deps.Messages.Append(ctx, f.TicketID, f.UserID, f.Body)
	if err != nil {
		s.logger.Error("persist message failed", zap.Error(err), zap.Int64("ticket_id", f.TicketID))
		s.sendError("erro ao salvar a mensagem")
		return
	}

	s.deps.Metrics.ChatMessagePersisted()
	s.deps.Dispatcher.Dispatch(msg)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventChatMessageAdded,
		TicketID: msg.TicketID,
		ActorID:  msg.SenderID,
		Payload: events.ChatMessageAddedPayload{
			MessageID:   msg.ID,
			SenderID:    msg.SenderID,
			BodyPreview: bodyPreview(msg.Body, 120),
		},
	})
}

// allowMessaging validates the ticket for chat registration, sending
// the rejection frame itself. Returns false when the session must not
// register.
func (s *Session) allowMessaging(ticket *domain.Ticket) bool {
	if !ticket.CanMutate() {
		s.sendError("chamado já encerrado ou cancelado")
		return false
	}
	if ticket.ServiceType != domain.ServiceTypeChat {
		s.sendError("este chamado não é atendido por chat")
		return false
	}
	return true
}

// writeLoop drains broadcast deliveries onto the connection. It starts
// only after the history frame is written: history first, live
// messages after, no duplicates.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case d := <-s.out:
			if d.MessageID != 0 && d.MessageID <= s.watermark {
				continue
			}
			if err := s.writeFrame(d.Frame); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// teardown releases everything the session holds. Safe to run exactly
// once, after the receive loop exits for any reason.
func (s *Session) teardown(ctx context.Context) {
	s.closeOnce.Do(func() { close(s.closed) })
	if s.state == stateRegistered {
		s.leave(ctx)
	}
	s.state = stateClosed
	_ = s.conn.Close()
}

func (s *Session) leave(ctx context.Context) {
	s.deps.Registry.Unregister(s.ticketID, s.userID, s.out)
	s.deps.Presence.Leave(ctx, s.ticketID, s.userID)
	s.deps.Metrics.SessionClosed()
	s.logger.Info("chat participant unregistered",
		zap.Int64("ticket_id", s.ticketID),
		zap.Int64("user_id", s.userID))
}

func (s *Session) sendError(message string) {
	if err := s.writeFrame(NewErrorFrame(message)); err != nil {
		s.logger.Debug("write error frame failed", zap.Error(err))
	}
}

// writeFrame serializes all writes to the connection; the receive loop
// and the write loop both go through it.
func (s *Session) writeFrame(frame OutboundFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *Session) publishEvent(ctx context.Context, event events.Event) {
	if s.deps.Events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.deps.Events.Publish(ctx, event)
}

func bodyPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	if max <= 3 {
		return body[:max]
	}
	return body[:max-3] + "..."
}
