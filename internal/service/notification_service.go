package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/mailer"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// NotificationService turns domain events into outbound mail. Delivery
// is best effort; a failed send is logged and never fails the
// originating request.
type NotificationService struct {
	dispatcher events.Dispatcher
	users      repository.UserRepository
	mail       mailer.Mailer
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, users repository.UserRepository, mail mailer.Mailer, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		users:      users,
		mail:       mail,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to the events this service reacts to.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
	n.dispatcher.Subscribe(events.EventEmailMessageSent, n.handleEmailMessageSent)
}

// handleTicketCreated alerts every admin that a new ticket arrived.
func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return nil
	}
	admins, err := n.users.ListAdmins(ctx)
	if err != nil {
		n.logger.Warn("list admins failed", zap.Error(err))
		return nil
	}
	if len(admins) == 0 {
		return nil
	}
	recipients := make([]string, 0, len(admins))
	for _, admin := range admins {
		recipients = append(recipients, admin.Email)
	}
	subject := fmt.Sprintf("Novo chamado #%d: %s", event.TicketID, payload.Title)
	body := fmt.Sprintf("Um novo chamado foi aberto.\n\nChamado: #%d\nTítulo: %s\nAtendimento: %s",
		event.TicketID, payload.Title, payload.ServiceType)
	n.send(recipients, subject, body, event)
	return nil
}

// handleTicketStatusChanged tells the owner their ticket moved.
func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return nil
	}
	owner, err := n.users.GetByID(ctx, payload.OwnerUserID)
	if err != nil {
		n.logger.Warn("load ticket owner failed", zap.Error(err), zap.Int64("user_id", payload.OwnerUserID))
		return nil
	}
	subject := fmt.Sprintf("Chamado #%d atualizado: %s", event.TicketID, payload.NewStatus)
	body := fmt.Sprintf("Olá %s,\n\nSeu chamado \"%s\" mudou de %s para %s.",
		owner.Name, payload.Title, payload.OldStatus, payload.NewStatus)
	if payload.Comment != "" {
		body += "\n\nComentário: " + payload.Comment
	}
	n.send([]string{owner.Email}, subject, body, event)
	return nil
}

// handleEmailMessageSent delivers an email-channel reply to the owner,
// unless the owner wrote it themselves.
func (n *NotificationService) handleEmailMessageSent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.EmailMessageSentPayload)
	if !ok {
		return nil
	}
	if event.ActorID == payload.RecipientUserID {
		return nil
	}
	recipient, err := n.users.GetByID(ctx, payload.RecipientUserID)
	if err != nil {
		n.logger.Warn("load recipient failed", zap.Error(err), zap.Int64("user_id", payload.RecipientUserID))
		return nil
	}
	subject := fmt.Sprintf("Resposta no chamado #%d: %s", event.TicketID, payload.Title)
	body := fmt.Sprintf("Olá %s,\n\nSeu chamado \"%s\" recebeu uma resposta:\n\n%s",
		recipient.Name, payload.Title, payload.BodyPreview)
	n.send([]string{recipient.Email}, subject, body, event)
	return nil
}

func (n *NotificationService) send(to []string, subject, body string, event events.Event) {
	if err := n.mail.Send(to, subject, body); err != nil {
		n.logger.Warn("notification mail failed",
			zap.Error(err),
			zap.Int64("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)))
	}
}
