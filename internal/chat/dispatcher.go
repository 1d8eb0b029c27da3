package chat

import (
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// Dispatcher fans a persisted message out to every session registered
// for its ticket. It is stateless: delivery is best-effort and
// at-most-once per currently registered participant. A participant who
// disconnects between persistence and broadcast simply sees the message
// in history on its next registration.
type Dispatcher struct {
	registry *Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(registry *Registry, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: metrics, logger: logger}
}

// Dispatch translates the persisted message into its outbound frame and
// hands it to the registry. Callers must only invoke this after the
// message has been durably stored.
func (d *Dispatcher) Dispatch(msg *domain.ChatMessage) {
	delivery := Delivery{
		MessageID: msg.ID,
		Frame:     NewMessageFrame(msg),
	}
	dropped := d.registry.Broadcast(msg.TicketID, delivery, 0)
	if dropped > 0 {
		d.metrics.BroadcastDropped(dropped)
		d.logger.Warn("dropped slow chat participants",
			zap.Int64("ticket_id", msg.TicketID),
			zap.Int("dropped", dropped))
	}
}
