package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service  *service.TicketService
	registry *chat.Registry
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, registry *chat.Registry) *TicketsHandler {
	return &TicketsHandler{service: ticketService, registry: registry}
}

// CreateTicket POST /chamados.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.Context(), principal.User, service.TicketCreateInput{
		Title:       req.Titulo,
		Description: req.Descricao,
		ServiceType: req.TipoAtendimento,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ListTickets GET /chamados.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}

	filter := service.TicketListFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := domain.TicketStatus(raw)
		if !status.Valid() {
			return apperrors.NewInvalidStatus(raw)
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("tipo_atendimento")); raw != "" {
		serviceType := domain.ServiceType(raw)
		if !serviceType.Valid() {
			return apperrors.NewValidationError("tipo_atendimento inválido", map[string]any{"tipo_atendimento": raw})
		}
		filter.ServiceType = &serviceType
	}
	if raw := strings.TrimSpace(c.Query("busca")); raw != "" {
		filter.SearchTerm = &raw
	}

	tickets, err := h.service.ListTickets(c.Context(), principal.User, filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /chamados/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticketID, err := parseTicketID(c)
	if err != nil {
		return err
	}
	ticket, history, err := h.service.GetTicket(c.Context(), principal.User, ticketID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket, history)})
}

// UpdateTicket PATCH /chamados/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticketID, err := parseTicketID(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.UpdateTicket(c.Context(), principal.User, ticketID, service.TicketUpdateInput{
		Title:       req.Titulo,
		Description: req.Descricao,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// ChangeStatus PATCH /chamados/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticketID, err := parseTicketID(c)
	if err != nil {
		return err
	}
	var req dto.ChangeStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.ChangeStatus(c.Context(), principal.User, ticketID,
		domain.TicketStatus(strings.TrimSpace(req.Status)), strings.TrimSpace(req.Comentario))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

// SendEmailMessage POST /chamados/:id/respostas.
func (h *TicketsHandler) SendEmailMessage(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticketID, err := parseTicketID(c)
	if err != nil {
		return err
	}
	var req dto.EmailMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := h.service.SendEmailMessage(c.Context(), principal.User, ticketID, req.Mensagem)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": messageResponse(msg)})
}

// Participants GET /chamados/:id/participantes. Admin only; reports who
// is currently connected to the ticket's chat.
func (h *TicketsHandler) Participants(c *fiber.Ctx) error {
	ticketID, err := parseTicketID(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ParticipantsResponse{
		TicketID:      ticketID,
		Participantes: h.registry.ParticipantsOf(ticketID),
	}})
}

func parseTicketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id do chamado inválido", nil)
	}
	return id, nil
}

func ticketSummary(t *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:              t.ID,
		UsuarioID:       t.OwnerUserID,
		Titulo:          t.Title,
		TipoAtendimento: t.ServiceType,
		Status:          t.Status,
		DataCriacao:     chat.FormatDataEnvio(t.CreatedAt),
		DataAtualizacao: chat.FormatDataEnvio(t.UpdatedAt),
	}
}

func ticketDetail(t *domain.Ticket, history []domain.ChatMessage) dto.TicketDetailResponse {
	detail := dto.TicketDetailResponse{
		ID:              t.ID,
		UsuarioID:       t.OwnerUserID,
		Titulo:          t.Title,
		Descricao:       t.Description,
		TipoAtendimento: t.ServiceType,
		Status:          t.Status,
		DataCriacao:     chat.FormatDataEnvio(t.CreatedAt),
		DataAtualizacao: chat.FormatDataEnvio(t.UpdatedAt),
		Respostas:       make([]dto.MessageResponse, 0, len(history)),
	}
	if t.ClosedAt != nil {
		closed := chat.FormatDataEnvio(*t.ClosedAt)
		detail.DataEncerramento = &closed
	}
	for i := range history {
		detail.Respostas = append(detail.Respostas, messageResponse(&history[i]))
	}
	return detail
}

func messageResponse(msg *domain.ChatMessage) dto.MessageResponse {
	return dto.MessageResponse{
		ID:        msg.ID,
		UsuarioID: msg.SenderID,
		De:        msg.SenderName,
		Mensagem:  msg.Body,
		DataEnvio: chat.FormatDataEnvio(msg.SentAt),
	}
}
