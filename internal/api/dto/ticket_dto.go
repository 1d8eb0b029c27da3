package dto

import (
	"github.com/spec-kit/helpdesk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Titulo          string             `json:"titulo"`
	Descricao       string             `json:"descricao"`
	TipoAtendimento domain.ServiceType `json:"tipo_atendimento"`
}

// UpdateTicketRequest carries optional field updates.
type UpdateTicketRequest struct {
	Titulo    *string `json:"titulo"`
	Descricao *string `json:"descricao"`
}

// ChangeStatusRequest payload.
type ChangeStatusRequest struct {
	Status     string `json:"status"`
	Comentario string `json:"comentario"`
}

// EmailMessageRequest payload for email-channel replies.
type EmailMessageRequest struct {
	Mensagem string `json:"mensagem"`
}

// TicketSummary response.
type TicketSummary struct {
	ID              int64               `json:"id"`
	UsuarioID       int64               `json:"usuario_id"`
	Titulo          string              `json:"titulo"`
	TipoAtendimento domain.ServiceType  `json:"tipo_atendimento"`
	Status          domain.TicketStatus `json:"status"`
	DataCriacao     string              `json:"data_criacao"`
	DataAtualizacao string              `json:"data_atualizacao"`
}

// TicketDetailResponse provides full ticket info with its thread.
type TicketDetailResponse struct {
	ID               int64               `json:"id"`
	UsuarioID        int64               `json:"usuario_id"`
	Titulo           string              `json:"titulo"`
	Descricao        string              `json:"descricao"`
	TipoAtendimento  domain.ServiceType  `json:"tipo_atendimento"`
	Status           domain.TicketStatus `json:"status"`
	DataCriacao      string              `json:"data_criacao"`
	DataAtualizacao  string              `json:"data_atualizacao"`
	DataEncerramento *string             `json:"data_encerramento"`
	Respostas        []MessageResponse   `json:"respostas"`
}

// MessageResponse represents one thread message.
type MessageResponse struct {
	ID        int64  `json:"id"`
	UsuarioID int64  `json:"usuario_id"`
	De        string `json:"de"`
	Mensagem  string `json:"mensagem"`
	DataEnvio string `json:"data_envio"`
}

// ParticipantsResponse lists users connected to a ticket's chat.
type ParticipantsResponse struct {
	TicketID      int64   `json:"ticket_id"`
	Participantes []int64 `json:"participantes"`
}
