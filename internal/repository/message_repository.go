package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// MessageRepository is the durable append-only log of chat messages per
// ticket. Messages are immutable; data_envio is assigned by the server
// on insert so persisted order equals replay order.
type MessageRepository interface {
	Append(ctx context.Context, ticketID, senderID int64, body string) (*domain.ChatMessage, error)
	ListOrdered(ctx context.Context, ticketID int64) ([]domain.ChatMessage, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Append(ctx context.Context, ticketID, senderID int64, body string) (*domain.ChatMessage, error) {
	const query = `
        WITH inserted AS (
            INSERT INTO respostas (chamado_id, usuario_id, mensagem)
            VALUES ($1,$2,$3)
            RETURNING id, chamado_id, usuario_id, mensagem, data_envio
        )
        SELECT i.id, i.chamado_id, i.usuario_id, COALESCE(u.nome, 'Desconhecido'), i.mensagem, i.data_envio
        FROM inserted i
        LEFT JOIN usuarios u ON u.id = i.usuario_id`

	var msg domain.ChatMessage
	if err := r.pool.QueryRow(ctx, query, ticketID, senderID, body).Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.Body,
		&msg.SentAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListOrdered(ctx context.Context, ticketID int64) ([]domain.ChatMessage, error) {
	const query = `
        SELECT r.id, r.chamado_id, r.usuario_id, COALESCE(u.nome, 'Desconhecido'), r.mensagem, r.data_envio
        FROM respostas r
        LEFT JOIN usuarios u ON u.id = r.usuario_id
        WHERE r.chamado_id=$1
        ORDER BY r.data_envio ASC, r.id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.TicketID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Body,
			&msg.SentAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}
