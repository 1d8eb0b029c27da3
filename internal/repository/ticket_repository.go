package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	OwnerUserID *int64
	ServiceType *domain.ServiceType
	Status      *domain.TicketStatus
	SearchTerm  *string
	Limit       int
	Offset      int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update persists title and description edits. Status never travels
	// through this path, and the WHERE clause refuses terminal rows so a
	// stale read can never resurrect a ticket closed in between. Returns
	// pgx.ErrNoRows when no non-terminal row matched the id.
	Update(ctx context.Context, ticket *domain.Ticket) error
	// UpdateStatus persists a status change atomically, refusing the
	// write when the row is already in a terminal status. Returns
	// pgx.ErrNoRows when no non-terminal row matched the id.
	UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error)
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO chamados (usuario_id, titulo, descricao, tipo_atendimento, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.OwnerUserID,
		ticket.Title,
		ticket.Description,
		ticket.ServiceType,
		ticket.Status,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE chamados SET titulo=$1, descricao=$2, updated_at=NOW()
        WHERE id=$3 AND status NOT IN ('fechado','cancelado')`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error) {
	// The status NOT IN clause makes the terminal-state lock atomic:
	// two admins closing concurrently cannot both succeed, and a close
	// racing a chat message can never be overwritten afterwards.
	const query = `
        UPDATE chamados
        SET status=$1,
            closed_at=CASE WHEN $1 IN ('fechado','cancelado') THEN NOW() ELSE NULL END,
            updated_at=NOW()
        WHERE id=$2 AND status NOT IN ('fechado','cancelado')
        RETURNING id, usuario_id, titulo, descricao, tipo_atendimento, status, created_at, updated_at, closed_at`
	return r.scanOne(r.pool.QueryRow(ctx, query, status, id))
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	const query = `
        SELECT id, usuario_id, titulo, descricao, tipo_atendimento, status, created_at, updated_at, closed_at
        FROM chamados WHERE id=$1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) scanOne(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.OwnerUserID,
		&ticket.Title,
		&ticket.Description,
		&ticket.ServiceType,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := `SELECT id, usuario_id, titulo, descricao, tipo_atendimento, status, created_at, updated_at, closed_at
             FROM chamados`
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OwnerUserID != nil {
		args = append(args, *filter.OwnerUserID)
		clauses = append(clauses, fmt.Sprintf("usuario_id=$%d", len(args)))
	}
	if filter.ServiceType != nil {
		args = append(args, *filter.ServiceType)
		clauses = append(clauses, fmt.Sprintf("tipo_atendimento=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		clauses = append(clauses, fmt.Sprintf("LOWER(titulo) LIKE $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.OwnerUserID,
			&ticket.Title,
			&ticket.Description,
			&ticket.ServiceType,
			&ticket.Status,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.ClosedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
