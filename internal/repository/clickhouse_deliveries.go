package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/mailpress/newsletter-gateway/internal/model"
)

// CHDeliveriesRepository records and lists terminal delivery outcomes in
// ClickHouse. Writes are best-effort; MySQL stays the source of truth.
type CHDeliveriesRepository interface {
	InsertOutcome(ctx context.Context, out model.DeliveryOutcome) error
	ListByIssue(ctx context.Context, issueID string, limit, offset int) ([]model.DeliveryOutcome, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) InsertOutcome(ctx context.Context, out model.DeliveryOutcome) error {
	const q = `
		INSERT INTO newsgw.deliveries_log (issue_id, recipient_email, result, attempts, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q, out.IssueID, out.RecipientEmail, out.Result, out.Attempts, out.OccurredAt)
	return err
}

func (r *chDeliveriesRepository) ListByIssue(ctx context.Context, issueID string, limit, offset int) ([]model.DeliveryOutcome, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	const q = `
		SELECT issue_id, recipient_email, result, attempts, occurred_at
		FROM newsgw.deliveries_log
		WHERE issue_id = ?
		ORDER BY occurred_at DESC LIMIT ? OFFSET ?
	`

	var rows []model.DeliveryOutcome
	if err := r.ch.SelectContext(ctx, &rows, q, issueID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
