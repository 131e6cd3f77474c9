package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailpress/newsletter-gateway/internal/model"
)

// ObligationsRepository defines persistence for the issue_delivery_queue
// table. EnqueueBatch runs inside the publish transaction; everything else
// belongs to the delivery worker.
type ObligationsRepository interface {
	// EnqueueBatch inserts one pending obligation per recipient, all
	// immediately claimable. Returns the number of rows written.
	EnqueueBatch(ctx context.Context, tx *sqlx.Tx, issueID string, recipients []string) (int, error)

	// ClaimNext claims the oldest claimable obligation for the given lease
	// and returns it with attempts already incremented, or nil when nothing
	// is claimable. Rows claimed by a live worker are skipped, never waited on.
	ClaimNext(ctx context.Context, lease time.Duration) (*model.DeliveryObligation, error)

	// MarkDone removes a delivered obligation.
	MarkDone(ctx context.Context, issueID, recipient string) error

	// Release puts an in_progress obligation back to pending, claimable again
	// after backoff.
	Release(ctx context.Context, issueID, recipient string, backoff time.Duration) error

	// MarkFailed parks an obligation as failed_permanent. It is never
	// claimed again but stays in the table for inspection.
	MarkFailed(ctx context.Context, issueID, recipient string) error

	// CountPending reports how many obligations for the issue still await a
	// successful send (pending or in_progress).
	CountPending(ctx context.Context, issueID string) (int, error)
}

type ObligationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewObligationsRepository(db *sqlx.DB) *ObligationsRepositoryImpl {
	return &ObligationsRepositoryImpl{db: db}
}

var _ ObligationsRepository = (*ObligationsRepositoryImpl)(nil)

func (r *ObligationsRepositoryImpl) EnqueueBatch(ctx context.Context, tx *sqlx.Tx, issueID string, recipients []string) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(recipients)*2)

	sb.WriteString(`INSERT INTO issue_delivery_queue
		(issue_id, recipient_email, status, attempts, leased_until, created_at, updated_at) VALUES `)
	for i, email := range recipients {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, 'pending', 0, NOW(), NOW(), NOW())")
		args = append(args, issueID, email)
	}

	res, err := tx.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClaimNext runs its own short transaction: lock one claimable row with
// SKIP LOCKED, stamp it in_progress with a fresh lease, commit. A pending row
// is claimable once leased_until has passed (retry backoff); an in_progress
// row is claimable once leased_until has passed (its worker died).
func (r *ObligationsRepositoryImpl) ClaimNext(ctx context.Context, lease time.Duration) (*model.DeliveryObligation, error) {
	leaseSec := int(lease / time.Second)
	if leaseSec < 1 {
		leaseSec = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var ob model.DeliveryObligation
	err = tx.GetContext(ctx, &ob, `
		SELECT issue_id, recipient_email, attempts, status, leased_until, created_at, updated_at
		  FROM issue_delivery_queue
		 WHERE status IN ('pending', 'in_progress')
		   AND leased_until <= NOW()
		 ORDER BY created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED
	`)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE issue_delivery_queue
		   SET status = 'in_progress',
		       attempts = attempts + 1,
		       leased_until = DATE_ADD(NOW(), INTERVAL ? SECOND),
		       updated_at = NOW()
		 WHERE issue_id = ? AND recipient_email = ?
	`, leaseSec, ob.IssueID, ob.RecipientEmail)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ob.Status = model.ObligationInProgress
	ob.Attempts++
	return &ob, nil
}

func (r *ObligationsRepositoryImpl) MarkDone(ctx context.Context, issueID, recipient string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM issue_delivery_queue
		 WHERE issue_id = ? AND recipient_email = ?
	`, issueID, recipient)
	return err
}

func (r *ObligationsRepositoryImpl) Release(ctx context.Context, issueID, recipient string, backoff time.Duration) error {
	backoffSec := int(backoff / time.Second)
	if backoffSec < 0 {
		backoffSec = 0
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE issue_delivery_queue
		   SET status = 'pending',
		       leased_until = DATE_ADD(NOW(), INTERVAL ? SECOND),
		       updated_at = NOW()
		 WHERE issue_id = ? AND recipient_email = ? AND status = 'in_progress'
	`, backoffSec, issueID, recipient)
	return err
}

func (r *ObligationsRepositoryImpl) MarkFailed(ctx context.Context, issueID, recipient string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE issue_delivery_queue
		   SET status = 'failed_permanent', updated_at = NOW()
		 WHERE issue_id = ? AND recipient_email = ?
	`, issueID, recipient)
	return err
}

func (r *ObligationsRepositoryImpl) CountPending(ctx context.Context, issueID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM issue_delivery_queue
		 WHERE issue_id = ? AND status IN ('pending', 'in_progress')
	`, issueID)
	return n, err
}
