package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mailpress/newsletter-gateway/internal/model"
)

// ErrNoClaim is returned when SaveResponse finds no in-flight claim row.
// Resolving a key that was never claimed, or twice, is a programming error.
var ErrNoClaim = errors.New("idempotency: no in-flight claim to resolve")

// IdempotencyRepository is the durable ledger mapping (actor, key) to a
// claim and, once resolved, the saved response.
type IdempotencyRepository interface {
	// Claim atomically inserts an in-flight record inside tx. It returns true
	// when this caller won the claim. When a record already exists, the
	// duplicate-key path blocks on the owning transaction's row lock until
	// that transaction commits or rolls back, then returns false; the caller
	// should read the saved response next.
	Claim(ctx context.Context, tx *sqlx.Tx, actorID int64, key string) (bool, error)

	// GetResponse returns the resolved response for (actorID, key), or nil
	// when the record is absent or still in flight.
	GetResponse(ctx context.Context, tx *sqlx.Tx, actorID int64, key string) (*model.StoredResponse, error)

	// SaveResponse attaches the final response to the in-flight claim. Must
	// run inside the same tx as the side effects being deduplicated.
	SaveResponse(ctx context.Context, tx *sqlx.Tx, actorID int64, key string, resp model.StoredResponse) error
}

type IdempotencyRepositoryImpl struct {
	db *sqlx.DB
}

func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepositoryImpl {
	return &IdempotencyRepositoryImpl{db: db}
}

var _ IdempotencyRepository = (*IdempotencyRepositoryImpl)(nil)

func (r *IdempotencyRepositoryImpl) Claim(ctx context.Context, tx *sqlx.Tx, actorID int64, key string) (bool, error) {
	// ON DUPLICATE KEY UPDATE with a no-op assignment reports 0 affected rows
	// for an existing record and still takes the duplicate-key wait on a
	// concurrent claimant's uncommitted insert.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency (actor_id, idem_key, created_at)
		VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE actor_id = actor_id
	`, actorID, key)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *IdempotencyRepositoryImpl) GetResponse(ctx context.Context, tx *sqlx.Tx, actorID int64, key string) (*model.StoredResponse, error) {
	var rec model.IdempotencyRecord
	err := tx.GetContext(ctx, &rec, `
		SELECT actor_id, idem_key, response_status, response_headers, response_body, created_at
		  FROM idempotency
		 WHERE actor_id = ? AND idem_key = ?
	`, actorID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.ResponseStatus == nil {
		// claimed but never resolved
		return nil, nil
	}

	resp := model.StoredResponse{
		Status: *rec.ResponseStatus,
		Body:   rec.ResponseBody,
	}
	if len(rec.ResponseHeaders) > 0 {
		if err := json.Unmarshal(rec.ResponseHeaders, &resp.Headers); err != nil {
			return nil, fmt.Errorf("idempotency: decode headers: %w", err)
		}
	}
	return &resp, nil
}

func (r *IdempotencyRepositoryImpl) SaveResponse(ctx context.Context, tx *sqlx.Tx, actorID int64, key string, resp model.StoredResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("idempotency: encode headers: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE idempotency
		   SET response_status = ?, response_headers = ?, response_body = ?
		 WHERE actor_id = ? AND idem_key = ? AND response_status IS NULL
	`, resp.Status, headers, resp.Body, actorID, key)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNoClaim
	}
	return nil
}
