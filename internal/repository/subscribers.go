package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SubscribersRepository defines persistence for subscribers and their
// confirmation tokens.
type SubscribersRepository interface {
	// InsertPending upserts a pending subscriber and returns its id. An
	// existing address keeps its current status; re-subscribing a confirmed
	// reader must not demote them.
	InsertPending(ctx context.Context, tx *sqlx.Tx, email, name string) (int64, error)

	StoreToken(ctx context.Context, tx *sqlx.Tx, subscriberID int64, token string) error

	// ConfirmByToken flips the token's subscriber to confirmed. Returns false
	// for an unknown token.
	ConfirmByToken(ctx context.Context, token string) (bool, error)

	// ConfirmedEmails is the recipient snapshot read inside the publish
	// transaction.
	ConfirmedEmails(ctx context.Context, tx *sqlx.Tx) ([]string, error)
}

type SubscribersRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubscribersRepository(db *sqlx.DB) *SubscribersRepositoryImpl {
	return &SubscribersRepositoryImpl{db: db}
}

var _ SubscribersRepository = (*SubscribersRepositoryImpl)(nil)

func (r *SubscribersRepositoryImpl) InsertPending(ctx context.Context, tx *sqlx.Tx, email, name string) (int64, error) {
	// LAST_INSERT_ID(id) makes the duplicate path report the existing row's id.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscribers (email, name, status, created_at, updated_at)
		VALUES (?, ?, 'pending', NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name),
		    updated_at = NOW(),
		    id = LAST_INSERT_ID(id)
	`, email, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SubscribersRepositoryImpl) StoreToken(ctx context.Context, tx *sqlx.Tx, subscriberID int64, token string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_tokens (token, subscriber_id, created_at)
		VALUES (?, ?, NOW())
	`, token, subscriberID)
	return err
}

func (r *SubscribersRepositoryImpl) ConfirmByToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscribers s
		  JOIN subscription_tokens t ON t.subscriber_id = s.id
		   SET s.status = 'confirmed', s.updated_at = NOW()
		 WHERE t.token = ?
	`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// 0 affected also covers an already-confirmed subscriber; report the
	// token as known in that case so confirm links stay safe to re-click.
	if n > 0 {
		return true, nil
	}

	var one int
	err = r.db.QueryRowxContext(ctx,
		`SELECT 1 FROM subscription_tokens WHERE token = ? LIMIT 1`, token,
	).Scan(&one)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *SubscribersRepositoryImpl) ConfirmedEmails(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	var emails []string
	err := tx.SelectContext(ctx, &emails, `
		SELECT email FROM subscribers WHERE status = 'confirmed' ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return emails, nil
}
