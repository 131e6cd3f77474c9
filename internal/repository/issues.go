package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/mailpress/newsletter-gateway/internal/model"
)

// IssuesRepository defines persistence for the newsletter_issues table.
// Issues are create-only; there is no update or delete.
type IssuesRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, issue model.NewsletterIssue) error
	Get(ctx context.Context, id string) (*model.NewsletterIssue, error)
}

type IssuesRepositoryImpl struct {
	db *sqlx.DB
}

func NewIssuesRepository(db *sqlx.DB) *IssuesRepositoryImpl {
	return &IssuesRepositoryImpl{db: db}
}

var _ IssuesRepository = (*IssuesRepositoryImpl)(nil)

// Insert writes the issue row. Always called inside the publish transaction;
// a retried request short-circuits at the idempotency claim and never gets here.
func (r *IssuesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, issue model.NewsletterIssue) error {
	const q = `
		INSERT INTO newsletter_issues
		    (id, title, text_content, html_content, published_at)
		VALUES
		    (?,  ?,     ?,            ?,            NOW())
	`
	_, err := tx.ExecContext(ctx, q, issue.ID, issue.Title, issue.TextContent, issue.HTMLContent)
	return err
}

func (r *IssuesRepositoryImpl) Get(ctx context.Context, id string) (*model.NewsletterIssue, error) {
	var issue model.NewsletterIssue
	err := r.db.GetContext(ctx, &issue, `
		SELECT id, title, text_content, html_content, published_at
		  FROM newsletter_issues
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}
