package publish

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/mailpress/newsletter-gateway/internal/model"
	"github.com/mailpress/newsletter-gateway/internal/repository"
)

// MySQLStore backs the coordinator with one sqlx transaction per publish.
// The blocking-wait semantics of ClaimKey come straight from InnoDB: a
// duplicate-key insert waits on the first claimant's row lock until commit.
type MySQLStore struct {
	db          *sqlx.DB
	idem        repository.IdempotencyRepository
	issues      repository.IssuesRepository
	obligations repository.ObligationsRepository
	subscribers repository.SubscribersRepository
}

func NewMySQLStore(
	db *sqlx.DB,
	idem repository.IdempotencyRepository,
	issues repository.IssuesRepository,
	obligations repository.ObligationsRepository,
	subscribers repository.SubscribersRepository,
) *MySQLStore {
	return &MySQLStore{
		db:          db,
		idem:        idem,
		issues:      issues,
		obligations: obligations,
		subscribers: subscribers,
	}
}

var _ Store = (*MySQLStore)(nil)

func (s *MySQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &mysqlTx{tx: tx, s: s}, nil
}

type mysqlTx struct {
	tx *sqlx.Tx
	s  *MySQLStore
}

func (t *mysqlTx) ClaimKey(ctx context.Context, actorID int64, key string) (*Claim, error) {
	owned, err := t.s.idem.Claim(ctx, t.tx, actorID, key)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, nil
	}
	return NewClaim(actorID, key), nil
}

func (t *mysqlTx) SavedResponse(ctx context.Context, actorID int64, key string) (*model.StoredResponse, error) {
	return t.s.idem.GetResponse(ctx, t.tx, actorID, key)
}

func (t *mysqlTx) InsertIssue(ctx context.Context, issue model.NewsletterIssue) error {
	return t.s.issues.Insert(ctx, t.tx, issue)
}

func (t *mysqlTx) ConfirmedRecipients(ctx context.Context) ([]string, error) {
	return t.s.subscribers.ConfirmedEmails(ctx, t.tx)
}

func (t *mysqlTx) EnqueueDeliveries(ctx context.Context, issueID string, recipients []string) (int, error) {
	return t.s.obligations.EnqueueBatch(ctx, t.tx, issueID, recipients)
}

func (t *mysqlTx) Resolve(ctx context.Context, claim *Claim, resp model.StoredResponse) error {
	return t.s.idem.SaveResponse(ctx, t.tx, claim.ActorID(), claim.Key(), resp)
}

func (t *mysqlTx) Commit() error   { return t.tx.Commit() }
func (t *mysqlTx) Rollback() error { return t.tx.Rollback() }
