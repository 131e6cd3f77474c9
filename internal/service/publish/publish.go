// Package publish implements the publish coordinator: one inbound request
// becomes one atomic unit of work — idempotency claim, issue insert,
// per-recipient delivery fan-out, and the saved response — committed
// together or not at all. A retry with the same key replays the saved
// response without touching the issue store or the queue.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailpress/newsletter-gateway/internal/model"
	"github.com/mailpress/newsletter-gateway/internal/util"
)

const maxKeyLen = 64

var (
	// ErrInvalidInput rejects a request before any claim is consumed, so the
	// client can fix the payload and resubmit with the same key.
	ErrInvalidInput = errors.New("publish: invalid input")

	// ErrUnresolvedClaim means a committed claim exists with no saved
	// response. The claim/resolve contract makes that unreachable; seeing it
	// is a bug, not a user error.
	ErrUnresolvedClaim = errors.New("publish: claim committed without a saved response")
)

// Input is one newsletter issue as submitted by the publisher.
type Input struct {
	Title       string
	TextContent string
	HTMLContent string
}

// Claim is the capability returned by Tx.ClaimKey when the caller wins the
// in-flight claim. Only Resolve consumes it; a coordinator cannot resolve a
// claim it never won.
type Claim struct {
	actorID int64
	key     string
}

// NewClaim is used by Store implementations when a claim is won.
func NewClaim(actorID int64, key string) *Claim {
	return &Claim{actorID: actorID, key: key}
}

func (c *Claim) ActorID() int64 { return c.actorID }
func (c *Claim) Key() string    { return c.key }

// Tx is one atomic unit of publish work. Implementations back it with a
// database transaction; ClaimKey may block while a concurrent caller holds
// the in-flight claim for the same (actor, key).
type Tx interface {
	// ClaimKey returns a Claim when this caller wins, or nil when the key is
	// already claimed or resolved by someone else.
	ClaimKey(ctx context.Context, actorID int64, key string) (*Claim, error)

	// SavedResponse returns the resolved response for the key, or nil when
	// the record is absent or unresolved.
	SavedResponse(ctx context.Context, actorID int64, key string) (*model.StoredResponse, error)

	InsertIssue(ctx context.Context, issue model.NewsletterIssue) error

	// ConfirmedRecipients snapshots the confirmed subscriber addresses.
	// Subscribers confirmed after this read never receive the issue.
	ConfirmedRecipients(ctx context.Context) ([]string, error)

	EnqueueDeliveries(ctx context.Context, issueID string, recipients []string) (int, error)

	// Resolve attaches the final response to the claim.
	Resolve(ctx context.Context, claim *Claim, resp model.StoredResponse) error

	Commit() error
	Rollback() error
}

// Store opens publish transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Coordinator turns "publish issue with key K" into a single atomic effect,
// replayed on retry.
type Coordinator struct {
	store Store

	now   func() time.Time
	newID func() string
}

func New(store Store) *Coordinator {
	return &Coordinator{
		store: store,
		now:   time.Now,
		newID: util.NewID,
	}
}

type publishResult struct {
	Published  bool   `json:"published"`
	IssueID    string `json:"issue_id"`
	Recipients int    `json:"recipients"`
}

// Publish runs one publish request. The second return value reports whether
// the response was replayed from the ledger rather than freshly computed.
func (c *Coordinator) Publish(ctx context.Context, actorID int64, key string, in Input) (model.StoredResponse, bool, error) {
	if err := validate(key, in); err != nil {
		return model.StoredResponse{}, false, err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.StoredResponse{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	claim, err := tx.ClaimKey(ctx, actorID, key)
	if err != nil {
		return model.StoredResponse{}, false, fmt.Errorf("claim key: %w", err)
	}

	if claim == nil {
		// someone else resolved (or is resolving) this key; by the time
		// ClaimKey returned, their transaction has committed
		saved, err := tx.SavedResponse(ctx, actorID, key)
		if err != nil {
			return model.StoredResponse{}, false, fmt.Errorf("load saved response: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return model.StoredResponse{}, false, err
		}
		if saved == nil {
			return model.StoredResponse{}, false, ErrUnresolvedClaim
		}
		return *saved, true, nil
	}

	issue := model.NewsletterIssue{
		ID:          c.newID(),
		Title:       in.Title,
		TextContent: in.TextContent,
		HTMLContent: in.HTMLContent,
		PublishedAt: c.now().UTC(),
	}
	if err := tx.InsertIssue(ctx, issue); err != nil {
		return model.StoredResponse{}, false, fmt.Errorf("insert issue: %w", err)
	}

	recipients, err := tx.ConfirmedRecipients(ctx)
	if err != nil {
		return model.StoredResponse{}, false, fmt.Errorf("snapshot recipients: %w", err)
	}

	n, err := tx.EnqueueDeliveries(ctx, issue.ID, recipients)
	if err != nil {
		return model.StoredResponse{}, false, fmt.Errorf("enqueue deliveries: %w", err)
	}

	resp, err := acceptedResponse(issue.ID, n)
	if err != nil {
		return model.StoredResponse{}, false, err
	}

	if err := tx.Resolve(ctx, claim, resp); err != nil {
		return model.StoredResponse{}, false, fmt.Errorf("resolve claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.StoredResponse{}, false, err
	}
	return resp, false, nil
}

func acceptedResponse(issueID string, recipients int) (model.StoredResponse, error) {
	body, err := json.Marshal(publishResult{
		Published:  true,
		IssueID:    issueID,
		Recipients: recipients,
	})
	if err != nil {
		return model.StoredResponse{}, err
	}

	return model.StoredResponse{
		Status:  202,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

func validate(key string, in Input) error {
	if k := strings.TrimSpace(key); k == "" || len(k) > maxKeyLen || k != key {
		return fmt.Errorf("%w: idempotency key must be 1..%d characters with no surrounding whitespace", ErrInvalidInput, maxKeyLen)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(in.TextContent) == "" {
		return fmt.Errorf("%w: text content must not be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(in.HTMLContent) == "" {
		return fmt.Errorf("%w: html content must not be empty", ErrInvalidInput)
	}
	return nil
}
