// Package worker drains the issue_delivery_queue: claim one obligation,
// send one email, resolve. Sends are at-least-once; duplicate protection
// ends at the queue row, not at the mail provider.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mailpress/newsletter-gateway/internal/mailer"
	"github.com/mailpress/newsletter-gateway/internal/metrics"
	"github.com/mailpress/newsletter-gateway/internal/model"
	"github.com/mailpress/newsletter-gateway/internal/util"
)

const maxRetryBackoff = 15 * time.Minute

// Queue is the worker's view of the delivery obligation queue.
type Queue interface {
	ClaimNext(ctx context.Context, lease time.Duration) (*model.DeliveryObligation, error)
	MarkDone(ctx context.Context, issueID, recipient string) error
	Release(ctx context.Context, issueID, recipient string, backoff time.Duration) error
	MarkFailed(ctx context.Context, issueID, recipient string) error
}

// IssueReader loads the content referenced by an obligation.
type IssueReader interface {
	Get(ctx context.Context, id string) (*model.NewsletterIssue, error)
}

// Audit receives terminal outcomes (ClickHouse in production). Best-effort:
// audit failures never affect the queue.
type Audit interface {
	InsertOutcome(ctx context.Context, out model.DeliveryOutcome) error
}

// Delivery claims obligations one at a time and resolves them:
// success → done, transient failure → pending with backoff,
// permanent failure or exhausted retries → failed_permanent.
type Delivery struct {
	Queue  Queue
	Issues IssueReader
	Mail   mailer.Client
	Audit  Audit // optional

	Lease        time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	Log          *zap.Logger
}

// NewDelivery builds a worker with sane defaults.
func NewDelivery(queue Queue, issues IssueReader, mail mailer.Client) *Delivery {
	return &Delivery{
		Queue:        queue,
		Issues:       issues,
		Mail:         mail,
		Lease:        60 * time.Second,
		PollInterval: time.Second,
		MaxAttempts:  5,
		RetryBackoff: 10 * time.Second,
		Log:          zap.NewNop(),
	}
}

// Run processes obligations until ctx is cancelled, idling PollInterval
// between empty polls.
func (d *Delivery) Run(ctx context.Context) error {
	for {
		claimed, err := d.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.Log.Error("delivery cycle failed", zap.Error(err))
		}
		if claimed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.PollInterval):
		}
	}
}

// Drain processes obligations until the queue reports empty. Used by the
// drain command and by tests to make delivery deterministic. Returns the
// number of obligations resolved.
func (d *Delivery) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		claimed, err := d.ProcessNext(ctx)
		if err != nil {
			return processed, err
		}
		if !claimed {
			return processed, nil
		}
		processed++
	}
}

// ProcessNext claims and resolves a single obligation. It reports whether an
// obligation was claimed; false with nil error means the queue is empty.
func (d *Delivery) ProcessNext(ctx context.Context) (bool, error) {
	ob, err := d.Queue.ClaimNext(ctx, d.Lease)
	if err != nil {
		return false, err
	}
	if ob == nil {
		return false, nil
	}

	if !util.ValidEmail(ob.RecipientEmail) {
		d.fail(ctx, ob, "invalid recipient address", nil)
		return true, nil
	}

	issue, err := d.Issues.Get(ctx, ob.IssueID)
	if err != nil {
		// infrastructure hiccup: give the row back and retry later
		if rerr := d.Queue.Release(ctx, ob.IssueID, ob.RecipientEmail, d.backoffFor(ob.Attempts)); rerr != nil {
			return true, rerr
		}
		return true, err
	}
	if issue == nil {
		d.fail(ctx, ob, "referenced issue does not exist", nil)
		return true, nil
	}

	err = d.Mail.Send(ctx, ob.RecipientEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	switch {
	case err == nil:
		if merr := d.Queue.MarkDone(ctx, ob.IssueID, ob.RecipientEmail); merr != nil {
			return true, merr
		}
		metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
		d.audit(ctx, ob, "sent")

	case mailer.IsPermanent(err):
		d.fail(ctx, ob, "permanent send failure", err)

	case ob.Attempts >= d.MaxAttempts:
		d.fail(ctx, ob, "retries exhausted", err)

	default:
		backoff := d.backoffFor(ob.Attempts)
		if rerr := d.Queue.Release(ctx, ob.IssueID, ob.RecipientEmail, backoff); rerr != nil {
			return true, rerr
		}
		metrics.DeliveriesTotal.WithLabelValues("retried").Inc()
		d.Log.Info("transient send failure, will retry",
			zap.String("issue_id", ob.IssueID),
			zap.String("recipient", ob.RecipientEmail),
			zap.Int("attempt", ob.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
	}

	return true, nil
}

func (d *Delivery) fail(ctx context.Context, ob *model.DeliveryObligation, reason string, cause error) {
	if err := d.Queue.MarkFailed(ctx, ob.IssueID, ob.RecipientEmail); err != nil {
		d.Log.Error("mark failed_permanent", zap.Error(err))
		return
	}
	metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
	d.Log.Warn("dropping delivery obligation",
		zap.String("issue_id", ob.IssueID),
		zap.String("recipient", ob.RecipientEmail),
		zap.Int("attempt", ob.Attempts),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	d.audit(ctx, ob, "failed_permanent")
}

func (d *Delivery) audit(ctx context.Context, ob *model.DeliveryObligation, result string) {
	if d.Audit == nil {
		return
	}
	err := d.Audit.InsertOutcome(ctx, model.DeliveryOutcome{
		IssueID:        ob.IssueID,
		RecipientEmail: ob.RecipientEmail,
		Result:         result,
		Attempts:       ob.Attempts,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		d.Log.Debug("audit insert failed", zap.Error(err))
	}
}

// backoffFor doubles the base per attempt, capped at maxRetryBackoff.
func (d *Delivery) backoffFor(attempts int) time.Duration {
	backoff := d.RetryBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return backoff
}
