package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailpress/newsletter-gateway/internal/mailer"
	"github.com/mailpress/newsletter-gateway/internal/model"
)

// ----- Fakes -----

type fakeRow struct {
	ob model.DeliveryObligation
}

// fakeQueue treats released rows as immediately claimable again, so Drain
// exercises the full retry path in one pass.
type fakeQueue struct {
	rows []*fakeRow

	doneKeys     []string
	failedKeys   []string
	releases     int
	lastBackoffs []time.Duration
}

func newFakeQueue(issueID string, recipients ...string) *fakeQueue {
	q := &fakeQueue{}
	for _, r := range recipients {
		q.rows = append(q.rows, &fakeRow{ob: model.DeliveryObligation{
			IssueID:        issueID,
			RecipientEmail: r,
			Status:         model.ObligationPending,
		}})
	}
	return q
}

func (q *fakeQueue) ClaimNext(ctx context.Context, lease time.Duration) (*model.DeliveryObligation, error) {
	for _, row := range q.rows {
		if row.ob.Status != model.ObligationPending {
			continue
		}
		row.ob.Status = model.ObligationInProgress
		row.ob.Attempts++
		ob := row.ob
		return &ob, nil
	}
	return nil, nil
}

func (q *fakeQueue) find(issueID, recipient string) *fakeRow {
	for _, row := range q.rows {
		if row.ob.IssueID == issueID && row.ob.RecipientEmail == recipient {
			return row
		}
	}
	return nil
}

func (q *fakeQueue) MarkDone(ctx context.Context, issueID, recipient string) error {
	row := q.find(issueID, recipient)
	if row == nil || row.ob.Status != model.ObligationInProgress {
		return errors.New("mark done on unclaimed row")
	}
	q.doneKeys = append(q.doneKeys, recipient)
	remaining := q.rows[:0]
	for _, r := range q.rows {
		if r != row {
			remaining = append(remaining, r)
		}
	}
	q.rows = remaining
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, issueID, recipient string, backoff time.Duration) error {
	row := q.find(issueID, recipient)
	if row == nil || row.ob.Status != model.ObligationInProgress {
		return errors.New("release on unclaimed row")
	}
	row.ob.Status = model.ObligationPending
	q.releases++
	q.lastBackoffs = append(q.lastBackoffs, backoff)
	return nil
}

func (q *fakeQueue) MarkFailed(ctx context.Context, issueID, recipient string) error {
	row := q.find(issueID, recipient)
	if row == nil || row.ob.Status != model.ObligationInProgress {
		return errors.New("mark failed on unclaimed row")
	}
	row.ob.Status = model.ObligationFailed
	q.failedKeys = append(q.failedKeys, recipient)
	return nil
}

type fakeIssues struct {
	issues map[string]*model.NewsletterIssue
	errs   int // number of Get calls that fail before recovering
}

func (f *fakeIssues) Get(ctx context.Context, id string) (*model.NewsletterIssue, error) {
	if f.errs > 0 {
		f.errs--
		return nil, errors.New("connection reset")
	}
	return f.issues[id], nil
}

// fakeMailer replays a scripted sequence of results per recipient; once the
// script runs out the send succeeds.
type fakeMailer struct {
	script map[string][]error
	calls  map[string]int
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{script: make(map[string][]error), calls: make(map[string]int)}
}

func (m *fakeMailer) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	m.calls[recipient]++
	q := m.script[recipient]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	m.script[recipient] = q[1:]
	return err
}

type fakeAudit struct {
	outcomes []model.DeliveryOutcome
}

func (a *fakeAudit) InsertOutcome(ctx context.Context, out model.DeliveryOutcome) error {
	a.outcomes = append(a.outcomes, out)
	return nil
}

func issueFixture(id string) *model.NewsletterIssue {
	return &model.NewsletterIssue{
		ID:          id,
		Title:       "Issue #1",
		TextContent: "plain",
		HTMLContent: "<p>rich</p>",
	}
}

func newTestDelivery(q *fakeQueue, issues *fakeIssues, mail mailer.Client) *Delivery {
	d := NewDelivery(q, issues, mail)
	d.PollInterval = time.Millisecond
	d.RetryBackoff = time.Millisecond
	return d
}

// ----- Tests -----

func TestDrainEmptyQueue(t *testing.T) {
	q := newFakeQueue("01H")
	mail := newFakeMailer()
	d := newTestDelivery(q, &fakeIssues{}, mail)

	n, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 0 {
		t.Fatalf("processed = %d, want 0", n)
	}
	if len(mail.calls) != 0 {
		t.Fatal("mailer called on an empty queue")
	}
}

func TestDrainDeliversEachRecipientOnce(t *testing.T) {
	q := newFakeQueue("01H", "a@example.com", "b@example.com")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}}
	mail := newFakeMailer()
	d := newTestDelivery(q, issues, mail)

	n, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 2 {
		t.Fatalf("processed = %d, want 2", n)
	}
	if len(q.rows) != 0 {
		t.Fatalf("queue not empty: %d rows left", len(q.rows))
	}
	for _, r := range []string{"a@example.com", "b@example.com"} {
		if mail.calls[r] != 1 {
			t.Fatalf("recipient %s sent %d times, want 1", r, mail.calls[r])
		}
	}
}

func TestTransientFailureRetriesToSuccess(t *testing.T) {
	q := newFakeQueue("01H", "a@example.com", "b@example.com")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}}
	mail := newFakeMailer()
	mail.script["a@example.com"] = []error{errors.New("mailer: status=503")}
	mail.script["b@example.com"] = []error{errors.New("mailer: status=503")}
	d := newTestDelivery(q, issues, mail)

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(q.rows) != 0 {
		t.Fatalf("queue not empty: %d rows left", len(q.rows))
	}
	if got := len(q.doneKeys); got != 2 {
		t.Fatalf("done = %d, want 2", got)
	}
	for _, r := range []string{"a@example.com", "b@example.com"} {
		if mail.calls[r] != 2 {
			t.Fatalf("recipient %s sent %d times, want 2", r, mail.calls[r])
		}
	}
	if q.releases != 2 {
		t.Fatalf("releases = %d, want 2", q.releases)
	}
}

func TestPermanentFailureDoesNotBlockOthers(t *testing.T) {
	q := newFakeQueue("01H", "bad@example.com", "good@example.com")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}}
	mail := newFakeMailer()
	mail.script["bad@example.com"] = []error{&mailer.PermanentError{}}
	d := newTestDelivery(q, issues, mail)

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if mail.calls["bad@example.com"] != 1 {
		t.Fatalf("permanent failure retried: %d calls", mail.calls["bad@example.com"])
	}
	if len(q.failedKeys) != 1 || q.failedKeys[0] != "bad@example.com" {
		t.Fatalf("failedKeys = %v", q.failedKeys)
	}
	if len(q.doneKeys) != 1 || q.doneKeys[0] != "good@example.com" {
		t.Fatalf("doneKeys = %v", q.doneKeys)
	}
}

func TestRetriesExhausted(t *testing.T) {
	q := newFakeQueue("01H", "a@example.com")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}}
	mail := newFakeMailer()
	mail.script["a@example.com"] = []error{
		errors.New("mailer: status=503"),
		errors.New("mailer: status=503"),
		errors.New("mailer: status=503"),
	}
	d := newTestDelivery(q, issues, mail)
	d.MaxAttempts = 3

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if mail.calls["a@example.com"] != 3 {
		t.Fatalf("calls = %d, want 3", mail.calls["a@example.com"])
	}
	if len(q.failedKeys) != 1 {
		t.Fatalf("failedKeys = %v, want the exhausted recipient", q.failedKeys)
	}
	row := q.find("01H", "a@example.com")
	if row == nil || row.ob.Status != model.ObligationFailed {
		t.Fatal("exhausted obligation not kept as failed_permanent")
	}
}

func TestInvalidRecipientFailsWithoutSend(t *testing.T) {
	q := newFakeQueue("01H", "not-an-address")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}}
	mail := newFakeMailer()
	d := newTestDelivery(q, issues, mail)

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(mail.calls) != 0 {
		t.Fatal("mailer called for an invalid address")
	}
	if len(q.failedKeys) != 1 {
		t.Fatalf("failedKeys = %v", q.failedKeys)
	}
}

func TestMissingIssueFailsObligation(t *testing.T) {
	q := newFakeQueue("GONE", "a@example.com")
	mail := newFakeMailer()
	d := newTestDelivery(q, &fakeIssues{issues: map[string]*model.NewsletterIssue{}}, mail)

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(mail.calls) != 0 {
		t.Fatal("mailer called for a missing issue")
	}
	if len(q.failedKeys) != 1 {
		t.Fatalf("failedKeys = %v", q.failedKeys)
	}
}

func TestIssueLoadErrorReleasesRow(t *testing.T) {
	q := newFakeQueue("01H", "a@example.com")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}, errs: 1}
	mail := newFakeMailer()
	d := newTestDelivery(q, issues, mail)

	// first pass hits the load error, releases the row and surfaces the error
	if _, err := d.Drain(context.Background()); err == nil {
		t.Fatal("expected the load error to surface")
	}
	if q.releases != 1 {
		t.Fatalf("releases = %d, want 1", q.releases)
	}

	// second pass recovers and delivers
	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if mail.calls["a@example.com"] != 1 {
		t.Fatalf("calls = %d, want 1", mail.calls["a@example.com"])
	}
}

func TestAuditRecordsTerminalOutcomes(t *testing.T) {
	q := newFakeQueue("01H", "good@example.com", "bad@example.com")
	issues := &fakeIssues{issues: map[string]*model.NewsletterIssue{"01H": issueFixture("01H")}}
	mail := newFakeMailer()
	mail.script["bad@example.com"] = []error{&mailer.PermanentError{}}
	d := newTestDelivery(q, issues, mail)
	audit := &fakeAudit{}
	d.Audit = audit

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(audit.outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(audit.outcomes))
	}
	results := map[string]string{}
	for _, out := range audit.outcomes {
		results[out.RecipientEmail] = out.Result
	}
	if results["good@example.com"] != "sent" || results["bad@example.com"] != "failed_permanent" {
		t.Fatalf("results = %v", results)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := newFakeQueue("01H")
	d := newTestDelivery(q, &fakeIssues{}, newFakeMailer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := &Delivery{RetryBackoff: 10 * time.Second}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{8, 15 * time.Minute},
	}
	for _, tc := range cases {
		if got := d.backoffFor(tc.attempts); got != tc.want {
			t.Fatalf("backoffFor(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}
