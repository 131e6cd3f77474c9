package model

import "time"

// DeliveryOutcome is the append-only audit record written to ClickHouse when
// an obligation reaches a terminal state.
type DeliveryOutcome struct {
	IssueID        string    `db:"issue_id" json:"issue_id"`
	RecipientEmail string    `db:"recipient_email" json:"recipient_email"`
	Result         string    `db:"result" json:"result"` // sent|failed_permanent
	Attempts       int       `db:"attempts" json:"attempts"`
	OccurredAt     time.Time `db:"occurred_at" json:"occurred_at"`
}
