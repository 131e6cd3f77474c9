package model

import "time"

type ObligationStatus string

const (
	ObligationPending    ObligationStatus = "pending"
	ObligationInProgress ObligationStatus = "in_progress"
	ObligationFailed     ObligationStatus = "failed_permanent"
)

func (s ObligationStatus) String() string {
	return string(s)
}

func (s ObligationStatus) Valid() bool {
	return s == ObligationPending || s == ObligationInProgress || s == ObligationFailed
}

// DeliveryObligation is one row of the issue_delivery_queue table: the duty
// to deliver one issue to one recipient. The batch for an issue is fixed at
// publish time; only the worker mutates status/attempts afterwards.
//
// LeasedUntil does double duty: for a pending row it is the earliest time the
// row may be claimed (retry backoff); for an in_progress row it is the lease
// expiry after which a crashed worker's claim can be taken over.
type DeliveryObligation struct {
	IssueID        string           `db:"issue_id"`
	RecipientEmail string           `db:"recipient_email"`
	Attempts       int              `db:"attempts"`
	Status         ObligationStatus `db:"status"`
	LeasedUntil    time.Time        `db:"leased_until"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}
