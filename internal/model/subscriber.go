package model

import "time"

type SubscriberStatus string

const (
	SubscriberPending   SubscriberStatus = "pending"
	SubscriberConfirmed SubscriberStatus = "confirmed"
)

func (s SubscriberStatus) String() string {
	return string(s)
}

func (s SubscriberStatus) Valid() bool {
	return s == SubscriberPending || s == SubscriberConfirmed
}

// Subscriber is the DB entity persisted in the subscribers table.
// New sign-ups start as pending and flip to confirmed via the emailed token.
type Subscriber struct {
	ID        int64            `db:"id"`
	Email     string           `db:"email"`
	Name      string           `db:"name"`
	Status    SubscriberStatus `db:"status"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}
