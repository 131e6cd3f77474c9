package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string, used for newsletter issue ids.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewToken generates an opaque subscription-confirmation token. ULIDs are
// URL-safe, which keeps the confirmation link plain.
func NewToken() string {
	return NewID()
}
