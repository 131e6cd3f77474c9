package model

import "time"

// IdempotencyRecord is one row of the idempotency table: a durable receipt
// for a publish request, keyed by (actor_id, idem_key). Null response fields
// mean "claimed, in flight"; non-null fields mean "resolved, replayable".
// Records are never deleted; retention is owned elsewhere.
type IdempotencyRecord struct {
	ActorID         int64     `db:"actor_id"`
	IdemKey         string    `db:"idem_key"`
	ResponseStatus  *int      `db:"response_status"`
	ResponseHeaders []byte    `db:"response_headers"` // JSON object, nullable
	ResponseBody    []byte    `db:"response_body"`    // nullable
	CreatedAt       time.Time `db:"created_at"`
}

// StoredResponse is the replayable HTTP-level result attached to a resolved
// idempotency record.
type StoredResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}
