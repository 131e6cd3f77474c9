package model

import "time"

// NewsletterIssue is the DB entity persisted in the newsletter_issues table.
// Issues are immutable once created.
type NewsletterIssue struct {
	ID          string    `db:"id"` // ULID
	Title       string    `db:"title"`
	TextContent string    `db:"text_content"`
	HTMLContent string    `db:"html_content"`
	PublishedAt time.Time `db:"published_at"`
}
