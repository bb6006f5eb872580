// Package db holds the durable entities and their PostgreSQL repository.
package db

import (
	"time"
)

// CertificationRecord is a member's certification with an expiry date.
// ExpiresOn is a pure calendar date: it is stored in a DATE column and
// normalized to midnight UTC in Go so that day arithmetic is never
// affected by time of day. Records are immutable once created and are
// never deleted by the digest engine.
type CertificationRecord struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	Certification string    `json:"certification"`
	ExpiresOn     time.Time `json:"expires_on"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedUtc    time.Time `json:"created_utc"`
}

// NotificationLog records one successful digest send. The pair
// (NotificationType, PeriodKey) is the dedup key, e.g.
// ("Digest:60days", "2026-W07"). The table carries no unique constraint
// on the pair; the digest service defends logically with a check before
// writing.
type NotificationLog struct {
	ID               int64     `json:"id"`
	NotificationType string    `json:"notification_type"`
	PeriodKey        string    `json:"period_key"`
	SentAtUtc        time.Time `json:"sent_at_utc"`
}
