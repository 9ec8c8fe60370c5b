package domain

import "time"

// AuditLog is one persisted security event.
type AuditLog struct {
	ID         string
	AuthEntity string
	IdentityID string // empty for events without a known identity (e.g. unknown-email login failures)
	Action     string
	IP         string
	Metadata   map[string]string
	CreatedAt  time.Time
}
