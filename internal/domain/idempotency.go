package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (scope, subject, key). It enables safe retries of operator POSTs
// (e.g. manual rewards) by returning the originally produced resource without
// re-executing side effects such as a second ledger submission.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Scope      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_subject_key,priority:1"`
	Subject    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_subject_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_subject_key,priority:3"`
	ResourceID string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
