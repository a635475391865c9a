// Package domain defines the persistence models for documents, drafts,
// rewards and instances. These types are mapped with GORM and form the
// durable record kept next to the in-memory consensus machines.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StringList is a []string stored as a JSON array in a TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	return string(b), err
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.New("domain: unsupported StringList source")
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// Revision sources.
const (
	SourceDraft    = "draft"
	SourceOverride = "override"
)

// DocumentRevision is one committed version of a group's document. The
// latest revision per group is the document the group's machine starts from.
//
// Fields:
//   - GroupID + Version: unique; versions are contiguous per group.
//   - DraftID: the approved draft that produced the revision (empty for
//     operator overrides).
//   - Source: "draft" or "override".
type DocumentRevision struct {
	ID           string     `json:"id"           gorm:"type:char(36);primaryKey"`
	GroupID      string     `json:"group_id"     gorm:"type:varchar(128);not null;uniqueIndex:ux_doc_group_version,priority:1"`
	Version      int        `json:"version"      gorm:"not null;uniqueIndex:ux_doc_group_version,priority:2"`
	Content      string     `json:"content"      gorm:"type:text;not null"`
	Contributors StringList `json:"contributors" gorm:"type:text;not null"`
	DraftID      string     `json:"draft_id,omitempty" gorm:"type:varchar(64)"`
	Source       string     `json:"source"       gorm:"type:varchar(16);not null;check:source IN ('draft','override')"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName returns the database table name for DocumentRevision.
func (DocumentRevision) TableName() string { return "documents" }

// DraftRecord is the audit row of a draft: written when the draft is
// published and updated once when it is resolved.
type DraftRecord struct {
	ID             string     `json:"id"               gorm:"type:varchar(64);primaryKey"`
	GroupID        string     `json:"group_id"         gorm:"type:varchar(128);not null;index:idx_group_drafts,priority:1"`
	BasedOnVersion int        `json:"based_on_version" gorm:"not null"`
	Content        string     `json:"content"          gorm:"type:text;not null"`
	Senders        StringList `json:"senders"          gorm:"type:text;not null"`
	MessageCount   int        `json:"message_count"    gorm:"not null"`
	PublishedRef   string     `json:"published_ref,omitempty" gorm:"type:varchar(128)"`
	Status         string     `json:"status"           gorm:"type:varchar(16);not null;index;check:status IN ('pending','approved','rejected')"`
	Reason         string     `json:"reason,omitempty" gorm:"type:varchar(32)"`
	Approvals      int        `json:"approvals"        gorm:"not null;default:0"`
	Rejections     int        `json:"rejections"       gorm:"not null;default:0"`
	CreatedAt      time.Time  `json:"created_at"       gorm:"index:idx_group_drafts,priority:2"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// TableName returns the database table name for DraftRecord.
func (DraftRecord) TableName() string { return "drafts" }

// Reward sources.
const (
	RewardAuto   = "auto"
	RewardManual = "manual"
)

// RewardRecord is an append-only record of a reward accepted by the ledger.
type RewardRecord struct {
	ID          string          `json:"id"           gorm:"type:char(36);primaryKey"`
	RecipientID string          `json:"recipient_id" gorm:"type:varchar(128);not null;index"`
	Amount      decimal.Decimal `json:"amount"       gorm:"type:varchar(64);not null"`
	InstanceID  string          `json:"instance_id"  gorm:"type:varchar(128);not null;index"`
	DraftID     string          `json:"draft_id,omitempty" gorm:"type:varchar(64);index"`
	Source      string          `json:"source"       gorm:"type:varchar(16);not null;check:source IN ('auto','manual')"`
	SubmittedAt time.Time       `json:"submitted_at" gorm:"not null;index"`
}

// TableName returns the database table name for RewardRecord.
func (RewardRecord) TableName() string { return "reward_records" }

// Reconciliation statuses.
const (
	ReconciliationPending  = "pending"
	ReconciliationResolved = "resolved"
)

// Reconciliation is a reward share the ledger never accepted. It stays
// pending until an operator marks it resolved.
type Reconciliation struct {
	ID          string          `json:"id"           gorm:"type:char(36);primaryKey"`
	RecipientID string          `json:"recipient_id" gorm:"type:varchar(128);not null"`
	Amount      decimal.Decimal `json:"amount"       gorm:"type:varchar(64);not null"`
	InstanceID  string          `json:"instance_id"  gorm:"type:varchar(128);not null"`
	DraftID     string          `json:"draft_id"     gorm:"type:varchar(64);index"`
	Attempts    int             `json:"attempts"     gorm:"not null"`
	LastError   string          `json:"last_error"   gorm:"type:text"`
	Status      string          `json:"status"       gorm:"type:varchar(16);not null;index;check:status IN ('pending','resolved')"`
	Note        string          `json:"note,omitempty" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// TableName returns the database table name for Reconciliation.
func (Reconciliation) TableName() string { return "reconciliations" }

// Instance statuses.
const (
	InstanceOpen   = "open"
	InstanceClosed = "closed"
)

// Instance is a registered unit of work rewards are reported against.
type Instance struct {
	ID        string    `json:"id"         gorm:"type:varchar(128);primaryKey"`
	GroupID   string    `json:"group_id"   gorm:"type:varchar(128);index"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'open';check:status IN ('open','closed')"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Instance.
func (Instance) TableName() string { return "instances" }
