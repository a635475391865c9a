// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the draft
// audit trail.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/domain"
)

// CreateDraft inserts a draft audit row.
func CreateDraft(ctx context.Context, db *gorm.DB, d *domain.DraftRecord) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.Senders == nil {
		d.Senders = domain.StringList{}
	}
	return db.WithContext(ctx).Create(d).Error
}

// ResolveDraft records the verdict of a draft. It returns ErrNotFound when no
// pending draft with that id exists.
func ResolveDraft(ctx context.Context, db *gorm.DB, id, status, reason string, approvals, rejections int, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.DraftRecord{}).
		Where("id = ? AND status = ?", id, "pending").
		Updates(map[string]any{
			"status":      status,
			"reason":      reason,
			"approvals":   approvals,
			"rejections":  rejections,
			"resolved_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDraft fetches a draft of a group by id.
func GetDraft(ctx context.Context, db *gorm.DB, groupID, id string) (*domain.DraftRecord, error) {
	var d domain.DraftRecord
	err := db.WithContext(ctx).Where("id = ? AND group_id = ?", id, groupID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CountDrafts returns the number of drafts of a group.
func CountDrafts(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DraftRecord{}).
		Where("group_id = ?", groupID).
		Count(&n).Error
	return n, err
}

// ListDraftsPage returns a page of drafts of a group, newest first.
func ListDraftsPage(ctx context.Context, db *gorm.DB, groupID string, offset, limit int) ([]domain.DraftRecord, error) {
	var out []domain.DraftRecord
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AbandonPendingDrafts rejects every pending draft of a group with the given
// reason. It is used when a group's machine starts without any in-memory
// draft, so earlier pending rows can no longer be voted on.
func AbandonPendingDrafts(ctx context.Context, db *gorm.DB, groupID, reason string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.DraftRecord{}).
		Where("group_id = ? AND status = ?", groupID, "pending").
		Updates(map[string]any{
			"status":      "rejected",
			"reason":      reason,
			"resolved_at": at,
		})
	return res.RowsAffected, res.Error
}
