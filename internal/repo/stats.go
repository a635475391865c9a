// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/domain"
)

// DraftsStats returns aggregate metadata for a group's drafts: the total
// number of rows and the latest change (creation or resolution) among them.
//
// Return values:
//   - count:     total drafts for groupID
//   - latest:    pointer to the greatest created_at/resolved_at, or nil if no rows
//   - err:       database error, if any
func DraftsStats(ctx context.Context, db *gorm.DB, groupID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.DraftRecord{}).Where("group_id = ?", groupID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT in SQLite; read the newest rows instead.
	var created struct{ CreatedAt time.Time }
	if err = q.Session(&gorm.Session{}).Select("created_at").Order("created_at DESC").Limit(1).Scan(&created).Error; err != nil {
		return 0, nil, err
	}
	ts := created.CreatedAt

	var resolved struct{ ResolvedAt *time.Time }
	if err = db.WithContext(ctx).Model(&domain.DraftRecord{}).
		Where("group_id = ? AND resolved_at IS NOT NULL", groupID).
		Select("resolved_at").Order("resolved_at DESC").Limit(1).
		Scan(&resolved).Error; err != nil {
		return 0, nil, err
	}
	if resolved.ResolvedAt != nil && resolved.ResolvedAt.After(ts) {
		ts = *resolved.ResolvedAt
	}
	return count, &ts, nil
}

// RewardsStats returns the number of reward records (optionally for one
// instance) and the most recent submission time.
func RewardsStats(ctx context.Context, db *gorm.DB, instanceID string) (count int64, latest *time.Time, err error) {
	if err = rewardsQuery(ctx, db, instanceID).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct{ SubmittedAt time.Time }
	if err = rewardsQuery(ctx, db, instanceID).Select("submitted_at").Order("submitted_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.SubmittedAt, nil
}
