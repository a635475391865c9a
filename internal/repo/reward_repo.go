// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for reward records
// and reconciliation entries.
//
// Reward records are append-only: there is no update or delete helper.
// Reconciliation entries change status exactly once (pending -> resolved).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/domain"
)

// ErrAlreadyResolved is returned when resolving a reconciliation twice.
var ErrAlreadyResolved = errors.New("already resolved")

// CreateReward appends a reward record.
func CreateReward(ctx context.Context, db *gorm.DB, r *domain.RewardRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetReward fetches a reward record by id.
func GetReward(ctx context.Context, db *gorm.DB, id string) (*domain.RewardRecord, error) {
	var r domain.RewardRecord
	err := db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func rewardsQuery(ctx context.Context, db *gorm.DB, instanceID string) *gorm.DB {
	q := db.WithContext(ctx).Model(&domain.RewardRecord{})
	if instanceID != "" {
		q = q.Where("instance_id = ?", instanceID)
	}
	return q
}

// CountRewards counts reward records, optionally for one instance.
func CountRewards(ctx context.Context, db *gorm.DB, instanceID string) (int64, error) {
	var n int64
	err := rewardsQuery(ctx, db, instanceID).Count(&n).Error
	return n, err
}

// ListRewardsPage returns reward records newest first, optionally for one
// instance.
func ListRewardsPage(ctx context.Context, db *gorm.DB, instanceID string, offset, limit int) ([]domain.RewardRecord, error) {
	var out []domain.RewardRecord
	err := rewardsQuery(ctx, db, instanceID).
		Order("submitted_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CreateReconciliation records a share that needs manual reconciliation.
func CreateReconciliation(ctx context.Context, db *gorm.DB, r *domain.Reconciliation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.ReconciliationPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}

// ListReconciliations returns entries with the given status (all when empty),
// oldest first.
func ListReconciliations(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.Reconciliation, error) {
	q := db.WithContext(ctx).Model(&domain.Reconciliation{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Reconciliation
	err := q.Order("created_at asc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// ResolveReconciliation marks a pending entry resolved.
func ResolveReconciliation(ctx context.Context, db *gorm.DB, id, note string, at time.Time) (*domain.Reconciliation, error) {
	var out *domain.Reconciliation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r domain.Reconciliation
		if err := tx.First(&r, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if r.Status == domain.ReconciliationResolved {
			return ErrAlreadyResolved
		}
		r.Status = domain.ReconciliationResolved
		r.Note = note
		r.ResolvedAt = &at
		if err := tx.Save(&r).Error; err != nil {
			return err
		}
		out = &r
		return nil
	})
	return out, err
}
