// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for document
// revisions.
//
// Every committed version of a group's document is stored as its own row,
// so the table doubles as the document history. The (group_id, version)
// unique index rejects a second writer for the same version.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// AppendRevision inserts a new document revision. ID and CreatedAt are filled
// in when empty. A version that already exists for the group yields
// ErrDuplicate.
func AppendRevision(ctx context.Context, db *gorm.DB, rev *domain.DocumentRevision) error {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	if rev.Contributors == nil {
		rev.Contributors = domain.StringList{}
	}
	err := db.WithContext(ctx).Create(rev).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// LatestRevision returns the highest version stored for groupID, or
// ErrNotFound when the group has never committed.
func LatestRevision(ctx context.Context, db *gorm.DB, groupID string) (*domain.DocumentRevision, error) {
	var rev domain.DocumentRevision
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("version desc").
		First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// CountRevisions returns the number of revisions for pagination.
func CountRevisions(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.DocumentRevision{}).
		Where("group_id = ?", groupID).
		Count(&n).Error
	return n, err
}

// ListRevisionsPage returns revisions of a group, newest first.
func ListRevisionsPage(ctx context.Context, db *gorm.DB, groupID string, offset, limit int) ([]domain.DocumentRevision, error) {
	var out []domain.DocumentRevision
	err := db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("version desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
