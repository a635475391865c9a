package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/domain"
)

// CreateInstance registers an instance. An existing id yields ErrDuplicate.
func CreateInstance(ctx context.Context, db *gorm.DB, in *domain.Instance) error {
	if in.Status == "" {
		in.Status = domain.InstanceOpen
	}
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	in.UpdatedAt = in.CreatedAt
	err := db.WithContext(ctx).Create(in).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetInstance fetches an instance by id.
func GetInstance(ctx context.Context, db *gorm.DB, id string) (*domain.Instance, error) {
	var in domain.Instance
	err := db.WithContext(ctx).First(&in, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// LatestOpenInstance returns the most recently registered open instance of a
// group.
func LatestOpenInstance(ctx context.Context, db *gorm.DB, groupID string) (*domain.Instance, error) {
	var in domain.Instance
	err := db.WithContext(ctx).
		Where("group_id = ? AND status = ?", groupID, domain.InstanceOpen).
		Order("created_at desc").
		First(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// CloseInstance marks an instance closed.
func CloseInstance(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": domain.InstanceClosed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
