// Package services – InstanceService
//
// Instances are units of work rewards are reported against. A group's
// automatic rewards use its most recent open instance unless one is
// configured for the group.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/domain"
	"github.com/tbourn/groupwrite/internal/repo"
)

// InstanceService registers and closes instances.
type InstanceService struct {
	DB *gorm.DB
}

// Register creates an open instance, optionally bound to a group.
func (s *InstanceService) Register(ctx context.Context, id, groupID string) (*domain.Instance, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLen {
		return nil, ErrInvalidInstanceID
	}
	groupID = strings.TrimSpace(groupID)
	if len(groupID) > maxIDLen {
		return nil, ErrInvalidGroupID
	}
	in := &domain.Instance{ID: id, GroupID: groupID}
	if err := repo.CreateInstance(ctx, s.DB, in); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrInstanceExists
		}
		return nil, err
	}
	return in, nil
}

// Get returns an instance by id.
func (s *InstanceService) Get(ctx context.Context, id string) (*domain.Instance, error) {
	in, err := repo.GetInstance(ctx, s.DB, strings.TrimSpace(id))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownInstance
	}
	return in, err
}

// Close marks an instance closed so it is no longer picked for automatic
// rewards. Manual rewards may still reference it.
func (s *InstanceService) Close(ctx context.Context, id string) (*domain.Instance, error) {
	id = strings.TrimSpace(id)
	if err := repo.CloseInstance(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownInstance
		}
		return nil, err
	}
	return repo.GetInstance(ctx, s.DB, id)
}
