package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/groupwrite/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestDraftsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := DraftsStats(context.Background(), db, "g1"); err == nil {
		t.Fatalf("expected error due to missing drafts table")
	}
}

func TestDraftsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.DraftRecord{})
	count, latest, err := DraftsStats(context.Background(), db, "g1")
	if err != nil {
		t.Fatalf("DraftsStats error: %v", err)
	}
	if count != 0 || latest != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, latest)
	}
}

func TestDraftsStats_FilterAndLatest(t *testing.T) {
	db := newTestDB(t, &domain.DraftRecord{})
	ctx := context.Background()

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) // resolution, newest for g1
	t4 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) // other group

	for _, d := range []*domain.DraftRecord{
		{ID: "d1", GroupID: "g1", Content: "a", Status: "pending", CreatedAt: t1},
		{ID: "d2", GroupID: "g1", Content: "b", Status: "pending", CreatedAt: t2},
		{ID: "d3", GroupID: "g2", Content: "c", Status: "pending", CreatedAt: t4},
	} {
		if err := CreateDraft(ctx, db, d); err != nil {
			t.Fatalf("seed %s: %v", d.ID, err)
		}
	}

	count, latest, err := DraftsStats(ctx, db, "g1")
	if err != nil {
		t.Fatalf("DraftsStats: %v", err)
	}
	if count != 2 || latest == nil || !latest.Equal(t2) {
		t.Fatalf("expected (2, %v), got (%d, %v)", t2, count, latest)
	}

	if err := ResolveDraft(ctx, db, "d1", "approved", "approved", 2, 0, t3); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, latest, err = DraftsStats(ctx, db, "g1")
	if err != nil || latest == nil || !latest.Equal(t3) {
		t.Fatalf("resolution should bump latest to %v, got %v err=%v", t3, latest, err)
	}
}

func TestRewardsStats(t *testing.T) {
	db := newTestDB(t, &domain.RewardRecord{})
	ctx := context.Background()

	count, latest, err := RewardsStats(ctx, db, "")
	if err != nil || count != 0 || latest != nil {
		t.Fatalf("empty: (%d, %v, %v)", count, latest, err)
	}

	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	seed := []*domain.RewardRecord{
		{RecipientID: "a", Amount: decimal.RequireFromString("0.01"), InstanceID: "i1", Source: domain.RewardAuto, SubmittedAt: t1},
		{RecipientID: "b", Amount: decimal.RequireFromString("0.01"), InstanceID: "i2", Source: domain.RewardAuto, SubmittedAt: t2},
	}
	for _, r := range seed {
		if err := CreateReward(ctx, db, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, latest, err = RewardsStats(ctx, db, "i1")
	if err != nil || count != 1 || latest == nil || !latest.Equal(t1) {
		t.Fatalf("i1: (%d, %v, %v)", count, latest, err)
	}
	count, latest, err = RewardsStats(ctx, db, "")
	if err != nil || count != 2 || !latest.Equal(t2) {
		t.Fatalf("all: (%d, %v, %v)", count, latest, err)
	}
}
