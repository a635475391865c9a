package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&DocumentRevision{}, &DraftRecord{}, &RewardRecord{}, &Reconciliation{}, &Instance{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		DocumentRevision{}.TableName(): "documents",
		DraftRecord{}.TableName():      "drafts",
		RewardRecord{}.TableName():     "reward_records",
		Reconciliation{}.TableName():   "reconciliations",
		Instance{}.TableName():         "instances",
		Idempotency{}.TableName():      "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, tbl := range []any{&DocumentRevision{}, &DraftRecord{}, &RewardRecord{}, &Reconciliation{}, &Instance{}, &Idempotency{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&DocumentRevision{}, "ux_doc_group_version") {
		t.Fatalf("expected unique index ux_doc_group_version on documents")
	}
	if !m.HasIndex(&DraftRecord{}, "idx_group_drafts") {
		t.Fatalf("expected index idx_group_drafts on drafts")
	}
	if !m.HasIndex(&Idempotency{}, "ux_scope_subject_key") {
		t.Fatalf("expected unique index ux_scope_subject_key on idempotency")
	}
}

func TestDocumentRevision_UniqueVersionAndContributors(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	r1 := &DocumentRevision{ID: uuid.NewString(), GroupID: "g1", Version: 1, Content: "v1", Contributors: StringList{"A", "B"}, Source: SourceDraft, CreatedAt: now}
	if err := db.Create(r1).Error; err != nil {
		t.Fatalf("insert r1: %v", err)
	}
	dup := &DocumentRevision{ID: uuid.NewString(), GroupID: "g1", Version: 1, Content: "again", Source: SourceOverride, CreatedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (group_id, version)")
	}
	other := &DocumentRevision{ID: uuid.NewString(), GroupID: "g2", Version: 1, Content: "x", Source: SourceOverride, CreatedAt: now}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("same version in another group should be allowed: %v", err)
	}

	var got DocumentRevision
	if err := db.First(&got, "id = ?", r1.ID).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if len(got.Contributors) != 2 || got.Contributors[0] != "A" || got.Contributors[1] != "B" {
		t.Fatalf("contributors roundtrip: %v", got.Contributors)
	}

	var empty DocumentRevision
	if err := db.First(&empty, "id = ?", other.ID).Error; err != nil {
		t.Fatalf("readback other: %v", err)
	}
	if len(empty.Contributors) != 0 {
		t.Fatalf("expected no contributors, got %v", empty.Contributors)
	}
}

func TestCheckConstraints(t *testing.T) {
	db := newDomainDB(t)
	now := time.Now().UTC()

	bad := &DraftRecord{ID: "d1", GroupID: "g", Content: "c", Status: "maybe", CreatedAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK violation on drafts.status")
	}
	rr := &RewardRecord{ID: uuid.NewString(), RecipientID: "a", Amount: decimal.NewFromInt(1), InstanceID: "i", Source: "gift", SubmittedAt: now}
	if err := db.Create(rr).Error; err == nil {
		t.Fatalf("expected CHECK violation on reward_records.source")
	}
	in := &Instance{ID: "i1", Status: "archived"}
	if err := db.Create(in).Error; err == nil {
		t.Fatalf("expected CHECK violation on instances.status")
	}
}

func TestRewardRecord_DecimalRoundtrip(t *testing.T) {
	db := newDomainDB(t)
	amt := decimal.RequireFromString("0.01")
	rr := &RewardRecord{ID: uuid.NewString(), RecipientID: "a", Amount: amt, InstanceID: "i", Source: RewardAuto, SubmittedAt: time.Now().UTC()}
	if err := db.Create(rr).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got RewardRecord
	if err := db.First(&got, "id = ?", rr.ID).Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if !got.Amount.Equal(amt) {
		t.Fatalf("amount=%s want %s", got.Amount, amt)
	}
}

func TestStringList_Scan(t *testing.T) {
	var l StringList
	if err := l.Scan(`["x","y"]`); err != nil || len(l) != 2 {
		t.Fatalf("scan string: %v %v", l, err)
	}
	if err := l.Scan([]byte(`["z"]`)); err != nil || len(l) != 1 || l[0] != "z" {
		t.Fatalf("scan bytes: %v %v", l, err)
	}
	if err := l.Scan(nil); err != nil || l != nil {
		t.Fatalf("scan nil: %v %v", l, err)
	}
	if err := l.Scan(42); err == nil {
		t.Fatalf("expected error for int source")
	}
	v, err := StringList(nil).Value()
	if err != nil || v != "[]" {
		t.Fatalf("nil value: %v %v", v, err)
	}
}
