package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:groupsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Machines write from their own goroutines; keep one connection so the
	// shared in-memory database never reports a locked table.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ---- fakes ----

type echoGen struct {
	mu    sync.Mutex
	calls [][]consensus.Message
}

func (g *echoGen) Generate(_ context.Context, _ consensus.Document, msgs []consensus.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, append([]consensus.Message(nil), msgs...))
	return fmt.Sprintf("draft from %d messages", len(msgs)), nil
}

func (g *echoGen) last() []consensus.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

type memLedger struct {
	mu        sync.Mutex
	submitted map[string][]string // recipient -> instance ids
	amounts   map[string]decimal.Decimal
	fail      map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		submitted: map[string][]string{},
		amounts:   map[string]decimal.Decimal{},
		fail:      map[string]bool{},
	}
}

func (l *memLedger) Submit(_ context.Context, recipientID string, amount decimal.Decimal, instanceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[recipientID] {
		return errors.New("ledger unavailable")
	}
	l.submitted[recipientID] = append(l.submitted[recipientID], instanceID)
	l.amounts[recipientID] = l.amounts[recipientID].Add(amount)
	return nil
}

func (l *memLedger) instancesOf(recipient string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.submitted[recipient]...)
}

func testDefaults() GroupDefaults {
	return GroupDefaults{
		Threshold: 3,
		Retrigger: consensus.RetriggerImmediate,
		Rule:      consensus.Rule{Quorum: 1, ApprovalMargin: 1},
		Rewards: consensus.DispatcherConfig{
			Total:       decimal.RequireFromString("0.03"),
			Places:      2,
			MaxAttempts: 2,
			NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		},
	}
}

func newGroupService(t *testing.T, db *gorm.DB, gen consensus.Generator, ledger consensus.Ledger, overrides map[string]GroupOverride) *GroupService {
	t.Helper()
	s := NewGroupService(db, gen, nil, ledger, testDefaults(), overrides, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func waitSnapshot(t *testing.T, s *GroupService, groupID string, cond func(consensus.Snapshot) bool) consensus.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := s.Snapshot(context.Background(), groupID)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out; last snapshot %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitVoting(t *testing.T, s *GroupService, groupID string) *consensus.Draft {
	t.Helper()
	snap := waitSnapshot(t, s, groupID, func(s consensus.Snapshot) bool { return s.State == consensus.StateVoting })
	return snap.PendingDraft
}

func ingestAll(t *testing.T, s *GroupService, groupID string, senders ...string) {
	t.Helper()
	for i, from := range senders {
		if _, err := s.Ingest(context.Background(), groupID, from, fmt.Sprintf("note %d", i), time.Time{}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
}

// ---- GroupService ----

func TestGroupService_ApproveCommitsAndRewards(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ledger := newMemLedger()
	s := newGroupService(t, db, &echoGen{}, ledger, nil)

	inst := &InstanceService{DB: db}
	if _, err := inst.Register(ctx, "inst-1", "g1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	ingestAll(t, s, "g1", "A", "B", "A")
	d := waitVoting(t, s, "g1")

	row, err := s.GetDraft(ctx, "g1", d.ID)
	if err != nil || row.Status != "pending" || row.MessageCount != 3 {
		t.Fatalf("draft row: %+v err=%v", row, err)
	}

	v, err := s.Vote(ctx, "g1", d.ID, "C", "Approve")
	if err != nil || v != consensus.VerdictApproved {
		t.Fatalf("vote: %v %v", v, err)
	}
	s.Wait()

	snap, _ := s.Snapshot(ctx, "g1")
	if snap.Document.Version != 1 || snap.Document.Content != "draft from 3 messages" {
		t.Fatalf("document: %+v", snap.Document)
	}

	rev, err := repo.LatestRevision(ctx, db, "g1")
	if err != nil || rev.Version != 1 || rev.DraftID != d.ID || rev.Source != "draft" {
		t.Fatalf("revision: %+v err=%v", rev, err)
	}
	if len(rev.Contributors) != 2 || rev.Contributors[0] != "A" || rev.Contributors[1] != "B" {
		t.Fatalf("contributors: %v", rev.Contributors)
	}

	row, _ = s.GetDraft(ctx, "g1", d.ID)
	if row.Status != "approved" || row.Approvals != 1 || row.ResolvedAt == nil {
		t.Fatalf("resolved row: %+v", row)
	}

	// 0.03 over two contributors: A gets the remainder.
	if got := ledger.instancesOf("A"); len(got) != 1 || got[0] != "inst-1" {
		t.Fatalf("A submissions: %v", got)
	}
	if !ledger.amounts["A"].Equal(decimal.RequireFromString("0.02")) || !ledger.amounts["B"].Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("amounts: %v", ledger.amounts)
	}
	n, _ := repo.CountRewards(ctx, db, "inst-1")
	if n != 2 {
		t.Fatalf("reward rows: %d", n)
	}
}

func TestGroupService_RestoresDocumentAndResolvedDrafts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := NewGroupService(db, &echoGen{}, nil, nil, testDefaults(), nil, zerolog.Nop())
	ingestAll(t, first, "g1", "A", "B", "C")
	d := waitVoting(t, first, "g1")
	if _, err := first.Vote(ctx, "g1", d.ID, "A", "reject"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := first.Override(ctx, "g1", "operator text"); err != nil {
		t.Fatalf("override: %v", err)
	}
	first.Close()

	second := newGroupService(t, db, &echoGen{}, nil, nil)
	snap, err := second.Snapshot(ctx, "g1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Document.Version != 1 || snap.Document.Content != "operator text" {
		t.Fatalf("restored document: %+v", snap.Document)
	}
	if _, err := second.Vote(ctx, "g1", d.ID, "B", "approve"); !errors.Is(err, consensus.ErrDraftAlreadyResolved) {
		t.Fatalf("expected ErrDraftAlreadyResolved, got %v", err)
	}
	if _, err := second.Vote(ctx, "g1", "never-existed", "B", "approve"); !errors.Is(err, consensus.ErrUnknownDraft) {
		t.Fatalf("expected ErrUnknownDraft, got %v", err)
	}
}

func TestGroupService_PendingDraftAbandonedOnRestart(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := NewGroupService(db, &echoGen{}, nil, nil, testDefaults(), nil, zerolog.Nop())
	ingestAll(t, first, "g1", "A", "B", "C")
	d := waitVoting(t, first, "g1")
	first.Close()

	second := newGroupService(t, db, &echoGen{}, nil, nil)
	if _, err := second.Snapshot(ctx, "g1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	row, err := second.GetDraft(ctx, "g1", d.ID)
	if err != nil || row.Status != "rejected" || row.Reason != "abandoned" {
		t.Fatalf("abandoned row: %+v err=%v", row, err)
	}
	if _, err := second.Vote(ctx, "g1", d.ID, "A", "approve"); !errors.Is(err, consensus.ErrDraftAlreadyResolved) {
		t.Fatalf("expected ErrDraftAlreadyResolved, got %v", err)
	}
}

func TestGroupService_OverrideValidationAndStaleDraft(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newGroupService(t, db, &echoGen{}, nil, nil)

	if _, err := s.Override(ctx, "g1", "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	ingestAll(t, s, "g1", "A", "B", "C")
	d := waitVoting(t, s, "g1")

	doc, err := s.Override(ctx, "g1", "manual")
	if err != nil || doc.Version != 1 {
		t.Fatalf("override: %+v err=%v", doc, err)
	}
	v, err := s.Vote(ctx, "g1", d.ID, "A", "approve")
	if err != nil || v != consensus.VerdictRejected {
		t.Fatalf("stale draft must be rejected, got %v err=%v", v, err)
	}
	row, _ := s.GetDraft(ctx, "g1", d.ID)
	if row.Reason != "stale" {
		t.Fatalf("reason: %q", row.Reason)
	}
	rev, _ := repo.LatestRevision(ctx, db, "g1")
	if rev.Source != "override" || rev.Version != 1 {
		t.Fatalf("revision: %+v", rev)
	}
}

func TestGroupService_NormalizesText(t *testing.T) {
	db := newTestDB(t)
	gen := &echoGen{}
	s := newGroupService(t, db, gen, nil, nil)

	ctx := context.Background()
	for _, text := range []string{"  café  ", "two", "three"} {
		if _, err := s.Ingest(ctx, "g1", " A ", text, time.Time{}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	waitVoting(t, s, "g1")

	msgs := gen.last()
	if len(msgs) != 3 || msgs[0].Text != "café" || msgs[0].SenderID != "A" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestGroupService_InvalidGroupID(t *testing.T) {
	s := newGroupService(t, newTestDB(t), &echoGen{}, nil, nil)
	if _, err := s.Ingest(context.Background(), "  ", "A", "hi", time.Time{}); !errors.Is(err, ErrInvalidGroupID) {
		t.Fatalf("expected ErrInvalidGroupID, got %v", err)
	}
	if _, _, err := s.ListDrafts(context.Background(), "", 1, 10); !errors.Is(err, ErrInvalidGroupID) {
		t.Fatalf("expected ErrInvalidGroupID, got %v", err)
	}
}

func TestGroupService_OverridesAndReconciliation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ledger := newMemLedger()
	ledger.fail["B"] = true

	total := decimal.RequireFromString("1.00")
	s := newGroupService(t, db, &echoGen{}, ledger, map[string]GroupOverride{
		"g1": {InstanceID: "yaml-inst", Threshold: 2, RewardTotal: &total},
	})

	ingestAll(t, s, "g1", "A", "B")
	d := waitVoting(t, s, "g1")
	if len(d.SourceMessages) != 2 {
		t.Fatalf("threshold override not applied: %d messages", len(d.SourceMessages))
	}
	if _, err := s.Vote(ctx, "g1", d.ID, "A", "approve"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	s.Wait()

	if got := ledger.instancesOf("A"); len(got) != 1 || got[0] != "yaml-inst" {
		t.Fatalf("A submissions: %v", got)
	}
	if !ledger.amounts["A"].Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("A amount: %s", ledger.amounts["A"])
	}

	rs := NewRewardService(db, nil)
	pending, err := rs.Reconciliations(ctx, "pending", 1, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("reconciliations: %+v err=%v", pending, err)
	}
	r := pending[0]
	if r.RecipientID != "B" || r.Attempts != 2 || r.DraftID != d.ID || r.InstanceID != "yaml-inst" {
		t.Fatalf("reconciliation: %+v", r)
	}

	got, err := rs.Reconcile(ctx, r.ID, "paid manually")
	if err != nil || got.Status != "resolved" {
		t.Fatalf("reconcile: %+v err=%v", got, err)
	}
	if _, err := rs.Reconcile(ctx, r.ID, ""); !errors.Is(err, ErrAlreadyReconciled) {
		t.Fatalf("expected ErrAlreadyReconciled, got %v", err)
	}
	if _, err := rs.Reconcile(ctx, "missing", ""); !errors.Is(err, ErrReconciliationNotFound) {
		t.Fatalf("expected ErrReconciliationNotFound, got %v", err)
	}
}

func TestGroupService_InboundHandler(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := newGroupService(t, db, &echoGen{}, nil, nil)

	for i := 0; i < 3; i++ {
		if err := s.HandleMessage(ctx, "g1", "A", fmt.Sprintf("m%d", i), time.Now()); err != nil {
			t.Fatalf("handle message: %v", err)
		}
	}
	d := waitVoting(t, s, "g1")

	// Held while a draft is pending; not an error for the stream.
	if err := s.HandleMessage(ctx, "g1", "A", "late", time.Now()); err != nil {
		t.Fatalf("held message: %v", err)
	}
	if err := s.HandleReaction(ctx, "g1", d.PublishedRef, "B", "🤔"); err != nil {
		t.Fatalf("unsupported reaction should be ignored: %v", err)
	}
	if err := s.HandleReaction(ctx, "g1", "unknown-ref", "B", "👍"); err != nil {
		t.Fatalf("unknown ref should be ignored: %v", err)
	}
	if err := s.HandleReaction(ctx, "g1", d.PublishedRef, "B", "👍"); err != nil {
		t.Fatalf("reaction: %v", err)
	}
	snap := waitSnapshot(t, s, "g1", func(s consensus.Snapshot) bool { return s.State == consensus.StateIdle })
	if snap.Document.Version != 1 {
		t.Fatalf("reaction did not approve: %+v", snap.Document)
	}

	items, total, err := s.ListDrafts(ctx, "g1", 1, 10)
	if err != nil || total != 1 || len(items) != 1 || items[0].Status != "approved" {
		t.Fatalf("list drafts: %+v total=%d err=%v", items, total, err)
	}
}

func TestGroupService_Closed(t *testing.T) {
	s := NewGroupService(newTestDB(t), &echoGen{}, nil, nil, testDefaults(), nil, zerolog.Nop())
	s.Close()
	if _, err := s.Snapshot(context.Background(), "g1"); !errors.Is(err, ErrServiceClosed) {
		t.Fatalf("expected ErrServiceClosed, got %v", err)
	}
}

// ---- RewardService ----

type stubSubmitter struct {
	err   error
	calls int
}

func (s *stubSubmitter) SubmitOne(_ context.Context, recipientID string, amount decimal.Decimal, instanceID string) (consensus.RewardRecord, error) {
	s.calls++
	if s.err != nil {
		return consensus.RewardRecord{}, s.err
	}
	return consensus.RewardRecord{
		RecipientID: recipientID,
		Amount:      amount,
		InstanceID:  instanceID,
		SubmittedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0.5", "0.5", true},
		{"0,25", "0.25", true},
		{" 3 ", "3", true},
		{"0", "", false},
		{"-1", "", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, err := ParseAmount(c.in)
		if c.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(c.want)) {
				t.Fatalf("ParseAmount(%q) = %s, %v", c.in, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ParseAmount(%q) expected ErrInvalidAmount, got %v", c.in, err)
		}
	}
}

func TestRewardService_Submit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := &stubSubmitter{}
	s := NewRewardService(db, sub)

	if _, err := s.Submit(ctx, "inst-1", "0,5"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
	if _, err := (&InstanceService{DB: db}).Register(ctx, "inst-1", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Submit(ctx, "inst-1", "-2"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := s.Submit(ctx, "inst-1", "0.001"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("amount rounding to zero must be invalid, got %v", err)
	}
	if _, err := s.Submit(ctx, " ", "1"); !errors.Is(err, ErrInvalidInstanceID) {
		t.Fatalf("expected ErrInvalidInstanceID, got %v", err)
	}
	if sub.calls != 0 {
		t.Fatalf("ledger called for invalid input")
	}

	rec, err := s.Submit(ctx, "inst-1", "0,5")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.ID == "" || rec.RecipientID != "inst-1" || rec.Source != "manual" || !rec.Amount.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("record: %+v", rec)
	}

	sub.err = &consensus.RewardFailure{
		RecipientID: "inst-1",
		Amount:      decimal.NewFromInt(1),
		InstanceID:  "inst-1",
		Attempts:    3,
		Err:         consensus.ErrLedgerSubmissionFailed,
	}
	if _, err := s.Submit(ctx, "inst-1", "1"); !errors.Is(err, consensus.ErrLedgerSubmissionFailed) {
		t.Fatalf("expected ledger failure, got %v", err)
	}
	pending, err := s.Reconciliations(ctx, "pending", 1, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("failed manual reward not queued: %+v err=%v", pending, err)
	}
	if pending[0].InstanceID != "inst-1" || pending[0].Attempts != 3 || pending[0].DraftID != "" || !pending[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("reconciliation: %+v", pending[0])
	}

	items, total, err := s.ListPage(ctx, "inst-1", 1, 10)
	if err != nil || total != 1 || len(items) != 1 {
		t.Fatalf("list: %+v total=%d err=%v", items, total, err)
	}
	items, total, err = s.ListPage(ctx, "other", 1, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("list other: %+v total=%d err=%v", items, total, err)
	}

	noLedger := NewRewardService(db, nil)
	if _, err := noLedger.Submit(ctx, "inst-1", "1"); !errors.Is(err, ErrLedgerNotConfigured) {
		t.Fatalf("expected ErrLedgerNotConfigured, got %v", err)
	}
}

// ---- InstanceService ----

func TestInstanceService(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := &InstanceService{DB: db}

	if _, err := s.Register(ctx, "", "g1"); !errors.Is(err, ErrInvalidInstanceID) {
		t.Fatalf("expected ErrInvalidInstanceID, got %v", err)
	}
	in, err := s.Register(ctx, " i1 ", "g1")
	if err != nil || in.ID != "i1" || in.Status != "open" {
		t.Fatalf("register: %+v err=%v", in, err)
	}
	if _, err := s.Register(ctx, "i1", "g1"); !errors.Is(err, ErrInstanceExists) {
		t.Fatalf("expected ErrInstanceExists, got %v", err)
	}
	closed, err := s.Close(ctx, "i1")
	if err != nil || closed.Status != "closed" {
		t.Fatalf("close: %+v err=%v", closed, err)
	}
	if _, err := s.Close(ctx, "nope"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
}
