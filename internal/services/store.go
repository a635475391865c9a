// Package services – Store
//
// Store persists the durable facts emitted by consensus machines and the
// reward dispatcher: the draft audit trail, committed document revisions,
// accepted rewards and shares that need manual reconciliation.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/domain"
	"github.com/tbourn/groupwrite/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Store implements consensus.Journal and consensus.RewardSink on top of GORM.
type Store struct {
	DB  *gorm.DB
	Now func() time.Time
}

var (
	_ consensus.Journal    = (*Store)(nil)
	_ consensus.RewardSink = (*Store)(nil)
)

// NewStore returns a Store writing to db.
func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

// DraftOpened writes the audit row of a freshly published draft.
func (s *Store) DraftOpened(ctx context.Context, groupID string, d consensus.Draft) error {
	ctx, span := otel.Tracer("services/Store").Start(ctx, "DraftOpened",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("draft.id", d.ID),
		),
	)
	defer span.End()

	return repo.CreateDraft(ctx, s.DB, &domain.DraftRecord{
		ID:             d.ID,
		GroupID:        groupID,
		BasedOnVersion: d.BasedOnVersion,
		Content:        d.ProposedContent,
		Senders:        domain.StringList(d.Senders()),
		MessageCount:   len(d.SourceMessages),
		PublishedRef:   d.PublishedRef,
		Status:         string(consensus.DraftPending),
		CreatedAt:      d.CreatedAt,
	})
}

// DraftResolved records the verdict of a draft.
func (s *Store) DraftResolved(ctx context.Context, groupID string, d consensus.Draft, approvals, rejections int, reason string) error {
	ctx, span := otel.Tracer("services/Store").Start(ctx, "DraftResolved",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("draft.id", d.ID),
			attribute.String("draft.reason", reason),
		),
	)
	defer span.End()

	return repo.ResolveDraft(ctx, s.DB, d.ID, string(d.Status), reason, approvals, rejections, s.now())
}

// DocumentCommitted appends a revision. An empty draftID marks an operator
// override.
func (s *Store) DocumentCommitted(ctx context.Context, groupID string, doc consensus.Document, draftID string) error {
	ctx, span := otel.Tracer("services/Store").Start(ctx, "DocumentCommitted",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.Int("document.version", doc.Version),
		),
	)
	defer span.End()

	source := domain.SourceDraft
	if draftID == "" {
		source = domain.SourceOverride
	}
	return repo.AppendRevision(ctx, s.DB, &domain.DocumentRevision{
		GroupID:      groupID,
		Version:      doc.Version,
		Content:      doc.Content,
		Contributors: domain.StringList(doc.Contributors),
		DraftID:      draftID,
		Source:       source,
		CreatedAt:    s.now(),
	})
}

// RecordReward appends an accepted reward.
func (s *Store) RecordReward(ctx context.Context, rec consensus.RewardRecord) error {
	source := domain.RewardAuto
	if rec.DraftID == "" {
		source = domain.RewardManual
	}
	return repo.CreateReward(ctx, s.DB, &domain.RewardRecord{
		RecipientID: rec.RecipientID,
		Amount:      rec.Amount,
		InstanceID:  rec.InstanceID,
		DraftID:     rec.DraftID,
		Source:      source,
		SubmittedAt: rec.SubmittedAt,
	})
}

// RecordFailure stores a share the ledger never accepted as a pending
// reconciliation entry.
func (s *Store) RecordFailure(ctx context.Context, f consensus.RewardFailure) error {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return repo.CreateReconciliation(ctx, s.DB, &domain.Reconciliation{
		RecipientID: f.RecipientID,
		Amount:      f.Amount,
		InstanceID:  f.InstanceID,
		DraftID:     f.DraftID,
		Attempts:    f.Attempts,
		LastError:   msg,
		CreatedAt:   s.now(),
	})
}

// LatestDocument loads the most recent committed document of a group. A
// group without history yields the zero Document.
func (s *Store) LatestDocument(ctx context.Context, groupID string) (consensus.Document, error) {
	rev, err := repo.LatestRevision(ctx, s.DB, groupID)
	if errors.Is(err, repo.ErrNotFound) {
		return consensus.Document{}, nil
	}
	if err != nil {
		return consensus.Document{}, err
	}
	return consensus.Document{
		Content:      rev.Content,
		Version:      rev.Version,
		Contributors: []string(rev.Contributors),
	}, nil
}
