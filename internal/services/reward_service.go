// Package services – RewardService
//
// RewardService implements the operator's manual reward path: it validates
// the instance and amount, submits a single reward to the ledger outside of
// any draft, and appends the resulting record. It also lists reward records
// and the reconciliation queue of shares the ledger never accepted.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/domain"
	"github.com/tbourn/groupwrite/internal/repo"
	"github.com/tbourn/groupwrite/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Submitter sends a single reward to the ledger. A *consensus.RewardFailure
// error means the retries were exhausted.
type Submitter interface {
	SubmitOne(ctx context.Context, recipientID string, amount decimal.Decimal, instanceID string) (consensus.RewardRecord, error)
}

// RewardService coordinates manual rewards and reconciliation.
type RewardService struct {
	DB        *gorm.DB
	Submitter Submitter
	// Places is the number of decimal places amounts are rounded to.
	Places int32
	Now    func() time.Time
}

// NewRewardService returns a RewardService with two decimal places.
func NewRewardService(db *gorm.DB, sub Submitter) *RewardService {
	return &RewardService{DB: db, Submitter: sub, Places: 2}
}

// ParseAmount parses an operator-entered amount. Both "." and "," are
// accepted as the decimal separator.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amt, err := decimal.NewFromString(raw)
	if err != nil || !amt.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return amt, nil
}

// Submit reports a manual reward for a registered instance. The instance
// itself is the recipient. A submission the ledger still refuses after its
// retries is queued for manual reconciliation.
func (s *RewardService) Submit(ctx context.Context, instanceID, rawAmount string) (*domain.RewardRecord, error) {
	ctx, span := otel.Tracer("services/RewardService").Start(ctx, "Submit",
		trace.WithAttributes(attribute.String("instance.id", instanceID)),
	)
	defer span.End()

	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" || len(instanceID) > maxIDLen {
		return nil, ErrInvalidInstanceID
	}
	amt, err := ParseAmount(rawAmount)
	if err != nil {
		return nil, err
	}
	if s.Places > 0 {
		amt = amt.Round(s.Places)
		if !amt.IsPositive() {
			return nil, ErrInvalidAmount
		}
	}
	if _, err := repo.GetInstance(ctx, s.DB, instanceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownInstance
		}
		return nil, err
	}

	if s.Submitter == nil {
		return nil, ErrLedgerNotConfigured
	}
	rec, err := s.Submitter.SubmitOne(ctx, instanceID, amt, instanceID)
	if err != nil {
		var fail *consensus.RewardFailure
		if errors.As(err, &fail) {
			if rerr := NewStore(s.DB).RecordFailure(ctx, *fail); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
		}
		return nil, err
	}
	row := &domain.RewardRecord{
		RecipientID: rec.RecipientID,
		Amount:      rec.Amount,
		InstanceID:  rec.InstanceID,
		Source:      domain.RewardManual,
		SubmittedAt: rec.SubmittedAt,
	}
	if err := repo.CreateReward(ctx, s.DB, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Get returns a reward record by id.
func (s *RewardService) Get(ctx context.Context, id string) (*domain.RewardRecord, error) {
	return repo.GetReward(ctx, s.DB, id)
}

// ListPage returns reward records newest first, optionally for one instance.
func (s *RewardService) ListPage(ctx context.Context, instanceID string, page, pageSize int) ([]domain.RewardRecord, int64, error) {
	ctx, span := otel.Tracer("services/RewardService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = clampPage(page, pageSize)
	instanceID = strings.TrimSpace(instanceID)
	total, err := repo.CountRewards(ctx, s.DB, instanceID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.RewardRecord{}, 0, nil
	}
	items, err := repo.ListRewardsPage(ctx, s.DB, instanceID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Reconciliations lists reconciliation entries with the given status
// ("pending", "resolved" or empty for all).
func (s *RewardService) Reconciliations(ctx context.Context, status string, page, pageSize int) ([]domain.Reconciliation, error) {
	page, pageSize = clampPage(page, pageSize)
	return repo.ListReconciliations(ctx, s.DB, strings.TrimSpace(status), utils.Offset(page, pageSize), pageSize)
}

// Reconcile marks a pending reconciliation entry resolved.
func (s *RewardService) Reconcile(ctx context.Context, id, note string) (*domain.Reconciliation, error) {
	ctx, span := otel.Tracer("services/RewardService").Start(ctx, "Reconcile",
		trace.WithAttributes(attribute.String("reconciliation.id", id)),
	)
	defer span.End()

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	r, err := repo.ResolveReconciliation(ctx, s.DB, id, strings.TrimSpace(note), now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrReconciliationNotFound
	case errors.Is(err, repo.ErrAlreadyResolved):
		return nil, ErrAlreadyReconciled
	}
	return r, err
}
