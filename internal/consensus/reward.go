package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SplitEqual is the only supported reward split policy.
const SplitEqual = "equal"

// Ledger records reward amounts against recipients.
type Ledger interface {
	Submit(ctx context.Context, recipientID string, amount decimal.Decimal, instanceID string) error
}

// PermanentError marks ledger errors that must not be retried (e.g. the
// ledger rejected the request as invalid).
type PermanentError interface {
	error
	Permanent() bool
}

// RewardRecord is an append-only record of a submitted reward.
type RewardRecord struct {
	RecipientID string          `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
	InstanceID  string          `json:"instance_id"`
	DraftID     string          `json:"draft_id,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// RewardFailure is a share that could not be submitted after all retries and
// needs manual reconciliation.
type RewardFailure struct {
	RecipientID string          `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
	InstanceID  string          `json:"instance_id"`
	DraftID     string          `json:"draft_id"`
	Attempts    int             `json:"attempts"`
	Err         error           `json:"-"`
}

func (f *RewardFailure) Error() string {
	return fmt.Sprintf("reward for %s after %d attempts: %v", f.RecipientID, f.Attempts, f.Err)
}

func (f *RewardFailure) Unwrap() error { return f.Err }

// ErrRewardPrecision reports a reward total that cannot be expressed in the
// configured number of decimal places.
var ErrRewardPrecision = errors.New("reward total has more decimal places than the reward precision")

// CheckPrecision returns ErrRewardPrecision when total has a non-zero digit
// beyond places decimal places.
func CheckPrecision(total decimal.Decimal, places int32) error {
	if !total.Equal(total.Truncate(places)) {
		return fmt.Errorf("%w: %s at %d places", ErrRewardPrecision, total, places)
	}
	return nil
}

// RewardSink persists the outcome of each individual submission.
type RewardSink interface {
	RecordReward(ctx context.Context, rec RewardRecord) error
	RecordFailure(ctx context.Context, f RewardFailure) error
}

// Share is one recipient's portion of a reward.
type Share struct {
	RecipientID string
	Amount      decimal.Decimal
}

// SplitEqually divides total across the distinct recipients in order. Each
// share is truncated to places decimal places and the remainder is handed out
// one smallest unit at a time starting with the earliest recipient, so the
// shares always sum to total exactly. A total finer than places is refused
// with ErrRewardPrecision.
func SplitEqually(total decimal.Decimal, recipients []string, places int32) ([]Share, error) {
	if err := CheckPrecision(total, places); err != nil {
		return nil, err
	}
	distinct := make([]string, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if _, ok := seen[r]; ok || r == "" {
			continue
		}
		seen[r] = struct{}{}
		distinct = append(distinct, r)
	}
	if len(distinct) == 0 {
		return nil, nil
	}

	n := decimal.NewFromInt(int64(len(distinct)))
	base := total.Div(n).Truncate(places)
	unit := decimal.New(1, -places)
	remainder := total.Sub(base.Mul(n))
	extra := remainder.Div(unit).IntPart()

	out := make([]Share, len(distinct))
	for i, r := range distinct {
		amt := base
		if int64(i) < extra {
			amt = amt.Add(unit)
		}
		out[i] = Share{RecipientID: r, Amount: amt}
	}
	return out, nil
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Total       decimal.Decimal
	Places      int32
	SplitPolicy string
	MaxAttempts uint
	// NewBackOff builds a fresh backoff per recipient. Defaults to an
	// exponential backoff between 1s and 10s.
	NewBackOff func() backoff.BackOff
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Dispatcher computes reward shares for approved drafts and submits them to
// the ledger, one independent submission per recipient.
type Dispatcher struct {
	ledger Ledger
	sink   RewardSink
	cfg    DispatcherConfig
}

// NewDispatcher builds a Dispatcher. sink may be nil.
func NewDispatcher(ledger Ledger, sink RewardSink, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SplitPolicy == "" {
		cfg.SplitPolicy = SplitEqual
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 10 * time.Second
			return b
		}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{ledger: ledger, sink: sink, cfg: cfg}
}

// Distribution is the result of distributing one draft's reward.
type Distribution struct {
	Records  []RewardRecord
	Failures []RewardFailure
}

// Distribute splits the configured total across contributors and submits
// each share. A failing recipient never rolls back the others.
func (d *Dispatcher) Distribute(ctx context.Context, contributors []string, draftID, instanceID string) (Distribution, error) {
	if d.cfg.SplitPolicy != SplitEqual {
		return Distribution{}, fmt.Errorf("reward split policy %q not supported", d.cfg.SplitPolicy)
	}
	if instanceID == "" {
		instanceID = draftID
	}
	var out Distribution
	if !d.cfg.Total.IsPositive() {
		return out, nil
	}
	shares, err := SplitEqually(d.cfg.Total, contributors, d.cfg.Places)
	if err != nil {
		return out, err
	}
	for _, sh := range shares {
		rec, fail := d.submit(ctx, sh, draftID, instanceID)
		if fail != nil {
			out.Failures = append(out.Failures, *fail)
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// SubmitOne submits a single reward outside of any draft with the same retry
// policy as Distribute. When all attempts fail the returned error is a
// *RewardFailure wrapping ErrLedgerSubmissionFailed, and the failure has
// already been handed to the sink.
func (d *Dispatcher) SubmitOne(ctx context.Context, recipientID string, amount decimal.Decimal, instanceID string) (RewardRecord, error) {
	rec, fail := d.submit(ctx, Share{RecipientID: recipientID, Amount: amount}, "", instanceID)
	if fail != nil {
		return RewardRecord{}, fail
	}
	return rec, nil
}

func (d *Dispatcher) submit(ctx context.Context, sh Share, draftID, instanceID string) (RewardRecord, *RewardFailure) {
	lg := d.cfg.Logger.With().
		Str("draft_id", draftID).
		Str("recipient_id", sh.RecipientID).
		Str("amount", sh.Amount.String()).
		Logger()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := d.ledger.Submit(ctx, sh.RecipientID, sh.Amount, instanceID)
		var perm PermanentError
		if errors.As(err, &perm) && perm.Permanent() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(d.cfg.NewBackOff()),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			lg.Warn().Err(err).Dur("retry_in", wait).Msg("reward submission failed, retrying")
		}),
	)
	if err != nil {
		rewardSubmissions.WithLabelValues("failed").Inc()
		lg.Error().Err(err).Int("attempts", attempts).Msg("reward submission abandoned; pending reconciliation")
		f := &RewardFailure{
			RecipientID: sh.RecipientID,
			Amount:      sh.Amount,
			InstanceID:  instanceID,
			DraftID:     draftID,
			Attempts:    attempts,
			Err:         fmt.Errorf("%w: %w", ErrLedgerSubmissionFailed, err),
		}
		if d.sink != nil {
			if serr := d.sink.RecordFailure(ctx, *f); serr != nil {
				lg.Error().Err(serr).Msg("record reconciliation entry")
			}
		}
		return RewardRecord{}, f
	}

	rewardSubmissions.WithLabelValues("submitted").Inc()
	rec := RewardRecord{
		RecipientID: sh.RecipientID,
		Amount:      sh.Amount,
		InstanceID:  instanceID,
		DraftID:     draftID,
		SubmittedAt: d.cfg.Now(),
	}
	if d.sink != nil {
		if err := d.sink.RecordReward(ctx, rec); err != nil {
			lg.Error().Err(err).Msg("record reward")
		}
	}
	return rec, nil
}
