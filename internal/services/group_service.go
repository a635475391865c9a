// Package services – GroupService
//
// GroupService is the registry of consensus machines. It creates one machine
// per group on first use, seeds it with the group's latest committed
// document, applies per-group overrides, and routes messages, votes and
// reactions to the right machine. It also implements publish.InboundHandler
// so the Redis inbound stream can feed it directly.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include the group id and, where applicable, the draft id.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/domain"
	"github.com/tbourn/groupwrite/internal/publish"
	"github.com/tbourn/groupwrite/internal/repo"
	"github.com/tbourn/groupwrite/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxIDLen = 128

// GroupDefaults is the consensus configuration every group starts from.
type GroupDefaults struct {
	Threshold         int
	Retrigger         consensus.RetriggerPolicy
	Rule              consensus.Rule
	GenerationTimeout time.Duration
	Rewards           consensus.DispatcherConfig
}

// GroupOverride adjusts the defaults for a single group. Zero values keep
// the default.
type GroupOverride struct {
	InstanceID     string
	Threshold      int
	ApprovalMargin int
	VotingTTL      time.Duration
	RewardTotal    *decimal.Decimal
}

// GroupService owns the per-group machines.
type GroupService struct {
	DB        *gorm.DB
	Store     *Store
	Generator consensus.Generator
	Publisher consensus.Publisher
	Ledger    consensus.Ledger
	Defaults  GroupDefaults
	Overrides map[string]GroupOverride
	Logger    zerolog.Logger

	// NewID overrides draft id generation in tests.
	NewID func() string

	mu       sync.Mutex
	machines map[string]*consensus.Machine
	closed   bool
}

var _ publish.InboundHandler = (*GroupService)(nil)

// NewGroupService wires a registry. ledger may be nil, in which case approved
// drafts are committed without rewards.
func NewGroupService(db *gorm.DB, gen consensus.Generator, pub consensus.Publisher, ledger consensus.Ledger, defaults GroupDefaults, overrides map[string]GroupOverride, log zerolog.Logger) *GroupService {
	return &GroupService{
		DB:        db,
		Store:     NewStore(db),
		Generator: gen,
		Publisher: pub,
		Ledger:    ledger,
		Defaults:  defaults,
		Overrides: overrides,
		Logger:    log,
		machines:  make(map[string]*consensus.Machine),
	}
}

func normalizeGroupID(groupID string) (string, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" || utf8.RuneCountInString(groupID) > maxIDLen {
		return "", ErrInvalidGroupID
	}
	return groupID, nil
}

// Machine returns the machine of a group, starting it if needed.
func (s *GroupService) Machine(ctx context.Context, groupID string) (*consensus.Machine, error) {
	groupID, err := normalizeGroupID(groupID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	if m, ok := s.machines[groupID]; ok {
		return m, nil
	}

	doc, err := s.Store.LatestDocument(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if n, err := repo.AbandonPendingDrafts(ctx, s.DB, groupID, "abandoned", time.Now().UTC()); err != nil {
		return nil, err
	} else if n > 0 {
		s.Logger.Warn().Str("group_id", groupID).Int64("drafts", n).Msg("abandoned drafts left pending by a previous run")
	}

	cfg, total := s.configFor(groupID)
	cfg.Initial = doc

	var rewards consensus.Rewarder
	if s.Ledger != nil {
		dcfg := s.Defaults.Rewards
		dcfg.Total = total
		dcfg.Logger = s.Logger.With().Str("group_id", groupID).Logger()
		rewards = &groupRewarder{
			groupID:    groupID,
			instanceID: cfg.InstanceID,
			db:         s.DB,
			dispatcher: consensus.NewDispatcher(s.Ledger, s.Store, dcfg),
		}
	}

	m := consensus.NewMachine(cfg, s.Generator, s.Publisher, rewards, s.Store)
	s.machines[groupID] = m
	s.Logger.Info().Str("group_id", groupID).Int("version", doc.Version).Int("threshold", cfg.Threshold).Msg("group machine started")
	return m, nil
}

func (s *GroupService) configFor(groupID string) (consensus.Config, decimal.Decimal) {
	cfg := consensus.Config{
		GroupID:           groupID,
		Threshold:         s.Defaults.Threshold,
		Retrigger:         s.Defaults.Retrigger,
		Rule:              s.Defaults.Rule,
		GenerationTimeout: s.Defaults.GenerationTimeout,
		NewID:             s.NewID,
		Logger:            s.Logger,
	}
	total := s.Defaults.Rewards.Total

	o, ok := s.Overrides[groupID]
	if !ok {
		return cfg, total
	}
	cfg.InstanceID = o.InstanceID
	if o.Threshold > 0 {
		cfg.Threshold = o.Threshold
	}
	if o.ApprovalMargin > 0 {
		cfg.Rule.ApprovalMargin = o.ApprovalMargin
	}
	if o.VotingTTL > 0 {
		cfg.Rule.TTL = o.VotingTTL
	}
	if o.RewardTotal != nil {
		total = *o.RewardTotal
	}
	return cfg, total
}

// Ingest normalizes a message and offers it to the group's machine.
func (s *GroupService) Ingest(ctx context.Context, groupID, senderID, text string, at time.Time) (consensus.IngestResult, error) {
	ctx, span := otel.Tracer("services/GroupService").Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("sender.id", senderID),
		),
	)
	defer span.End()

	m, err := s.Machine(ctx, groupID)
	if err != nil {
		return consensus.IngestResult{}, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return m.Ingest(ctx, consensus.Message{
		SenderID:   strings.TrimSpace(senderID),
		Text:       norm.NFC.String(strings.TrimSpace(text)),
		ReceivedAt: at.UTC(),
	})
}

// Snapshot returns the current document and machine state of a group.
func (s *GroupService) Snapshot(ctx context.Context, groupID string) (consensus.Snapshot, error) {
	ctx, span := otel.Tracer("services/GroupService").Start(ctx, "Snapshot",
		trace.WithAttributes(attribute.String("group.id", groupID)),
	)
	defer span.End()

	m, err := s.Machine(ctx, groupID)
	if err != nil {
		return consensus.Snapshot{}, err
	}
	return m.Snapshot(ctx)
}

// Override replaces the group's document out-of-band.
func (s *GroupService) Override(ctx context.Context, groupID, content string) (consensus.Document, error) {
	ctx, span := otel.Tracer("services/GroupService").Start(ctx, "Override",
		trace.WithAttributes(attribute.String("group.id", groupID)),
	)
	defer span.End()

	content = norm.NFC.String(strings.TrimSpace(content))
	if content == "" {
		return consensus.Document{}, ErrEmptyContent
	}
	m, err := s.Machine(ctx, groupID)
	if err != nil {
		return consensus.Document{}, err
	}
	return m.Override(ctx, content)
}

// Vote casts voterID's choice on a draft. A draft the machine no longer
// remembers is looked up in the audit trail so that votes on drafts resolved
// before a restart still report ErrDraftAlreadyResolved.
func (s *GroupService) Vote(ctx context.Context, groupID, draftID, voterID, choice string) (consensus.Verdict, error) {
	ctx, span := otel.Tracer("services/GroupService").Start(ctx, "Vote",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("draft.id", draftID),
			attribute.String("voter.id", voterID),
		),
	)
	defer span.End()

	m, err := s.Machine(ctx, groupID)
	if err != nil {
		return "", err
	}
	c := consensus.Choice(strings.ToLower(strings.TrimSpace(choice)))
	v, err := m.Vote(ctx, draftID, strings.TrimSpace(voterID), c)
	if errors.Is(err, consensus.ErrUnknownDraft) {
		return "", s.unknownDraft(ctx, m.GroupID(), draftID)
	}
	return v, err
}

func (s *GroupService) unknownDraft(ctx context.Context, groupID, draftID string) error {
	d, err := repo.GetDraft(ctx, s.DB, groupID, draftID)
	if err != nil || d.Status == string(consensus.DraftPending) {
		return consensus.ErrUnknownDraft
	}
	return consensus.ErrDraftAlreadyResolved
}

// React maps a reaction kind to a vote on the draft published under ref.
func (s *GroupService) React(ctx context.Context, groupID, ref, voterID, kind string) (consensus.Verdict, error) {
	ctx, span := otel.Tracer("services/GroupService").Start(ctx, "React",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.String("ref", ref),
			attribute.String("reaction", kind),
		),
	)
	defer span.End()

	choice, err := consensus.ChoiceForReaction(kind)
	if err != nil {
		return "", err
	}
	m, err := s.Machine(ctx, groupID)
	if err != nil {
		return "", err
	}
	return m.React(ctx, ref, strings.TrimSpace(voterID), choice)
}

// ListDrafts returns a page of the group's draft history, newest first.
func (s *GroupService) ListDrafts(ctx context.Context, groupID string, page, pageSize int) ([]domain.DraftRecord, int64, error) {
	ctx, span := otel.Tracer("services/GroupService").Start(ctx, "ListDrafts",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	groupID, err := normalizeGroupID(groupID)
	if err != nil {
		return nil, 0, err
	}
	page, pageSize = clampPage(page, pageSize)

	total, err := repo.CountDrafts(ctx, s.DB, groupID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.DraftRecord{}, 0, nil
	}
	items, err := repo.ListDraftsPage(ctx, s.DB, groupID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// GetDraft returns one draft of the group's history.
func (s *GroupService) GetDraft(ctx context.Context, groupID, draftID string) (*domain.DraftRecord, error) {
	groupID, err := normalizeGroupID(groupID)
	if err != nil {
		return nil, err
	}
	d, err := repo.GetDraft(ctx, s.DB, groupID, draftID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDraftNotFound
	}
	return d, err
}

// Sweep re-evaluates pending drafts of every running machine so voting TTLs
// fire even when no timer is armed (for example after a clock jump).
func (s *GroupService) Sweep(ctx context.Context) {
	for _, m := range s.running() {
		if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, consensus.ErrMachineClosed) {
			s.Logger.Warn().Err(err).Str("group_id", m.GroupID()).Msg("sweep")
		}
	}
}

// Wait blocks until background work of every machine has finished.
func (s *GroupService) Wait() {
	for _, m := range s.running() {
		m.Wait()
	}
}

// Close stops all machines and waits for in-flight reward dispatches.
func (s *GroupService) Close() {
	s.mu.Lock()
	s.closed = true
	ms := s.machines
	s.machines = map[string]*consensus.Machine{}
	s.mu.Unlock()

	for _, m := range ms {
		m.Close()
	}
}

func (s *GroupService) running() []*consensus.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*consensus.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		out = append(out, m)
	}
	return out
}

// HandleMessage implements publish.InboundHandler.
func (s *GroupService) HandleMessage(ctx context.Context, groupID, senderID, text string, at time.Time) error {
	_, err := s.Ingest(ctx, groupID, senderID, text, at)
	if errors.Is(err, consensus.ErrDraftPending) {
		return nil
	}
	return err
}

// HandleReaction implements publish.InboundHandler. Reactions that carry no
// vote, or target a draft that is gone, are ignored.
func (s *GroupService) HandleReaction(ctx context.Context, groupID, ref, voterID, kind string) error {
	_, err := s.React(ctx, groupID, ref, voterID, kind)
	switch {
	case errors.Is(err, consensus.ErrUnsupportedReaction),
		errors.Is(err, consensus.ErrUnknownDraft),
		errors.Is(err, consensus.ErrDraftAlreadyResolved):
		return nil
	}
	return err
}

// groupRewarder resolves the instance a group's rewards are reported against
// at distribution time: the configured instance, else the group's most
// recently registered open instance, else the draft id.
type groupRewarder struct {
	groupID    string
	instanceID string
	db         *gorm.DB
	dispatcher *consensus.Dispatcher
}

func (r *groupRewarder) Distribute(ctx context.Context, contributors []string, draftID, instanceID string) (consensus.Distribution, error) {
	if instanceID == "" {
		instanceID = r.instanceID
	}
	if instanceID == "" {
		if in, err := repo.LatestOpenInstance(ctx, r.db, r.groupID); err == nil {
			instanceID = in.ID
		}
	}
	return r.dispatcher.Distribute(ctx, contributors, draftID, instanceID)
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = utils.DefaultPageSize
	}
	if pageSize > utils.MaxPageSize {
		pageSize = utils.MaxPageSize
	}
	return page, pageSize
}
