package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInternalFault is returned to the caller whose event hit an unexpected
// fault. The machine itself has already reset to Idle.
var ErrInternalFault = errors.New("internal fault")

// Generator produces a proposed document from the current document and the
// pending messages. current may be empty; pending is never empty.
type Generator interface {
	Generate(ctx context.Context, current Document, pending []Message) (string, error)
}

// Publisher posts a draft to the group and returns a reference under which
// reactions to it will be reported.
type Publisher interface {
	Publish(ctx context.Context, groupID, draftID, content string) (ref string, err error)
}

// Rewarder distributes the reward of an approved draft.
type Rewarder interface {
	Distribute(ctx context.Context, contributors []string, draftID, instanceID string) (Distribution, error)
}

// Journal observes durable facts produced by the machine. Errors are logged
// and never change the machine's state.
type Journal interface {
	DraftOpened(ctx context.Context, groupID string, d Draft) error
	DraftResolved(ctx context.Context, groupID string, d Draft, approvals, rejections int, reason string) error
	DocumentCommitted(ctx context.Context, groupID string, doc Document, draftID string) error
}

// Config configures a Machine.
type Config struct {
	GroupID    string
	InstanceID string

	Threshold int
	Retrigger RetriggerPolicy
	Rule      Rule

	// GenerationTimeout bounds one generate+publish round trip. A response
	// arriving after it has elapsed is discarded.
	GenerationTimeout time.Duration

	// Initial is the document the machine starts from (e.g. restored from
	// storage).
	Initial Document

	Now    func() time.Time
	NewID  func() string
	Logger zerolog.Logger
}

// IngestResult describes what happened to an ingested message.
type IngestResult struct {
	Accepted  bool `json:"accepted"`
	Triggered bool `json:"triggered"`
	Buffered  int  `json:"buffered"`
}

// resolvedKeep bounds how many resolved draft ids are remembered for
// DraftAlreadyResolved answers.
const resolvedKeep = 1024

// Machine is the document state machine of one group. All state below the
// mutex-free section is owned by the run goroutine.
type Machine struct {
	cfg     Config
	gen     Generator
	pub     Publisher
	rewards Rewarder
	journal Journal
	log     zerolog.Logger

	events    chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	bg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	state         State
	doc           Document
	buf           *Buffer
	draft         *Draft
	tally         *Tally
	inflight      []Message
	cycle         uint64
	refs          map[string]string
	resolved      map[string]Verdict
	resolvedRefs  map[string]string
	resolvedOrder []string
	draftTimer    *time.Timer
	ttlTimer      *time.Timer
}

// NewMachine starts a machine. rewards and journal may be nil; a nil
// publisher uses the draft id as its published reference.
func NewMachine(cfg Config, gen Generator, pub Publisher, rewards Rewarder, journal Journal) *Machine {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = time.Minute
	}
	if cfg.Retrigger == "" {
		cfg.Retrigger = RetriggerImmediate
	}
	if pub == nil {
		pub = idPublisher{}
	}
	if journal == nil {
		journal = nopJournal{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		cfg:      cfg,
		gen:      gen,
		pub:      pub,
		rewards:  rewards,
		journal:  journal,
		log:      cfg.Logger.With().Str("group_id", cfg.GroupID).Logger(),
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		doc:      cfg.Initial.clone(),
		buf:      NewBuffer(cfg.Threshold, cfg.Retrigger),
		refs:         make(map[string]string),
		resolved:     make(map[string]Verdict),
		resolvedRefs: make(map[string]string),
	}
	go m.run()
	return m
}

// GroupID returns the group this machine serves.
func (m *Machine) GroupID() string { return m.cfg.GroupID }

// Close stops the event loop, cancels in-flight I/O and waits for background
// work (generation calls and reward dispatches) to return.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.stopped
		m.cancel()
		m.bg.Wait()
	})
}

// Wait blocks until all background work started so far has finished. It is
// mostly useful in tests and during graceful shutdown.
func (m *Machine) Wait() { m.bg.Wait() }

// Ingest offers a message to the machine.
func (m *Machine) Ingest(ctx context.Context, msg Message) (IngestResult, error) {
	var (
		res IngestResult
		err error
	)
	ferr := m.do(ctx, func() { res, err = m.ingest(msg) })
	if ferr != nil {
		return IngestResult{}, ferr
	}
	return res, err
}

// Vote records voterID's choice on draftID and returns the verdict after the
// vote has been applied.
func (m *Machine) Vote(ctx context.Context, draftID, voterID string, choice Choice) (Verdict, error) {
	var (
		v   Verdict
		err error
	)
	ferr := m.do(ctx, func() { v, err = m.vote(draftID, voterID, choice) })
	if ferr != nil {
		return "", ferr
	}
	return v, err
}

// React records a vote reported against a published reference.
func (m *Machine) React(ctx context.Context, ref, voterID string, choice Choice) (Verdict, error) {
	var (
		v   Verdict
		err error
	)
	ferr := m.do(ctx, func() {
		id, ok := m.refs[ref]
		if !ok {
			err = ErrUnknownDraft
			votesTotal.WithLabelValues("rejected").Inc()
			return
		}
		v, err = m.vote(id, voterID, choice)
	})
	if ferr != nil {
		return "", ferr
	}
	return v, err
}

// Sweep re-evaluates the pending draft against the current time so the TTL
// fallback can fire without a new vote.
func (m *Machine) Sweep(ctx context.Context) (Verdict, error) {
	v := VerdictPending
	err := m.do(ctx, func() {
		if m.draft != nil {
			v = m.evaluate(m.draft.ID)
		}
	})
	return v, err
}

// Override replaces the document content out-of-band and bumps the version.
// A draft pending at that moment can no longer be committed.
func (m *Machine) Override(ctx context.Context, content string) (Document, error) {
	var doc Document
	err := m.do(ctx, func() {
		m.doc.Content = content
		m.doc.Version++
		doc = m.doc.clone()
		if jerr := m.journal.DocumentCommitted(m.ctx, m.cfg.GroupID, doc, ""); jerr != nil {
			m.log.Error().Err(jerr).Msg("journal override")
		}
		m.log.Info().Int("version", doc.Version).Msg("document overridden")
	})
	return doc, err
}

// Snapshot returns a consistent view of the machine.
func (m *Machine) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := m.do(ctx, func() {
		s = Snapshot{
			GroupID:  m.cfg.GroupID,
			State:    m.state,
			Document: m.doc.clone(),
			Buffered: m.buf.Len(),
		}
		if m.draft != nil {
			d := *m.draft
			d.SourceMessages = append([]Message(nil), m.draft.SourceMessages...)
			s.PendingDraft = &d
		}
	})
	return s, err
}

// ---- event loop ----

func (m *Machine) run() {
	defer close(m.stopped)
	for {
		select {
		case ev := <-m.events:
			m.safely(ev)
		case <-m.done:
			m.stopTimers()
			return
		}
	}
}

// safely runs one event and converts a panic into a reset to Idle.
func (m *Machine) safely(ev func()) {
	defer func() {
		if r := recover(); r != nil {
			m.fault(r)
		}
	}()
	ev()
}

// do runs fn on the loop and waits for it.
func (m *Machine) do(ctx context.Context, fn func()) error {
	select {
	case <-m.done:
		return ErrMachineClosed
	default:
	}
	finished := make(chan struct{})
	faulted := false
	ev := func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				faulted = true
				panic(r)
			}
		}()
		fn()
	}
	select {
	case m.events <- ev:
	case <-m.done:
		return ErrMachineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		if faulted {
			return ErrInternalFault
		}
		return nil
	case <-m.stopped:
		return ErrMachineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues fn from a background goroutine without waiting.
func (m *Machine) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.done:
	}
}

func (m *Machine) fault(r any) {
	faultsTotal.Inc()
	ev := m.log.Error().Interface("panic", r).Str("state", string(m.state))
	if m.draft != nil {
		ev = ev.Str("draft_id", m.draft.ID)
	}
	ev.Int("dropped_messages", len(m.inflight)).Msg("unexpected fault; resetting to idle")

	m.stopTimers()
	if m.draft != nil {
		m.remember(m.draft.ID, m.draft.PublishedRef, VerdictRejected)
	}
	m.draft = nil
	m.tally = nil
	m.inflight = nil
	m.cycle++
	m.state = StateIdle
}

// ---- transitions ----

func (m *Machine) ingest(msg Message) (IngestResult, error) {
	if !IsTextMessage(msg) {
		messagesTotal.WithLabelValues("filtered").Inc()
		return IngestResult{Buffered: m.buf.Len()}, nil
	}
	if m.state == StateVoting || m.state == StateCommitting {
		messagesTotal.WithLabelValues("held_pending").Inc()
		return IngestResult{Buffered: m.buf.Len()}, ErrDraftPending
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = m.cfg.Now()
	}
	full, _ := m.buf.Ingest(msg)
	messagesTotal.WithLabelValues("buffered").Inc()

	res := IngestResult{Accepted: true, Buffered: m.buf.Len()}
	if m.state == StateIdle && full {
		m.startDrafting()
		res.Triggered = true
		res.Buffered = m.buf.Len()
	}
	return res, nil
}

// startDrafting drains the buffer and issues the generation call off-loop.
// Messages arriving meanwhile accumulate in a fresh buffer.
func (m *Machine) startDrafting() {
	msgs := m.buf.Drain()
	m.buf = NewBuffer(m.cfg.Threshold, m.cfg.Retrigger)
	m.inflight = msgs
	m.cycle++
	m.state = StateDrafting

	cycle := m.cycle
	draftID := m.cfg.NewID()
	doc := m.doc.clone()
	pending := append([]Message(nil), msgs...)
	timeout := m.cfg.GenerationTimeout

	m.log.Info().Str("draft_id", draftID).Int("messages", len(msgs)).Int("version", doc.Version).Msg("generating draft")

	m.draftTimer = time.AfterFunc(timeout, func() {
		m.post(func() { m.draftingExpired(cycle) })
	})

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, timeout)
		defer cancel()

		content, ref, err := m.generateAndPublish(ctx, doc, pending, draftID)
		m.post(func() { m.generated(cycle, draftID, doc.Version, content, ref, err) })
	}()
}

func (m *Machine) generateAndPublish(ctx context.Context, doc Document, pending []Message, draftID string) (content, ref string, err error) {
	content, err = m.gen.Generate(ctx, doc, pending)
	if err == nil && strings.TrimSpace(content) == "" {
		err = errors.New("empty proposal")
	}
	if err != nil {
		if errors.Is(err, ErrGenerationFailed) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	ref, err = m.pub.Publish(ctx, m.cfg.GroupID, draftID, content)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return content, ref, nil
}

// generated opens the draft produced from the document at version base.
// An override landing while Drafting leaves base behind the current version,
// so the commit guard rejects the draft.
func (m *Machine) generated(cycle uint64, draftID string, base int, content, ref string, err error) {
	if cycle != m.cycle || m.state != StateDrafting {
		m.log.Warn().Str("draft_id", draftID).Err(err).Msg("discarding late generation response")
		return
	}
	if m.draftTimer != nil {
		m.draftTimer.Stop()
		m.draftTimer = nil
	}
	if err != nil {
		m.failDrafting(draftID, err)
		return
	}

	now := m.cfg.Now()
	d := &Draft{
		ID:              draftID,
		ProposedContent: content,
		BasedOnVersion:  base,
		SourceMessages:  m.inflight,
		CreatedAt:       now,
		Status:          DraftPending,
		PublishedRef:    ref,
	}
	m.inflight = nil
	m.draft = d
	m.tally = NewTally(d.ID, now, m.cfg.Rule)
	if ref != "" {
		m.refs[ref] = d.ID
	}
	m.state = StateVoting

	if deadline := m.tally.Deadline(); !deadline.IsZero() {
		id := d.ID
		m.ttlTimer = time.AfterFunc(deadline.Sub(now), func() {
			m.post(func() { m.evaluate(id) })
		})
	}
	if jerr := m.journal.DraftOpened(m.ctx, m.cfg.GroupID, *d); jerr != nil {
		m.log.Error().Err(jerr).Str("draft_id", d.ID).Msg("journal draft")
	}
	m.log.Info().Str("draft_id", d.ID).Str("ref", ref).Int("based_on_version", d.BasedOnVersion).Msg("draft published")
}

func (m *Machine) draftingExpired(cycle uint64) {
	if cycle != m.cycle || m.state != StateDrafting {
		return
	}
	m.draftTimer = nil
	m.failDrafting("", fmt.Errorf("%w: %w", ErrGenerationFailed, context.DeadlineExceeded))
}

// failDrafting returns the drained messages to the front of the buffer.
func (m *Machine) failDrafting(draftID string, err error) {
	generationFailures.Inc()
	m.buf.Restore(m.inflight)
	m.log.Warn().Err(err).Str("draft_id", draftID).Int("restored", len(m.inflight)).Msg("draft generation failed; messages re-buffered")
	m.inflight = nil
	m.state = StateIdle
}

func (m *Machine) vote(draftID, voterID string, choice Choice) (Verdict, error) {
	if m.draft == nil || m.draft.ID != draftID {
		votesTotal.WithLabelValues("rejected").Inc()
		if _, ok := m.resolved[draftID]; ok {
			return "", ErrDraftAlreadyResolved
		}
		return "", ErrUnknownDraft
	}
	changed, err := m.tally.Cast(draftID, voterID, choice, m.cfg.Now())
	if err != nil {
		votesTotal.WithLabelValues("rejected").Inc()
		return "", err
	}
	if changed {
		votesTotal.WithLabelValues("recorded").Inc()
	} else {
		votesTotal.WithLabelValues("replay").Inc()
	}
	return m.evaluate(draftID), nil
}

// evaluate applies the decision rule to the pending draft and resolves it on
// a terminal verdict.
func (m *Machine) evaluate(draftID string) Verdict {
	if m.draft == nil || m.draft.ID != draftID {
		if v, ok := m.resolved[draftID]; ok {
			return v
		}
		return VerdictPending
	}
	v := m.tally.Verdict(m.cfg.Now())
	if v == VerdictPending {
		return v
	}
	return m.resolve(v)
}

func (m *Machine) resolve(v Verdict) Verdict {
	if m.ttlTimer != nil {
		m.ttlTimer.Stop()
		m.ttlTimer = nil
	}
	d := m.draft
	approvals, rejections := m.tally.Counts()
	reason := string(v)

	if v == VerdictApproved && d.BasedOnVersion != m.doc.Version {
		m.log.Warn().
			Err(ErrStaleDraft).
			Str("draft_id", d.ID).
			Int("based_on_version", d.BasedOnVersion).
			Int("version", m.doc.Version).
			Msg("approved draft is stale; rejecting")
		v = VerdictRejected
		reason = "stale"
	}

	if v == VerdictApproved {
		m.state = StateCommitting
		d.Status = DraftApproved
		m.commit(d)
	} else {
		d.Status = DraftRejected
	}
	draftsTotal.WithLabelValues(reason).Inc()

	if jerr := m.journal.DraftResolved(m.ctx, m.cfg.GroupID, *d, approvals, rejections, reason); jerr != nil {
		m.log.Error().Err(jerr).Str("draft_id", d.ID).Msg("journal verdict")
	}
	m.log.Info().Str("draft_id", d.ID).Str("verdict", reason).Int("approvals", approvals).Int("rejections", rejections).Msg("draft resolved")

	m.remember(d.ID, d.PublishedRef, v)
	m.draft = nil
	m.tally = nil
	m.state = StateIdle

	// Messages buffered while Drafting may already fill the buffer.
	if m.buf.Ready() {
		m.startDrafting()
	}
	return v
}

// commit applies an approved draft and hands the contributors to the
// rewarder off-loop.
func (m *Machine) commit(d *Draft) {
	contributors := d.Senders()
	doc := Document{
		Content:      d.ProposedContent,
		Version:      m.doc.Version + 1,
		Contributors: contributors,
	}
	if jerr := m.journal.DocumentCommitted(m.ctx, m.cfg.GroupID, doc, d.ID); jerr != nil {
		m.log.Error().Err(jerr).Str("draft_id", d.ID).Msg("journal commit")
	}
	m.doc = doc.clone()
	m.log.Info().Str("draft_id", d.ID).Int("version", doc.Version).Strs("contributors", contributors).Msg("draft committed")

	if m.rewards == nil {
		return
	}
	draftID := d.ID
	instanceID := m.cfg.InstanceID
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		dist, err := m.rewards.Distribute(m.ctx, contributors, draftID, instanceID)
		if err != nil {
			m.log.Error().Err(err).Str("draft_id", draftID).Msg("distribute rewards")
			return
		}
		m.log.Info().
			Str("draft_id", draftID).
			Int("submitted", len(dist.Records)).
			Int("pending_reconciliation", len(dist.Failures)).
			Msg("rewards distributed")
	}()
}

// remember records a resolved draft. Its published ref stays mapped so late
// reactions are answered with ErrDraftAlreadyResolved until it is evicted.
func (m *Machine) remember(id, ref string, v Verdict) {
	if _, ok := m.resolved[id]; ok {
		return
	}
	m.resolved[id] = v
	if ref != "" {
		m.refs[ref] = id
		m.resolvedRefs[id] = ref
	}
	m.resolvedOrder = append(m.resolvedOrder, id)
	if len(m.resolvedOrder) > resolvedKeep {
		old := m.resolvedOrder[0]
		m.resolvedOrder = m.resolvedOrder[1:]
		delete(m.resolved, old)
		if r, ok := m.resolvedRefs[old]; ok {
			delete(m.refs, r)
			delete(m.resolvedRefs, old)
		}
	}
}

func (m *Machine) stopTimers() {
	if m.draftTimer != nil {
		m.draftTimer.Stop()
		m.draftTimer = nil
	}
	if m.ttlTimer != nil {
		m.ttlTimer.Stop()
		m.ttlTimer = nil
	}
}

// idPublisher is used when no publication channel is configured.
type idPublisher struct{}

func (idPublisher) Publish(_ context.Context, _, draftID, _ string) (string, error) {
	return draftID, nil
}

type nopJournal struct{}

func (nopJournal) DraftOpened(context.Context, string, Draft) error { return nil }
func (nopJournal) DraftResolved(context.Context, string, Draft, int, int, string) error {
	return nil
}
func (nopJournal) DocumentCommitted(context.Context, string, Document, string) error { return nil }
