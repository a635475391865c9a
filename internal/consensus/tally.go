package consensus

import (
	"time"
)

// Rule is the configurable decision rule applied by a Tally.
//
//   - Quorum: minimum number of votes before the margin test is applied.
//   - ApprovalMargin: approvals must exceed rejections by at least this much
//     (with at least one approval) for the draft to be Approved.
//   - RejectionMargin: rejections must exceed approvals by at least this much
//     for the draft to be Rejected.
//   - TTL: once elapsed, the draft is Approved if it has at least one approval
//     and rejections do not outnumber approvals, otherwise Rejected. Zero
//     disables the fallback.
type Rule struct {
	Quorum          int
	ApprovalMargin  int
	RejectionMargin int
	TTL             time.Duration
}

// normalized fills in the minimums the rule requires.
func (r Rule) normalized() Rule {
	if r.Quorum < 1 {
		r.Quorum = 1
	}
	if r.ApprovalMargin < 1 {
		r.ApprovalMargin = 1
	}
	if r.RejectionMargin < 1 {
		r.RejectionMargin = r.ApprovalMargin
	}
	if r.TTL < 0 {
		r.TTL = 0
	}
	return r
}

// Decide returns the verdict for the given counts. openedAt is the draft's
// creation time and now the evaluation time.
func (r Rule) Decide(approvals, rejections int, openedAt, now time.Time) Verdict {
	r = r.normalized()
	if approvals+rejections >= r.Quorum {
		if approvals >= 1 && approvals-rejections >= r.ApprovalMargin {
			return VerdictApproved
		}
		if rejections-approvals >= r.RejectionMargin {
			return VerdictRejected
		}
	}
	if r.TTL > 0 && !now.Before(openedAt.Add(r.TTL)) {
		if approvals >= 1 && rejections <= approvals {
			return VerdictApproved
		}
		return VerdictRejected
	}
	return VerdictPending
}

// Tally holds the votes of a single draft keyed by voter.
//
// Tally is not safe for concurrent use; the owning Machine serializes access,
// which makes each Cast an atomic upsert keyed by (draft, voter).
type Tally struct {
	draftID  string
	openedAt time.Time
	rule     Rule
	votes    map[string]Vote
	resolved Verdict
}

// NewTally opens a tally for draftID.
func NewTally(draftID string, openedAt time.Time, rule Rule) *Tally {
	return &Tally{
		draftID:  draftID,
		openedAt: openedAt,
		rule:     rule.normalized(),
		votes:    make(map[string]Vote),
		resolved: VerdictPending,
	}
}

// DraftID returns the draft the tally counts votes for.
func (t *Tally) DraftID() string { return t.draftID }

// Cast records or overwrites voterID's vote. Replaying the same choice is a
// no-op and reports changed=false.
func (t *Tally) Cast(draftID, voterID string, choice Choice, at time.Time) (changed bool, err error) {
	if draftID != t.draftID {
		return false, ErrUnknownDraft
	}
	if t.resolved != VerdictPending {
		return false, ErrDraftAlreadyResolved
	}
	if !choice.Valid() {
		return false, ErrInvalidChoice
	}
	if prev, ok := t.votes[voterID]; ok && prev.Choice == choice {
		return false, nil
	}
	t.votes[voterID] = Vote{VoterID: voterID, DraftID: draftID, Choice: choice, CastAt: at}
	return true, nil
}

// Counts returns the number of approvals and rejections.
func (t *Tally) Counts() (approvals, rejections int) {
	for _, v := range t.votes {
		switch v.Choice {
		case Approve:
			approvals++
		case Reject:
			rejections++
		}
	}
	return approvals, rejections
}

// Votes returns the number of distinct voters.
func (t *Tally) Votes() int { return len(t.votes) }

// Verdict applies the rule at time now. A terminal verdict is sticky.
func (t *Tally) Verdict(now time.Time) Verdict {
	if t.resolved != VerdictPending {
		return t.resolved
	}
	a, r := t.Counts()
	v := t.rule.Decide(a, r, t.openedAt, now)
	if v != VerdictPending {
		t.resolved = v
	}
	return v
}

// Deadline returns when the TTL fallback fires, or the zero time if the rule
// has no TTL.
func (t *Tally) Deadline() time.Time {
	if t.rule.TTL <= 0 {
		return time.Time{}
	}
	return t.openedAt.Add(t.rule.TTL)
}
