// Package consensus implements the per-group document state machine: message
// buffering, the update-trigger policy, draft generation handling, vote
// tallying and reward attribution for accepted drafts.
//
// Every group owns one Machine. A Machine serializes all events for its
// document on a single goroutine, so Document and Draft are never mutated
// concurrently. Network I/O (draft generation, publication, ledger
// submissions) always runs off that goroutine.
package consensus

import (
	"time"
)

// Message is a single inbound chat message attributed to a sender.
// It is immutable once buffered.
type Message struct {
	SenderID   string    `json:"sender_id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Document is the canonical consensus document of a group.
type Document struct {
	Content      string   `json:"content"`
	Version      int      `json:"version"`
	Contributors []string `json:"contributors"`
}

// clone returns a deep copy so callers never alias machine-owned slices.
func (d Document) clone() Document {
	out := d
	out.Contributors = append([]string(nil), d.Contributors...)
	return out
}

// DraftStatus is the lifecycle status of a Draft.
type DraftStatus string

const (
	DraftPending  DraftStatus = "pending"
	DraftApproved DraftStatus = "approved"
	DraftRejected DraftStatus = "rejected"
)

// Draft is a proposed, unconfirmed revision of the document.
type Draft struct {
	ID              string      `json:"id"`
	ProposedContent string      `json:"proposed_content"`
	BasedOnVersion  int         `json:"based_on_version"`
	SourceMessages  []Message   `json:"source_messages"`
	CreatedAt       time.Time   `json:"created_at"`
	Status          DraftStatus `json:"status"`
	PublishedRef    string      `json:"published_ref,omitempty"`
}

// Senders returns the distinct sender ids of the draft's source messages in
// order of first appearance.
func (d Draft) Senders() []string {
	seen := make(map[string]struct{}, len(d.SourceMessages))
	out := make([]string, 0, len(d.SourceMessages))
	for _, m := range d.SourceMessages {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		out = append(out, m.SenderID)
	}
	return out
}

// Choice is a binary vote on a draft.
type Choice string

const (
	Approve Choice = "approve"
	Reject  Choice = "reject"
)

// Valid reports whether c is one of the known choices.
func (c Choice) Valid() bool { return c == Approve || c == Reject }

// Vote is one voter's current choice on a draft.
type Vote struct {
	VoterID string    `json:"voter_id"`
	DraftID string    `json:"draft_id"`
	Choice  Choice    `json:"choice"`
	CastAt  time.Time `json:"cast_at"`
}

// Verdict is the outcome of applying the decision rule to a tally.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// State is the state of a Machine.
type State string

const (
	StateIdle       State = "idle"
	StateDrafting   State = "drafting"
	StateVoting     State = "voting"
	StateCommitting State = "committing"
)

// RetriggerPolicy decides what happens to the trigger predicate after a
// failed generation call.
type RetriggerPolicy string

const (
	// RetriggerImmediate keeps the restored messages counting toward the
	// threshold, so the next accepted message triggers generation again.
	RetriggerImmediate RetriggerPolicy = "immediate"
	// RetriggerReaccumulate requires a full threshold of new messages after
	// a failure before generation is attempted again.
	RetriggerReaccumulate RetriggerPolicy = "reaccumulate"
)

// Snapshot is a read-only view of a Machine.
type Snapshot struct {
	GroupID      string   `json:"group_id"`
	State        State    `json:"state"`
	Document     Document `json:"document"`
	Buffered     int      `json:"buffered"`
	PendingDraft *Draft   `json:"pending_draft,omitempty"`
}
