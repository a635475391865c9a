package consensus

import "errors"

var (
	// ErrGenerationFailed wraps any transport or service failure of the
	// draft generator. It is recovered locally by re-buffering.
	ErrGenerationFailed = errors.New("draft generation failed")

	// ErrPublishFailed is returned when a generated draft could not be
	// published. It is recovered the same way as ErrGenerationFailed.
	ErrPublishFailed = errors.New("draft publication failed")

	// ErrStaleDraft marks a draft whose base version no longer matches the
	// document at verdict time. Such drafts are rejected.
	ErrStaleDraft = errors.New("stale draft")

	// ErrUnknownDraft is returned for votes on a draft id the machine never
	// produced.
	ErrUnknownDraft = errors.New("unknown draft")

	// ErrDraftAlreadyResolved is returned for votes on a draft that already
	// has a verdict.
	ErrDraftAlreadyResolved = errors.New("draft already resolved")

	// ErrDraftPending is returned when a message arrives while a draft is
	// awaiting its verdict; the message is not buffered.
	ErrDraftPending = errors.New("draft pending")

	// ErrInvalidChoice is returned for votes that are neither approve nor reject.
	ErrInvalidChoice = errors.New("invalid vote choice")

	// ErrUnsupportedReaction is returned by the reaction adapter for reaction
	// kinds that carry no vote.
	ErrUnsupportedReaction = errors.New("unsupported reaction")

	// ErrLedgerSubmissionFailed is recorded when a recipient's reward could
	// not be submitted after all retries.
	ErrLedgerSubmissionFailed = errors.New("ledger submission failed")

	// ErrMachineClosed is returned by operations on a stopped machine.
	ErrMachineClosed = errors.New("machine closed")
)
