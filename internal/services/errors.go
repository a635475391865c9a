// Package services defines the application logic around the consensus
// machines: the group registry, manual rewards, instances and reconciliation.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer. Errors produced by the consensus core (for example
// consensus.ErrUnknownDraft) are passed through unchanged.
package services

import "errors"

// Group errors.
var (
	// ErrInvalidGroupID is returned for an empty or oversized group id.
	ErrInvalidGroupID = errors.New("invalid group id")

	// ErrEmptyContent is returned when an operator override carries no text.
	ErrEmptyContent = errors.New("document content is empty")

	// ErrDraftNotFound indicates that the requested draft does not exist in
	// the group's history.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrServiceClosed is returned once the group registry has been closed.
	ErrServiceClosed = errors.New("service closed")
)

// Reward and instance errors.
var (
	// ErrInvalidAmount is returned for unparsable or non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be a positive number")

	// ErrInvalidInstanceID is returned for an empty or oversized instance id.
	ErrInvalidInstanceID = errors.New("invalid instance id")

	// ErrUnknownInstance is returned when a reward references an instance
	// that was never registered.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrInstanceExists is returned when registering an instance id twice.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrLedgerNotConfigured is returned for manual rewards when no reward
	// ledger is wired.
	ErrLedgerNotConfigured = errors.New("reward ledger not configured")

	// ErrReconciliationNotFound indicates an unknown reconciliation entry.
	ErrReconciliationNotFound = errors.New("reconciliation not found")

	// ErrAlreadyReconciled is returned when resolving an entry twice.
	ErrAlreadyReconciled = errors.New("reconciliation already resolved")
)
