// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, conflict) mirror common HTTP status
//     semantics to aid interoperability.
//   - Domain-specific codes (e.g., draft_pending, ledger_failed) are reserved for
//     consensus and reward outcomes that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "draft_resolved",
//	  "message": "draft already resolved"
//	}
package handlers

const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeRateLimited   = "too_many_requests"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeInternal      = "internal_error"
	ErrCodeUnprocessable = "unprocessable"

	// Domain-specific:
	ErrCodeDraftPending     = "draft_pending"
	ErrCodeDraftResolved    = "draft_resolved"
	ErrCodeUnknownDraft     = "unknown_draft"
	ErrCodeUnsupported      = "unsupported_reaction"
	ErrCodeUnknownInstance  = "unknown_instance"
	ErrCodeInvalidAmount    = "invalid_amount"
	ErrCodeLedgerFailed     = "ledger_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
