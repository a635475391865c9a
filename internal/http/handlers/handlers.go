// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts consumed by the handlers, the
// Handlers wiring type and helpers shared by every endpoint (pagination,
// operator identity and consensus error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/domain"
	"github.com/tbourn/groupwrite/internal/http/middleware"
	"github.com/tbourn/groupwrite/internal/services"
	"github.com/tbourn/groupwrite/internal/utils"
)

//
// Service contracts (context-aware)
//

// GroupService defines the per-group consensus operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type GroupService interface {
	// Ingest offers a chat message to the group's buffer.
	Ingest(ctx context.Context, groupID, senderID, text string, at time.Time) (consensus.IngestResult, error)
	// Snapshot returns the current document and machine state.
	Snapshot(ctx context.Context, groupID string) (consensus.Snapshot, error)
	// Override replaces the document out-of-band and bumps its version.
	Override(ctx context.Context, groupID, content string) (consensus.Document, error)
	// Vote casts a voter's choice on a pending draft.
	Vote(ctx context.Context, groupID, draftID, voterID, choice string) (consensus.Verdict, error)
	// React maps an external reaction on a published draft to a vote.
	React(ctx context.Context, groupID, ref, voterID, kind string) (consensus.Verdict, error)
	// ListDrafts returns a page of the group's draft history and the total.
	ListDrafts(ctx context.Context, groupID string, page, pageSize int) ([]domain.DraftRecord, int64, error)
	// GetDraft returns one audited draft.
	GetDraft(ctx context.Context, groupID, draftID string) (*domain.DraftRecord, error)
}

// RewardService defines manual reward submission and the reward audit trail.
type RewardService interface {
	Submit(ctx context.Context, instanceID, rawAmount string) (*domain.RewardRecord, error)
	Get(ctx context.Context, id string) (*domain.RewardRecord, error)
	ListPage(ctx context.Context, instanceID string, page, pageSize int) ([]domain.RewardRecord, int64, error)
	Reconciliations(ctx context.Context, status string, page, pageSize int) ([]domain.Reconciliation, error)
	Reconcile(ctx context.Context, id, note string) (*domain.Reconciliation, error)
}

// InstanceService registers the units of work rewards are reported against.
type InstanceService interface {
	Register(ctx context.Context, id, groupID string) (*domain.Instance, error)
	Get(ctx context.Context, id string) (*domain.Instance, error)
	Close(ctx context.Context, id string) (*domain.Instance, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for groups, rewards and instances.
// It depends on abstract service interfaces to keep transport concerns
// separate from the consensus core.
type Handlers struct {
	groupSvc    GroupService
	rewardSvc   RewardService
	instanceSvc InstanceService

	// IdempotencyTTL is how long a recorded manual reward can be replayed.
	// Zero means 24h.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(groupSvc GroupService, rewardSvc RewardService, instanceSvc InstanceService) *Handlers {
	return &Handlers{groupSvc: groupSvc, rewardSvc: rewardSvc, instanceSvc: instanceSvc}
}

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"))
}

// voterID returns the explicit id from the body when set, else the operator
// id from the X-Operator-ID header.
func voterID(c *gin.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return middleware.OperatorID(c)
}

// failConsensus maps consensus and group-service errors to HTTP responses.
// Anything unrecognized becomes a 500.
func failConsensus(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidGroupID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid group id")
	case errors.Is(err, services.ErrEmptyContent):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, consensus.ErrInvalidChoice):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "choice must be approve or reject")
	case errors.Is(err, consensus.ErrUnsupportedReaction):
		fail(c, http.StatusUnprocessableEntity, ErrCodeUnsupported, "reaction carries no vote")
	case errors.Is(err, consensus.ErrUnknownDraft):
		fail(c, http.StatusNotFound, ErrCodeUnknownDraft, "unknown draft")
	case errors.Is(err, services.ErrDraftNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "draft not found")
	case errors.Is(err, consensus.ErrDraftAlreadyResolved):
		fail(c, http.StatusConflict, ErrCodeDraftResolved, "draft already resolved")
	case errors.Is(err, consensus.ErrDraftPending):
		fail(c, http.StatusConflict, ErrCodeDraftPending, "a draft is awaiting its verdict")
	case errors.Is(err, services.ErrServiceClosed), errors.Is(err, consensus.ErrMachineClosed):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "request cancelled")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
