// Reward HTTP handlers.
//
// This file exposes REST endpoints for rewards:
//   - POST /rewards                          (manual reward, Idempotency-Key aware)
//   - GET  /rewards                          (list reward records, ETag support)
//   - GET  /reconciliations                  (failed ledger submissions)
//   - POST /reconciliations/{id}/resolve     (mark an entry reconciled)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// submission exists for (route, caller, key), the handler returns the recorded
// reward and sets `Idempotency-Replayed: true` without touching the ledger.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/groupwrite/internal/consensus"
	"github.com/tbourn/groupwrite/internal/domain"
	"github.com/tbourn/groupwrite/internal/http/middleware"
	"github.com/tbourn/groupwrite/internal/repo"
	"github.com/tbourn/groupwrite/internal/services"
)

const defaultIdempotencyTTL = 24 * time.Hour

//
// DTOs
//

// PostRewardRequest is the JSON payload of a manual reward.
type PostRewardRequest struct {
	// InstanceID must reference a registered instance.
	InstanceID string `json:"instance_id" binding:"required,max=128" example:"inst-42"`
	// Amount is a positive decimal; "," is accepted as decimal separator.
	Amount string `json:"amount" binding:"required" example:"0,25"`
}

// ListRewardsResponse wraps a page of reward records and pagination information.
type ListRewardsResponse struct {
	Rewards    []domain.RewardRecord `json:"rewards"`
	Pagination Pagination            `json:"pagination"`
}

// ListReconciliationsResponse wraps a page of reconciliation entries.
type ListReconciliationsResponse struct {
	Reconciliations []domain.Reconciliation `json:"reconciliations"`
	Page            int                     `json:"page"`
	PageSize        int                     `json:"page_size"`
}

// ResolveReconciliationRequest optionally records how an entry was settled.
type ResolveReconciliationRequest struct {
	Note string `json:"note" example:"paid by bank transfer"`
}

//
// Helpers
//

// rewardDB returns the store behind the concrete reward service, if any.
func (h *Handlers) rewardDB() *gorm.DB {
	if svc, ok := h.rewardSvc.(*services.RewardService); ok {
		return svc.DB
	}
	return nil
}

func (h *Handlers) idempotencyTTL() time.Duration {
	if h.IdempotencyTTL > 0 {
		return h.IdempotencyTTL
	}
	return defaultIdempotencyTTL
}

func failReward(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeInvalidAmount, "amount must be a positive number")
	case errors.Is(err, services.ErrInvalidInstanceID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid instance id")
	case errors.Is(err, services.ErrUnknownInstance):
		fail(c, http.StatusUnprocessableEntity, ErrCodeUnknownInstance, "unknown instance")
	case errors.Is(err, services.ErrLedgerNotConfigured):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "reward ledger not configured")
	case errors.Is(err, consensus.ErrLedgerSubmissionFailed):
		fail(c, http.StatusBadGateway, ErrCodeLedgerFailed, err.Error())
	case errors.Is(err, services.ErrReconciliationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "reconciliation not found")
	case errors.Is(err, services.ErrAlreadyReconciled):
		fail(c, http.StatusConflict, ErrCodeConflict, "reconciliation already resolved")
	case errors.Is(err, repo.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "reward not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// PostReward godoc
// @ID          postReward
// @Summary     Submit a manual reward
// @Description Reports a reward for a registered instance to the ledger and records it.
// @Description Supports idempotency via the Idempotency-Key header (same key → same record).
// @Tags        Rewards
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID    header  string                       false "Operator submitting the reward"  example(ops-1)
// @Param       Idempotency-Key  header  string                       false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.PostRewardRequest   true  "Reward"
//
// @Success     201  {object}  domain.RewardRecord
// @Success     200  {object}  domain.RewardRecord  "Replayed result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     422  {object}  handlers.ErrorResponse  "Unknown instance"
// @Failure     502  {object}  handlers.ErrorResponse  "Ledger submission failed"
// @Failure     503  {object}  handlers.ErrorResponse  "No ledger configured"
// @Router      /rewards [post]
func (h *Handlers) PostReward(c *gin.Context) {
	ctx := c.Request.Context()

	var req PostRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "instance_id and amount required")
		return
	}

	db := h.rewardDB()
	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope, subject := middleware.IdempotencyScope(c)

	// Idempotency (replay path).
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, scope, subject, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := h.rewardSvc.Get(ctx, rec.ResourceID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	r, err := h.rewardSvc.Submit(ctx, req.InstanceID, req.Amount)
	if err != nil {
		failReward(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, scope, subject, idemKey, r.ID, http.StatusCreated, h.idempotencyTTL()); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("reward_id", r.ID).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, r)
}

// ListRewards godoc
// @ID          listRewards
// @Summary     List reward records (paginated)
// @Description Returns reward records newest first, optionally filtered by instance. Supports weak ETag.
// @Tags        Rewards
// @Produce     json
//
// @Param       instance_id    query   string  false "Filter by instance"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRewardsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rewards [get]
func (h *Handlers) ListRewards(c *gin.Context) {
	ctx := c.Request.Context()
	instanceID := strings.TrimSpace(c.Query("instance_id"))
	page, pageSize := clampPagination(c)

	if db := h.rewardDB(); db != nil {
		count, latest, err := repo.RewardsStats(ctx, db, instanceID)
		if err == nil {
			var ts int64
			if latest != nil {
				ts = latest.UnixNano()
			}
			etag := fmt.Sprintf(`W/"rewards:%s:%d:%d"`, instanceID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.rewardSvc.ListPage(ctx, instanceID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRewardsResponse{
		Rewards:    items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// ListReconciliations godoc
// @ID          listReconciliations
// @Summary     List reconciliation entries
// @Description Reward shares the ledger never accepted. Defaults to pending entries; status=all lists every entry.
// @Tags        Rewards
// @Produce     json
//
// @Param       status     query  string  false "pending, resolved or all"  default(pending)
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListReconciliationsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /reconciliations [get]
func (h *Handlers) ListReconciliations(c *gin.Context) {
	status := strings.ToLower(strings.TrimSpace(c.DefaultQuery("status", domain.ReconciliationPending)))
	switch status {
	case domain.ReconciliationPending, domain.ReconciliationResolved:
	case "all":
		status = ""
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be pending, resolved or all")
		return
	}
	page, pageSize := clampPagination(c)

	items, err := h.rewardSvc.Reconciliations(c.Request.Context(), status, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListReconciliationsResponse{Reconciliations: items, Page: page, PageSize: pageSize})
}

// ResolveReconciliation godoc
// @ID          resolveReconciliation
// @Summary     Mark a reconciliation entry resolved
// @Tags        Rewards
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                                    true  "Reconciliation ID"
// @Param       body  body  handlers.ResolveReconciliationRequest     false "Resolution note"
//
// @Success     200  {object} domain.Reconciliation
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Already resolved"
// @Router      /reconciliations/{id}/resolve [post]
func (h *Handlers) ResolveReconciliation(c *gin.Context) {
	var req ResolveReconciliationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	r, err := h.rewardSvc.Reconcile(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		failReward(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}
