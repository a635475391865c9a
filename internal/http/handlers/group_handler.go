// Group HTTP handlers.
//
// This file exposes REST endpoints for a group's consensus document:
//   - POST /groups/{id}/messages                (ingest a chat message)
//   - GET  /groups/{id}/document                (current document and state)
//   - PUT  /groups/{id}/document                (operator override)
//   - GET  /groups/{id}/drafts                  (draft history, ETag support)
//   - GET  /groups/{id}/drafts/{draft}          (one audited draft)
//   - POST /groups/{id}/drafts/{draft}/votes    (cast a vote)
//   - POST /groups/{id}/reactions               (reaction on a published draft)
//
// Handlers are transport-thin: they validate input, call the group service and
// translate consensus outcomes into HTTP responses.
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
	"github.com/tbourn/groupwrite/internal/repo"
	"github.com/tbourn/groupwrite/internal/services"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload of an inbound chat message.
type PostMessageRequest struct {
	// SenderID identifies the group member who wrote the message.
	SenderID string `json:"sender_id" binding:"required,max=128" example:"alice"`
	// Text is the message body. Blank or non-text messages are filtered.
	Text string `json:"text" example:"Let's meet on Thursdays instead."`
	// Timestamp is when the message was sent. Defaults to the receive time.
	Timestamp *time.Time `json:"timestamp,omitempty" example:"2026-10-19T09:30:00Z"`
}

// PutDocumentRequest is the JSON payload of an operator override.
type PutDocumentRequest struct {
	Content string `json:"content" binding:"required" example:"# Team charter\n\nWe meet on Thursdays."`
}

// VoteRequest is the JSON payload of a vote.
type VoteRequest struct {
	// VoterID defaults to the X-Operator-ID header when empty.
	VoterID string `json:"voter_id" binding:"max=128" example:"bob"`
	// Choice is "approve" or "reject".
	Choice string `json:"choice" binding:"required" example:"approve"`
}

// ReactionRequest is the JSON payload of a reaction on a published draft.
type ReactionRequest struct {
	// Ref is the publication reference the draft was announced under.
	Ref     string `json:"ref" binding:"required" example:"1718000000000-0"`
	VoterID string `json:"voter_id" binding:"max=128" example:"carol"`
	// Kind is the reaction as sent by the chat platform (emoji).
	Kind string `json:"kind" binding:"required" example:"👍"`
}

// VerdictResponse reports the verdict of a draft after a vote.
type VerdictResponse struct {
	DraftID string            `json:"draft_id,omitempty" example:"5b0c7d2e-..."`
	Verdict consensus.Verdict `json:"verdict" example:"pending"`
}

// ListDraftsResponse wraps a page of drafts and pagination information.
type ListDraftsResponse struct {
	Drafts     []domain.DraftRecord `json:"drafts"`
	Pagination Pagination           `json:"pagination"`
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Ingest a group chat message
// @Description Buffers a message for the group. When the buffer reaches its threshold a draft is generated.
// @Description Messages arriving while a draft awaits its verdict are refused with 409 draft_pending.
// @Tags        Groups
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                        true  "Group ID"  example(team-a)
// @Param       body  body  handlers.PostMessageRequest   true  "Message"
//
// @Success     202  {object}  consensus.IngestResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Draft pending"
// @Failure     503  {object}  handlers.ErrorResponse  "Shutting down"
// @Router      /groups/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SenderID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sender_id required")
		return
	}
	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	res, err := h.groupSvc.Ingest(c.Request.Context(), c.Param("id"), req.SenderID, req.Text, at)
	if err != nil {
		failConsensus(c, err)
		return
	}
	ok(c, http.StatusAccepted, res)
}

// GetDocument godoc
// @ID          getDocument
// @Summary     Current group document
// @Description Returns the committed document, the machine state and the pending draft if any.
// @Tags        Groups
// @Produce     json
//
// @Param       id  path  string  true  "Group ID"  example(team-a)
//
// @Success     200  {object}  consensus.Snapshot
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Shutting down"
// @Router      /groups/{id}/document [get]
func (h *Handlers) GetDocument(c *gin.Context) {
	snap, err := h.groupSvc.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		failConsensus(c, err)
		return
	}
	c.Header("ETag", fmt.Sprintf(`W/"document:%s:%d"`, snap.GroupID, snap.Document.Version))
	ok(c, http.StatusOK, snap)
}

// PutDocument godoc
// @ID          putDocument
// @Summary     Override the group document
// @Description Replaces the document out-of-band and bumps its version. A pending draft becomes stale.
// @Tags        Groups
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID  header  string                        false "Operator performing the override"
// @Param       id             path    string                        true  "Group ID"  example(team-a)
// @Param       body           body    handlers.PutDocumentRequest   true  "New content"
//
// @Success     200  {object}  consensus.Document
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503  {object}  handlers.ErrorResponse  "Shutting down"
// @Router      /groups/{id}/document [put]
func (h *Handlers) PutDocument(c *gin.Context) {
	var req PutDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	doc, err := h.groupSvc.Override(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		failConsensus(c, err)
		return
	}
	ok(c, http.StatusOK, doc)
}

// ListDrafts godoc
// @ID          listDrafts
// @Summary     List a group's drafts (paginated)
// @Description Returns the group's draft history, newest first. Supports weak ETag via If-None-Match.
// @Tags        Groups
// @Produce     json
//
// @Param       id             path    string  true  "Group ID"                    example(team-a)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"              minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListDraftsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /groups/{id}/drafts [get]
func (h *Handlers) ListDrafts(c *gin.Context) {
	ctx := c.Request.Context()
	groupID := strings.TrimSpace(c.Param("id"))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.groupSvc.(*services.GroupService); ok {
		db = svc.DB
	}
	if db != nil {
		count, latest, err := repo.DraftsStats(ctx, db, groupID)
		if err == nil {
			var ts int64
			if latest != nil {
				ts = latest.UnixNano()
			}
			etag := fmt.Sprintf(`W/"drafts:%s:%d:%d"`, groupID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.groupSvc.ListDrafts(ctx, groupID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidGroupID) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid group id")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDraftsResponse{
		Drafts:     items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetDraft godoc
// @ID          getDraft
// @Summary     Get one draft
// @Tags        Groups
// @Produce     json
//
// @Param       id     path  string  true  "Group ID"  example(team-a)
// @Param       draft  path  string  true  "Draft ID"
//
// @Success     200  {object}  domain.DraftRecord
// @Failure     404  {object}  handlers.ErrorResponse  "Draft not found"
// @Router      /groups/{id}/drafts/{draft} [get]
func (h *Handlers) GetDraft(c *gin.Context) {
	d, err := h.groupSvc.GetDraft(c.Request.Context(), c.Param("id"), c.Param("draft"))
	if err != nil {
		failConsensus(c, err)
		return
	}
	ok(c, http.StatusOK, d)
}

// PostVote godoc
// @ID          postVote
// @Summary     Vote on a pending draft
// @Description Records or replaces the voter's choice. Votes on resolved drafts are rejected with 409.
// @Tags        Groups
// @Accept      json
// @Produce     json
//
// @Param       X-Operator-ID  header  string                 false "Voter when voter_id is omitted"
// @Param       id             path    string                 true  "Group ID"  example(team-a)
// @Param       draft          path    string                 true  "Draft ID"
// @Param       body           body    handlers.VoteRequest   true  "Vote"
//
// @Success     200  {object}  handlers.VerdictResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown draft"
// @Failure     409  {object}  handlers.ErrorResponse  "Draft already resolved"
// @Router      /groups/{id}/drafts/{draft}/votes [post]
func (h *Handlers) PostVote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "choice required")
		return
	}
	voter := voterID(c, strings.TrimSpace(req.VoterID))
	if voter == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voter_id required")
		return
	}
	draftID := c.Param("draft")

	v, err := h.groupSvc.Vote(c.Request.Context(), c.Param("id"), draftID, voter, req.Choice)
	if err != nil {
		failConsensus(c, err)
		return
	}
	ok(c, http.StatusOK, VerdictResponse{DraftID: draftID, Verdict: v})
}

// PostReaction godoc
// @ID          postReaction
// @Summary     React to a published draft
// @Description Maps a chat reaction (👍 ✅ ❤️ 🔥 👌 approve, 👎 ❌ 🚫 reject) to a vote on the draft published under ref.
// @Tags        Groups
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                     true  "Group ID"  example(team-a)
// @Param       body  body  handlers.ReactionRequest   true  "Reaction"
//
// @Success     200  {object}  handlers.VerdictResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown draft"
// @Failure     409  {object}  handlers.ErrorResponse  "Draft already resolved"
// @Failure     422  {object}  handlers.ErrorResponse  "Unsupported reaction"
// @Router      /groups/{id}/reactions [post]
func (h *Handlers) PostReaction(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ref and kind required")
		return
	}
	voter := voterID(c, strings.TrimSpace(req.VoterID))
	if voter == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voter_id required")
		return
	}

	v, err := h.groupSvc.React(c.Request.Context(), c.Param("id"), req.Ref, voter, req.Kind)
	if err != nil {
		failConsensus(c, err)
		return
	}
	ok(c, http.StatusOK, VerdictResponse{Verdict: v})
}
