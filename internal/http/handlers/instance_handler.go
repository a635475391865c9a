// Instance HTTP handlers.
//
// This file exposes REST endpoints for instances, the units of work rewards
// are reported against:
//   - POST /instances               (register)
//   - GET  /instances/{id}          (fetch)
//   - POST /instances/{id}/close    (stop using it for automatic rewards)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/groupwrite/internal/services"
)

// CreateInstanceRequest is the JSON payload for registering an instance.
type CreateInstanceRequest struct {
	// ID is the instance id as known to the reward ledger.
	ID string `json:"id" binding:"required,max=128" example:"inst-42"`
	// GroupID optionally binds the instance to a group's automatic rewards.
	GroupID string `json:"group_id" binding:"max=128" example:"team-a"`
}

func failInstance(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInstanceID), errors.Is(err, services.ErrInvalidGroupID):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInstanceExists):
		fail(c, http.StatusConflict, ErrCodeConflict, "instance already exists")
	case errors.Is(err, services.ErrUnknownInstance):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "instance not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// CreateInstance godoc
// @ID          createInstance
// @Summary     Register an instance
// @Tags        Instances
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateInstanceRequest  true  "Instance"
//
// @Success     201  {object}  domain.Instance
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Already exists"
// @Router      /instances [post]
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id required")
		return
	}
	in, err := h.instanceSvc.Register(c.Request.Context(), req.ID, req.GroupID)
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusCreated, in)
}

// GetInstance godoc
// @ID          getInstance
// @Summary     Get an instance
// @Tags        Instances
// @Produce     json
//
// @Param       id  path  string  true  "Instance ID"
//
// @Success     200  {object}  domain.Instance
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /instances/{id} [get]
func (h *Handlers) GetInstance(c *gin.Context) {
	in, err := h.instanceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, in)
}

// CloseInstance godoc
// @ID          closeInstance
// @Summary     Close an instance
// @Description A closed instance is no longer picked for a group's automatic rewards.
// @Tags        Instances
// @Produce     json
//
// @Param       id  path  string  true  "Instance ID"
//
// @Success     200  {object}  domain.Instance
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /instances/{id}/close [post]
func (h *Handlers) CloseInstance(c *gin.Context) {
	in, err := h.instanceSvc.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, in)
}
