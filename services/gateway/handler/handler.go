package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
	"ruche-go/services/gateway/biz"
)

// =============================================================================
// Gateway Handler
// =============================================================================

// Handler handles the public /api/v1 surface.
type Handler struct {
	service *biz.GatewayService
	logger  log.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *biz.GatewayService, logger log.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  logger,
	}
}

// =============================================================================
// Health Endpoint
// =============================================================================

// Health returns gateway health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "gateway",
	})
}

// =============================================================================
// Actor Endpoints
// =============================================================================

// CreateActor places a new actor on a hosting service.
// POST /api/v1/actors
func (h *Handler) CreateActor(c *gin.Context) {
	var req biz.CreateActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	rec, err := h.service.CreateActor(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"actorId":    rec.ActorID,
		"actorType":  rec.ActorType,
		"serviceId":  rec.ServiceID,
		"serviceUrl": rec.ServiceURL,
		"state":      rec.Status,
	})
}

// ListActors returns all actor records.
// GET /api/v1/actors
func (h *Handler) ListActors(c *gin.Context) {
	recs, err := h.service.ListActors(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetActor returns one actor record.
// GET /api/v1/actors/:id
func (h *Handler) GetActor(c *gin.Context) {
	rec, err := h.service.GetActor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListActorsByService returns the actors owned by one service.
// GET /api/v1/actors/by-service/:serviceId
func (h *Handler) ListActorsByService(c *gin.Context) {
	recs, err := h.service.ListActorsByService(c.Request.Context(), c.Param("serviceId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// DeleteActor stops a remote actor and removes its record.
// DELETE /api/v1/actors/:id
func (h *Handler) DeleteActor(c *gin.Context) {
	if err := h.service.DeleteActor(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Tell routes a message to an actor's hosting service.
// POST /api/v1/actors/:id/tell
func (h *Handler) Tell(c *gin.Context) {
	var cmd actor.TellCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	if cmd.Message == nil {
		badRequest(c, "message is required")
		return
	}

	if err := h.service.Tell(c.Request.Context(), c.Param("id"), &cmd); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// =============================================================================
// Service Endpoints
// =============================================================================

// ListServices returns all registered hosting services.
// GET /api/v1/services
func (h *Handler) ListServices(c *gin.Context) {
	recs, err := h.service.ListServices(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// RegisterService registers or re-registers a hosting service.
// POST /api/v1/services/register
func (h *Handler) RegisterService(c *gin.Context) {
	var req biz.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.service.RegisterService(c.Request.Context(), &req); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": true})
}

// Heartbeat advances a hosting service's liveness timestamp.
// POST /api/v1/services/heartbeat
func (h *Handler) Heartbeat(c *gin.Context) {
	var req struct {
		ServiceID string `json:"serviceId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.service.Heartbeat(c.Request.Context(), req.ServiceID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

// =============================================================================
// Error Mapping
// =============================================================================

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "VALIDATION",
		"message": msg,
	})
}

// writeError maps domain errors onto problem bodies {code, message}.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, actor.ErrActorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "ACTOR_NOT_FOUND", "message": err.Error()})
	case errors.Is(err, actor.ErrServiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "SERVICE_NOT_FOUND", "message": err.Error()})
	case errors.Is(err, actor.ErrActorStopped):
		c.JSON(http.StatusNotFound, gin.H{"code": "ACTOR_STOPPED", "message": err.Error()})
	case errors.Is(err, actor.ErrUnknownActorType):
		c.JSON(http.StatusBadRequest, gin.H{"code": "UNKNOWN_ACTOR_TYPE", "message": err.Error()})
	case errors.Is(err, actor.ErrServiceUnavailable):
		c.Header("Retry-After", "10")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":       "SERVICE_UNAVAILABLE",
			"message":    err.Error(),
			"retryAfter": 10,
		})
	default:
		h.logger.Error("request failed",
			log.String("path", c.Request.URL.Path),
			log.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"code": "UPSTREAM", "message": err.Error()})
	}
}
