package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ruche-go/commonlib/actor"
	"ruche-go/commonlib/log"
	infraactor "ruche-go/infrastructure/actor"
)

// =============================================================================
// Runtime Facade
// =============================================================================

// Handler exposes the local actor system to the gateway and to peer services
// under the /runtime prefix.
type Handler struct {
	system *infraactor.LocalSystem
	logger log.Logger
}

// NewHandler creates a new handler.
func NewHandler(system *infraactor.LocalSystem, logger log.Logger) *Handler {
	return &Handler{
		system: system,
		logger: logger,
	}
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "runtime",
		"actors":  h.system.Count(),
	})
}

// =============================================================================
// Actor Lifecycle
// =============================================================================

// CreateActor spawns an actor from a create command.
// POST /runtime/create-actor
func (h *Handler) CreateActor(c *gin.Context) {
	var cmd actor.CreateCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	if cmd.ActorType == "" {
		badRequest(c, "actorType is required")
		return
	}

	ref, err := h.system.Spawn(cmd.ActorType, cmd.ActorID, cmd.Params)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"actorId": ref.ID(),
		"state":   ref.State(),
	})
}

// ListActors returns a health snapshot of every hosted actor.
// GET /runtime/actors
func (h *Handler) ListActors(c *gin.Context) {
	ids := h.system.ActorIDs()
	out := make([]*actor.HealthSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := h.system.Health(id); err == nil {
			out = append(out, snap)
		}
	}
	c.JSON(http.StatusOK, out)
}

// ActorHealth returns one actor's health snapshot.
// GET /runtime/actors/:id/health
func (h *Handler) ActorHealth(c *gin.Context) {
	snap, err := h.system.Health(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RestartActor forces a supervision-style restart.
// POST /runtime/actors/:id/restart
func (h *Handler) RestartActor(c *gin.Context) {
	if err := h.system.Restart(c.Param("id"), nil); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restarted": true})
}

// StopActor stops and removes one actor.
// DELETE /runtime/actors/:id
func (h *Handler) StopActor(c *gin.Context) {
	if err := h.system.Stop(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Messaging
// =============================================================================

// Tell enqueues a message into a hosted actor's mailbox.
// POST /runtime/tell
func (h *Handler) Tell(c *gin.Context) {
	var cmd actor.TellCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	if cmd.TargetActorID == "" || cmd.Message == nil {
		badRequest(c, "targetActorId and message are required")
		return
	}

	ref, ok := h.system.Get(cmd.TargetActorID)
	if !ok {
		h.writeError(c, actor.ErrActorNotFound)
		return
	}
	if err := ref.Tell(cmd.Message, nil); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": true})
}

// Ask delivers an envelope and waits for the actor's reply.
// POST /runtime/ask?actorId=<id>&timeoutMs=<ms>
func (h *Handler) Ask(c *gin.Context) {
	actorID := c.Query("actorId")
	if actorID == "" {
		badRequest(c, "actorId query parameter is required")
		return
	}
	var timeout time.Duration
	if ms := c.Query("timeoutMs"); ms != "" {
		n, err := strconv.Atoi(ms)
		if err != nil || n <= 0 {
			badRequest(c, "timeoutMs must be a positive integer")
			return
		}
		timeout = time.Duration(n) * time.Millisecond
	}

	var env actor.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		badRequest(c, err.Error())
		return
	}

	reply, err := h.system.Ask(c.Request.Context(), actorID, &env, timeout)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
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

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, actor.ErrActorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "ACTOR_NOT_FOUND", "message": err.Error()})
	case errors.Is(err, actor.ErrActorExists):
		c.JSON(http.StatusConflict, gin.H{"code": "ACTOR_EXISTS", "message": err.Error()})
	case errors.Is(err, actor.ErrUnknownActorType):
		c.JSON(http.StatusBadRequest, gin.H{"code": "UNKNOWN_ACTOR_TYPE", "message": err.Error()})
	case errors.Is(err, actor.ErrActorStopped):
		c.JSON(http.StatusNotFound, gin.H{"code": "ACTOR_STOPPED", "message": err.Error()})
	case errors.Is(err, actor.ErrAskTimeout):
		c.JSON(http.StatusRequestTimeout, gin.H{"code": "ASK_TIMEOUT", "message": err.Error()})
	case errors.Is(err, actor.ErrMailboxFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"code": "MAILBOX_FULL", "message": err.Error()})
	case errors.Is(err, actor.ErrSystemStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "SHUTTING_DOWN", "message": err.Error()})
	default:
		h.logger.Error("runtime request failed",
			log.String("path", c.Request.URL.Path),
			log.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
	}
}
