package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/internal/api/middleware"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/services"
)

// AdminCommands are the operator overrides
type AdminCommands interface {
	Approve(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error)
	Cancel(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error)
	Reactivate(ctx context.Context, id uuid.UUID, actor services.Actor, newEnd *time.Time) (*models.Auction, error)
}

// AdminHandler handles operator requests
type AdminHandler struct {
	admin AdminCommands
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin AdminCommands) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// ReactivateRequest optionally moves the end date
type ReactivateRequest struct {
	EndDate *time.Time `json:"end_date"`
}

func (h *AdminHandler) run(c *gin.Context, action string, fn func(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor := middleware.ActorFrom(c)
	a, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Info().Str("auction_id", id.String()).Str("admin_id", actor.ID).Str("action", action).Msg("admin override applied")
	c.JSON(http.StatusOK, a)
}

// HandleApprove approves a draft
func (h *AdminHandler) HandleApprove(c *gin.Context) {
	h.run(c, "approve", h.admin.Approve)
}

// HandleCancel cancels a live auction
func (h *AdminHandler) HandleCancel(c *gin.Context) {
	h.run(c, "cancel", h.admin.Cancel)
}

// HandleReactivate reopens a cancelled auction
func (h *AdminHandler) HandleReactivate(c *gin.Context) {
	var req ReactivateRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	h.run(c, "reactivate", func(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error) {
		return h.admin.Reactivate(ctx, id, actor, req.EndDate)
	})
}

// RegisterRoutes registers the handler's routes
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin/auctions")
	admin.POST("/:id/approve", h.HandleApprove)
	admin.POST("/:id/cancel", h.HandleCancel)
	admin.POST("/:id/reactivate", h.HandleReactivate)
}
