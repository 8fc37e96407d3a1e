package delivery

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/service/delivery"
	apperrors "github.com/chatline/webhook-api/pkg/errors"
	"github.com/chatline/webhook-api/pkg/httputil"
)

type Handler struct {
	service *delivery.Service
}

func NewHandler(service *delivery.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks/:id/deliveries", h.ListForSubscription)

	deliveries := r.Group("/deliveries")
	{
		deliveries.GET("", h.ListDeliveries)
		deliveries.GET("/:id", h.GetDelivery)
		deliveries.POST("/:id/retry", h.RetryDelivery)
		deliveries.POST("/cleanup", h.CleanupDeliveries)
	}
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	h.respondWithPage(c, filter)
}

func (h *Handler) ListForSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	filter, ferr := parseFilter(c)
	if ferr != nil {
		httputil.RespondWithError(c, ferr)
		return
	}
	filter.SubscriptionID = &id
	h.respondWithPage(c, filter)
}

func (h *Handler) GetDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid delivery log ID", err))
		return
	}

	entry, err := h.service.GetLog(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, entry)
}

// RetryDelivery re-arms the entry and performs an immediate attempt.
func (h *Handler) RetryDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid delivery log ID", err))
		return
	}

	entry, result, err := h.service.Retry(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{
		"entry":  entry,
		"result": result,
	})
}

type cleanupRequest struct {
	RetentionDays int `json:"retention_days" binding:"required,min=1"`
}

func (h *Handler) CleanupDeliveries(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	deleted, err := h.service.Cleanup(c.Request.Context(), req.RetentionDays)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": deleted})
}

func (h *Handler) respondWithPage(c *gin.Context, filter *model.DeliveryLogFilter) {
	entries, total, err := h.service.ListLogs(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, entries, filter.Page, filter.PageSize, total)
}

func parseFilter(c *gin.Context) (*model.DeliveryLogFilter, error) {
	var filter model.DeliveryLogFilter
	if err := c.ShouldBindQuery(&filter.Pagination); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	filter.Normalize()

	if raw := c.Query("subscription_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, apperrors.BadRequest("invalid subscription_id filter", err)
		}
		filter.SubscriptionID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := model.DeliveryStatus(raw)
		switch status {
		case model.DeliveryStatusPending, model.DeliveryStatusSuccess,
			model.DeliveryStatusFailed, model.DeliveryStatusExhausted:
			filter.Status = &status
		default:
			return nil, apperrors.BadRequest("invalid status filter", nil)
		}
	}
	if raw := c.Query("event_type"); raw != "" {
		if !model.IsValidEventType(raw) {
			return nil, apperrors.BadRequest("invalid event_type filter", nil)
		}
		eventType := raw
		filter.EventType = &eventType
	}
	return &filter, nil
}
