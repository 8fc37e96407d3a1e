package subscription

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatline/webhook-api/internal/model"
	deliveryService "github.com/chatline/webhook-api/internal/service/delivery"
	"github.com/chatline/webhook-api/internal/service/subscription"
	apperrors "github.com/chatline/webhook-api/pkg/errors"
	"github.com/chatline/webhook-api/pkg/httputil"
	"github.com/chatline/webhook-api/pkg/validator"
)

type Handler struct {
	service  subscription.Servicer
	delivery *deliveryService.Service
	validate *validator.Validator
}

func NewHandler(service subscription.Servicer, delivery *deliveryService.Service, validate *validator.Validator) *Handler {
	return &Handler{service: service, delivery: delivery, validate: validate}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("", h.CreateSubscription)
		webhooks.GET("", h.ListSubscriptions)
		webhooks.GET("/:id", h.GetSubscription)
		webhooks.PUT("/:id", h.UpdateSubscription)
		webhooks.DELETE("/:id", h.DeleteSubscription)
		webhooks.POST("/:id/regenerate-secret", h.RegenerateSecret)
		webhooks.POST("/:id/test", h.TestSubscription)
	}
}

func (h *Handler) CreateSubscription(c *gin.Context) {
	var req model.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}
	if err := h.validate.Validate(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	sub, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithCreated(c, sub)
}

func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.service.List(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, subs)
}

func (h *Handler) GetSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	sub, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sub)
}

func (h *Handler) UpdateSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	var req model.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}
	if err := h.validate.Validate(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	sub, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sub)
}

func (h *Handler) DeleteSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"message": "subscription deleted"})
}

func (h *Handler) RegenerateSecret(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	sub, err := h.service.RegenerateSecret(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sub)
}

// TestSubscription fires one synchronous attempt and returns the raw result.
// No delivery log entry is created.
func (h *Handler) TestSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid subscription ID", err))
		return
	}

	result, err := h.delivery.Test(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}
