package event

import (
	"github.com/gin-gonic/gin"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/pkg/httputil"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhook-events", h.ListEvents)
}

// ListEvents returns the static catalog of supported event types.
func (h *Handler) ListEvents(c *gin.Context) {
	httputil.RespondWithSuccess(c, model.EventCatalog())
}
