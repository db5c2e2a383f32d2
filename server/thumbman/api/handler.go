package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"assethub/server/common/log"
	"assethub/server/common/transport/httpresp"
	"assethub/server/thumbman/domain"
	"assethub/server/thumbman/service"
)

// EventIDHeader carries the transport-supplied unique event identifier.
const EventIDHeader = "Ce-Id"

type Handler struct {
	ingress       *service.IngressService
	webhookSecret string
}

func NewHandler(ingress *service.IngressService, webhookSecret string) *Handler {
	return &Handler{ingress: ingress, webhookSecret: webhookSecret}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhooks/storage-finalized", h.storageFinalized)
}

// storageFinalized accepts "object finalized" notifications. Business
// failures (bad image, no record) still answer 200 with the outcome in the
// body: redelivery would not change them. Non-200 is reserved for transport
// failures the event source should retry.
func (h *Handler) storageFinalized(c *gin.Context) {
	if h.webhookSecret != "" {
		provided := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.webhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidWebhookKey))
			return
		}
	}

	var req struct {
		Bucket      string `json:"bucket"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	event := domain.StorageEvent{
		Bucket:      req.Bucket,
		ObjectKey:   req.Name,
		ContentType: req.ContentType,
		SizeBytes:   req.Size,
		EventID:     c.GetHeader(EventIDHeader),
	}
	log.Infof("storage finalized event id=%s bucket=%s key=%s type=%s", event.EventID, event.Bucket, event.ObjectKey, event.ContentType)

	outcome, err := h.ingress.HandleStorageEvent(c.Request.Context(), event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, outcome)
}
