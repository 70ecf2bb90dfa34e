package handler

import (
	"net/http"

	"aibot-go/internal/service"
	"aibot-go/pkg/log"
	"aibot-go/pkg/notify"

	"github.com/gin-gonic/gin"
)

// ResolutionHandler receives reviewer replies pushed over HTTP. It is the
// webhook twin of the Kafka reply consumer; both feed the same handler, so a
// reply delivered on both paths resolves exactly once.
type ResolutionHandler struct {
	resolutionService service.ResolutionService
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(resolutionService service.ResolutionService) *ResolutionHandler {
	return &ResolutionHandler{resolutionService: resolutionService}
}

// WebhookRequest is the reviewer-platform callback payload.
type WebhookRequest struct {
	MessageID string `json:"messageId"`
	ReplyText string `json:"replyText" binding:"required"`
	Sender    string `json:"sender"`
}

// Webhook handles one reviewer reply.
func (h *ResolutionHandler) Webhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "replyText is required"})
		return
	}

	err := h.resolutionService.HandleReply(c.Request.Context(), notify.InboundReply{
		RepliedToMessageID: req.MessageID,
		ReplyText:          req.ReplyText,
		SenderIdentity:     req.Sender,
	})
	if err != nil {
		log.Errorw("[ResolutionHandler] webhook reply failed", "message_id", req.MessageID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to process reply"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
