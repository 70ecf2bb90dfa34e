package handler

import (
	"errors"
	"net/http"
	"strconv"

	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/service"
	"aibot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler serves conversation history.
type ConversationHandler struct {
	chatService service.ChatService
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(chatService service.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService}
}

// History returns the stored turns of the member's current conversation,
// newest last. Ownership is enforced in the repository.
func (h *ConversationHandler) History(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "sessionId is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	session, err := h.chatService.ResumeSession(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "session not found or expired"})
		return
	}
	if value, exists := c.Get("member"); exists {
		if member, ok := value.(*model.Member); ok && member.ID != session.MemberID {
			c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "session does not belong to this member"})
			return
		}
	}

	turns, err := h.chatService.History(c.Request.Context(), session, limit)
	if err != nil {
		if errors.Is(err, repository.ErrOwnershipMismatch) {
			c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "conversation belongs to another member"})
			return
		}
		log.Errorw("[ConversationHandler] history read failed", "session_id", sessionID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"conversationId": session.ConversationID, "turns": turns},
	})
}
