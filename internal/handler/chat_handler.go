package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"aibot-go/internal/model"
	"aibot-go/internal/service"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/log"
	"aibot-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler serves the chat endpoints: a WebSocket for streamed answers and
// a plain HTTP endpoint for single question/answer exchanges.
type ChatHandler struct {
	chatService   service.ChatService
	memberService service.MemberService
	jwtManager    *token.JWTManager
	registry      *tenant.Registry
	stopToken     string
	stopTokenLock sync.Mutex
	// per-connection stop flags
	stopFlags sync.Map
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatService service.ChatService, memberService service.MemberService, jwtManager *token.JWTManager, registry *tenant.Registry) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		memberService: memberService,
		jwtManager:    jwtManager,
		registry:      registry,
	}
}

// GetWebsocketStopToken returns a token the client sends to stop a stream.
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// AskRequest is the non-streaming chat payload.
type AskRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Query     string `json:"query" binding:"required"`
}

// Ask answers one question over plain HTTP.
func (h *ChatHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "sessionId and query are required"})
		return
	}

	session, err := h.resolveSession(c, req.SessionID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error()})
		return
	}

	reply, err := h.chatService.Ask(c.Request.Context(), session, req.Query)
	if err != nil {
		log.Errorw("[ChatHandler] ask failed", "session_id", session.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "the assistant is temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": reply})
}

// resolveSession loads the session and verifies it belongs to the
// authenticated member.
func (h *ChatHandler) resolveSession(c *gin.Context, sessionID string) (*model.Session, error) {
	value, exists := c.Get("member")
	if !exists {
		return nil, fmt.Errorf("not authenticated")
	}
	member := value.(*model.Member)

	session, err := h.chatService.ResumeSession(c.Request.Context(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found or expired")
	}
	if session.MemberID != member.ID {
		log.Warnw("[ChatHandler] session member mismatch", "session_id", sessionID, "member_id", member.ID)
		return nil, fmt.Errorf("session does not belong to this member")
	}
	return session, nil
}

// stopAwareWriter forwards stream chunks to the socket until the stop flag is
// set, then silently discards the remainder. The pipeline still persists the
// full answer.
type stopAwareWriter struct {
	conn       *websocket.Conn
	shouldStop func() bool
	stopped    bool
}

func (w *stopAwareWriter) WriteMessage(messageType int, data []byte) error {
	if w.stopped {
		return nil
	}
	if w.shouldStop() {
		w.stopped = true
		return nil
	}
	chunk, _ := json.Marshal(gin.H{"type": "chunk", "content": string(data)})
	return w.conn.WriteMessage(messageType, chunk)
}

// Handle serves one WebSocket chat connection. The URL carries the JWT as a
// path segment and the session ID as a query parameter.
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid token"})
		return
	}

	member, err := h.memberService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to load member"})
		return
	}

	var session *model.Session
	if sessionID := c.Query("session"); sessionID != "" {
		session, err = h.chatService.ResumeSession(c.Request.Context(), sessionID)
		if err != nil || session.MemberID != member.ID {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid session"})
			return
		}
	} else {
		schema, rerr := h.registry.Resolve(member.TenantSchema)
		if rerr != nil {
			schema = h.registry.Default()
		}
		session, err = h.chatService.OpenSession(c.Request.Context(), schema, member.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to open session"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket upgrade failed", err)
		return
	}
	defer conn.Close()
	defer h.stopFlags.Delete(connKey(conn))

	log.Infof("WebSocket connected, member: %s, session: %s", claims.Username, session.ID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("failed to read WebSocket message: %v", err)
			break
		}

		// JSON stop command: {"type":"stop","_internal_cmd_token":"..."}
		if len(message) > 0 && message[0] == '{' {
			var ctrl map[string]interface{}
			if err := json.Unmarshal(message, &ctrl); err == nil {
				if t, ok := ctrl["type"].(string); ok && t == "stop" {
					if tok, ok := ctrl["_internal_cmd_token"].(string); ok {
						h.stopTokenLock.Lock()
						valid := tok == h.stopToken
						h.stopTokenLock.Unlock()
						if valid {
							h.stopFlags.Store(connKey(conn), true)
							resp, _ := json.Marshal(gin.H{
								"type":      "stop",
								"message":   "response stopped",
								"timestamp": time.Now().UnixMilli(),
							})
							_ = conn.WriteMessage(websocket.TextMessage, resp)
							continue
						}
					}
				}
			}
		}

		h.stopFlags.Delete(connKey(conn))
		writer := &stopAwareWriter{
			conn: conn,
			shouldStop: func() bool {
				v, ok := h.stopFlags.Load(connKey(conn))
				return ok && v.(bool)
			},
		}

		reply, err := h.chatService.AskStream(c.Request.Context(), session, string(message), writer)
		if err != nil {
			log.Errorf("failed to stream answer: %v", err)
			errResp, _ := json.Marshal(gin.H{"error": "the assistant is temporarily unavailable, please retry"})
			_ = conn.WriteMessage(websocket.TextMessage, errResp)
		}

		completion := gin.H{
			"type":      "completion",
			"status":    "finished",
			"timestamp": time.Now().UnixMilli(),
		}
		if reply != nil {
			completion["turnId"] = reply.TurnID
			completion["conversationId"] = reply.ConversationID
			completion["confidence"] = reply.Confidence
			completion["sources"] = reply.Sources
			completion["escalated"] = reply.Escalated
		}
		cb, _ := json.Marshal(completion)
		_ = conn.WriteMessage(websocket.TextMessage, cb)
	}
}

func connKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
