// Package handler contains the HTTP controllers.
package handler

import (
	"errors"
	"net/http"

	"aibot-go/internal/model"
	"aibot-go/internal/service"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// MemberHandler serves the member account endpoints.
type MemberHandler struct {
	memberService service.MemberService
	registry      *tenant.Registry
}

// NewMemberHandler creates a MemberHandler.
func NewMemberHandler(memberService service.MemberService, registry *tenant.Registry) *MemberHandler {
	return &MemberHandler{memberService: memberService, registry: registry}
}

// resolveSchema maps the optional tenantSchema request field onto a known
// schema, falling back to the registry default.
func (h *MemberHandler) resolveSchema(name string) (tenant.Schema, error) {
	if name == "" {
		return h.registry.Default(), nil
	}
	return h.registry.Resolve(name)
}

// RegisterRequest is the member registration payload.
type RegisterRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	FullName     string `json:"fullName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	PlanTier     string `json:"planTier"`
	Company      string `json:"company"`
	TenantSchema string `json:"tenantSchema"`
}

// Register handles member self-registration.
func (h *MemberHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "invalid request payload: username and password are required",
		})
		return
	}

	schema, err := h.resolveSchema(req.TenantSchema)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "unknown tenant"})
		return
	}

	member, err := h.memberService.Register(schema, service.RegisterInput{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		PlanTier: req.PlanTier,
		Company:  req.Company,
	})
	if err != nil {
		log.Warnf("Register: registration failed for '%s', error: %v", req.Username, err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrUsernameTaken) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Infof("Member '%s' registered in tenant '%s'", member.Username, member.TenantSchema)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Member registered successfully",
	})
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username     string `json:"username" binding:"required"`
	Password     string `json:"password" binding:"required"`
	TenantSchema string `json:"tenantSchema"`
}

// Login authenticates a member and opens a chat session.
func (h *MemberHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "invalid request payload: username and password are required",
		})
		return
	}

	schema, err := h.resolveSchema(req.TenantSchema)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "unknown tenant"})
		return
	}

	accessToken, refreshToken, session, err := h.memberService.Login(c.Request.Context(), schema, req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: authentication failed for '%s', error: %v", req.Username, err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "invalid credentials",
		})
		return
	}

	log.Infof("Member '%s' logged in", req.Username)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data": gin.H{
			"token":        accessToken,
			"refreshToken": refreshToken,
			"sessionId":    session.ID,
		},
	})
}

// GetProfile returns the authenticated member's profile. The member was
// loaded by AuthMiddleware.
func (h *MemberHandler) GetProfile(c *gin.Context) {
	value, exists := c.Get("member")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load member"})
		return
	}
	member := value.(*model.Member)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    member,
	})
}

// Logout revokes the presented token.
func (h *MemberHandler) Logout(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	tokenString := ""
	if len(authHeader) > len("Bearer ") {
		tokenString = authHeader[len("Bearer "):]
	}
	if err := h.memberService.Logout(c.Request.Context(), tokenString); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "Logged out"})
}

// RefreshRequest is the token refresh payload.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken issues a new token pair from a valid refresh token.
func (h *MemberHandler) RefreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "refreshToken is required"})
		return
	}

	accessToken, refreshToken, err := h.memberService.RefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"token":        accessToken,
			"refreshToken": refreshToken,
		},
	})
}
