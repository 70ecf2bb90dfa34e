// Package token provides JSON Web Token generation and verification.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager generates and verifies access and refresh tokens.
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// CustomClaims carries the member identity inside a token. Embeds
// jwt.RegisteredClaims for the standard expiry fields.
type CustomClaims struct {
	MemberID     uint   `json:"memberId"`
	Username     string `json:"username"`
	TenantSchema string `json:"tenantSchema"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a manager with the given signing secret and lifetimes.
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

// GenerateToken issues a new access token for a member.
func (m *JWTManager) GenerateToken(memberID uint, username, tenantSchema, role string) (string, error) {
	claims := CustomClaims{
		MemberID:     memberID,
		Username:     username,
		TenantSchema: tenantSchema,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.accessTokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secretKey)
}

// GenerateRefreshToken issues a refresh token with the longer lifetime.
func (m *JWTManager) GenerateRefreshToken(memberID uint, username, tenantSchema, role string) (string, error) {
	claims := CustomClaims{
		MemberID:     memberID,
		Username:     username,
		TenantSchema: tenantSchema,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.refreshTokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secretKey)
}

// VerifyToken parses and validates a token string, returning its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := tok.Claims.(*CustomClaims); ok && tok.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// GenerateRandomString generates a random hex string of a given byte length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
