package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"supportdesk/backend/internal/config"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const claimsKey = "claims"

type tokenRequest struct {
	AdminKey string `json:"admin_key" binding:"required"`
}

// generateJWT signs an admin token valid for config.AdminTokenTTL.
func generateJWT(secret []byte, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "admin",
		Issuer:    config.AdminTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(config.AdminTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseJWT(secret []byte, raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.AdminTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken exchanges the admin key for a bearer token.
func (h *Handler) IssueToken(c *gin.Context) {
	if h.AdminKey == "" || len(h.JWTSecret) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin api is not configured"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "admin_key is required"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.AdminKey), []byte(h.AdminKey)) != 1 {
		h.log.WithField("client_ip", c.ClientIP()).Warn("rejected admin key")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
		return
	}

	token, err := generateJWT(h.JWTSecret, time.Now())
	if err != nil {
		h.log.WithError(err).Error("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(config.AdminTokenTTL.Seconds())})
}

// RequireToken accepts "Authorization: Bearer <jwt>" or, for websocket
// clients that cannot set headers, a token query parameter.
func (h *Handler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		claims, err := parseJWT(h.JWTSecret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return "", errors.New("malformed authorization header")
		}
		return raw, nil
	}
	if raw := c.Query("token"); raw != "" {
		return raw, nil
	}
	return "", errors.New("authorization token missing")
}
