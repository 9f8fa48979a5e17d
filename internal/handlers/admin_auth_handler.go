package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"vault-backend/internal/config"
)

const adminRole = "admin"

// AdminJWTClaims admin JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token.
func IssueAdminToken(secret []byte, username string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretMissing
	}
	claims := AdminJWTClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateAdminJWTToken parses and verifies an admin token.
func ValidateAdminJWTToken(secret []byte, tokenString string) (*AdminJWTClaims, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*AdminJWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// AdminAuthHandler admin login with password and TOTP
type AdminAuthHandler struct {
	cfg   config.AdminConfig
	clock clock.Clock
	log   logrus.FieldLogger
}

// AdminLoginRequest admin login body
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// NewAdminAuthHandler creates the handler from the admin section.
func NewAdminAuthHandler(cfg config.AdminConfig, clk clock.Clock, logger logrus.FieldLogger) *AdminAuthHandler {
	if clk == nil {
		clk = clock.New()
	}
	entry := logger.WithField("component", "admin_auth")
	if cfg.TOTPSecret == "" || cfg.PasswordHash == "" || cfg.JWTSecret == "" {
		entry.Warn("⚠️ admin credentials incomplete, admin login is disabled")
	}
	return &AdminAuthHandler{cfg: cfg, clock: clk, log: entry}
}

// AdminLoginHandler POST /api/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.cfg.TOTPSecret == "" || h.cfg.PasswordHash == "" || h.cfg.JWTSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Admin login is not configured",
			"code":    "ADMIN_DISABLED",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	username := h.cfg.Username
	if username == "" {
		username = adminRole
	}
	// one message for every credential failure
	if req.Username != username || bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)) != nil {
		h.reject(c, req.Username, "Invalid credentials")
		return
	}
	if !totp.Validate(req.TOTPCode, h.cfg.TOTPSecret) {
		h.reject(c, req.Username, "Invalid TOTP code")
		return
	}

	token, err := IssueAdminToken([]byte(h.cfg.JWTSecret), req.Username, time.Duration(h.cfg.TokenTTLHours)*time.Hour, h.clock.Now())
	if err != nil {
		h.log.WithError(err).Error("failed to issue admin token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate token",
			"code":    "TOKEN_ERROR",
		})
		return
	}
	h.log.WithFields(logrus.Fields{"username": req.Username, "client_ip": c.ClientIP()}).Info("admin logged in")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
	})
}

func (h *AdminAuthHandler) reject(c *gin.Context, username, message string) {
	h.log.WithFields(logrus.Fields{"username": username, "client_ip": c.ClientIP()}).Warn("admin login rejected")
	c.JSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   message,
		"code":    "LOGIN_FAILED",
	})
}
