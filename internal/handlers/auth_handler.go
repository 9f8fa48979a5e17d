package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/config"
	"vault-backend/internal/utils"
)

const tokenIssuer = "vault-backend"

var (
	ErrNonceUnknown     = errors.New("nonce unknown or already used")
	ErrNonceExpired     = errors.New("nonce expired")
	ErrBadSignature     = errors.New("signature does not match address")
	ErrSecretMissing    = errors.New("token secret not configured")
	ErrMalformedMessage = errors.New("message does not carry a nonce")
)

// UserClaims JWT claims for wallet-authenticated users
type UserClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// IssueUserToken signs an HS256 token for address.
func IssueUserToken(secret []byte, address common.Address, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretMissing
	}
	claims := UserClaims{
		Address: address.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   address.Hex(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateUserToken parses and verifies a user token.
func ValidateUserToken(secret []byte, tokenString string) (*UserClaims, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.Address) {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// NonceStore holds single-use login nonces until they expire.
type NonceStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  clock.Clock
	issued map[string]time.Time
}

func NewNonceStore(ttl time.Duration, clk clock.Clock) *NonceStore {
	return &NonceStore{ttl: ttl, clock: clk, issued: make(map[string]time.Time)}
}

// Issue returns a fresh nonce and drops expired ones.
func (s *NonceStore) Issue() (string, time.Time, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	nonce := hex.EncodeToString(buf)
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for n, exp := range s.issued {
		if now.After(exp) {
			delete(s.issued, n)
		}
	}
	expires := now.Add(s.ttl)
	s.issued[nonce] = expires
	return nonce, expires, nil
}

// Consume removes nonce; it succeeds at most once per nonce.
func (s *NonceStore) Consume(nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.issued[nonce]
	if !ok {
		return ErrNonceUnknown
	}
	delete(s.issued, nonce)
	if s.clock.Now().After(exp) {
		return ErrNonceExpired
	}
	return nil
}

// AuthHandler wallet sign-in
type AuthHandler struct {
	secret []byte
	ttl    time.Duration
	nonces *NonceStore
	clock  clock.Clock
	log    logrus.FieldLogger
}

// NewAuthHandler creates the handler from the auth section.
func NewAuthHandler(cfg config.AuthConfig, clk clock.Clock, logger logrus.FieldLogger) *AuthHandler {
	if clk == nil {
		clk = clock.New()
	}
	return &AuthHandler{
		secret: []byte(cfg.JWTSecret),
		ttl:    time.Duration(cfg.TokenTTLHours) * time.Hour,
		nonces: NewNonceStore(time.Duration(cfg.NonceTTLSeconds)*time.Second, clk),
		clock:  clk,
		log:    logger.WithField("component", "auth"),
	}
}

// LoginMessage is the text a wallet signs to log in.
func LoginMessage(nonce string, issuedAt time.Time) string {
	return fmt.Sprintf("Vault Authentication\nNonce: %s\nIssued At: %s", nonce, issuedAt.UTC().Format(time.RFC3339))
}

func nonceOf(message string) (string, error) {
	for _, line := range strings.Split(message, "\n") {
		if n, ok := strings.CutPrefix(strings.TrimSpace(line), "Nonce: "); ok && n != "" {
			return n, nil
		}
	}
	return "", ErrMalformedMessage
}

// RecoverSigner returns the address that produced an EIP-191 personal_sign
// signature over message.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// GenerateNonceHandler GET /api/auth/nonce
func (h *AuthHandler) GenerateNonceHandler(c *gin.Context) {
	nonce, expires, err := h.nonces.Issue()
	if err != nil {
		respondError(c, err)
		return
	}
	now := h.clock.Now()
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"nonce":      nonce,
		"message":    LoginMessage(nonce, now),
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// LoginRequest wallet login body
type LoginRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// LoginHandler POST /api/auth/login
func (h *AuthHandler) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	addr, err := utils.ParseAddress(req.Address)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	nonce, err := nonceOf(req.Message)
	if err == nil {
		err = h.nonces.Consume(nonce)
	}
	if err != nil {
		h.unauthorized(c, addr, err)
		return
	}

	signer, err := RecoverSigner(req.Message, req.Signature)
	if err == nil && signer != addr {
		err = ErrBadSignature
	}
	if err != nil {
		h.unauthorized(c, addr, err)
		return
	}

	token, err := IssueUserToken(h.secret, addr, h.ttl, h.clock.Now())
	if err != nil {
		h.log.WithError(err).Error("failed to issue user token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate token",
			"code":    "TOKEN_ERROR",
		})
		return
	}
	h.log.WithField("address", addr.Hex()).Info("user logged in")
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"address": addr.Hex(),
	})
}

func (h *AuthHandler) unauthorized(c *gin.Context, addr common.Address, err error) {
	h.log.WithField("address", addr.Hex()).WithError(err).Warn("login rejected")
	c.JSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    "LOGIN_FAILED",
	})
}
