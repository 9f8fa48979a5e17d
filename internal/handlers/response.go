package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"vault-backend/internal/ledger"
	"vault-backend/internal/services"
	"vault-backend/internal/utils"
	"vault-backend/internal/vault"
)

// Context keys set by the auth middleware.
const (
	ContextUserAddress   = "user_address"
	ContextAdminUsername = "admin_username"
	ContextAdminRole     = "admin_role"
)

// statusOf maps an error to an HTTP status and a stable error code.
func statusOf(err error) (int, string) {
	switch vault.KindOf(err) {
	case vault.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case vault.KindUnauthorized:
		return http.StatusForbidden, "UNAUTHORIZED"
	case vault.KindStateConflict:
		return http.StatusConflict, "STATE_CONFLICT"
	case vault.KindSlippageExceeded:
		return http.StatusUnprocessableEntity, "SLIPPAGE_EXCEEDED"
	case vault.KindTransferFailure:
		return http.StatusBadGateway, "TRANSFER_FAILURE"
	}

	switch {
	case errors.Is(err, services.ErrServiceStopped):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	case errors.Is(err, services.ErrFaucetDisabled):
		return http.StatusNotFound, "FAUCET_DISABLED"
	case errors.Is(err, services.ErrFaucetAsset):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrInsufficientAllow):
		return http.StatusBadRequest, "INSUFFICIENT_FUNDS"
	case errors.Is(err, ledger.ErrUnknownAsset), errors.Is(err, ledger.ErrZeroAddress), errors.Is(err, ledger.ErrNegativeAmount):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, ledger.ErrNotMinter):
		return http.StatusForbidden, "UNAUTHORIZED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondError writes err in the common error envelope.
func respondError(c *gin.Context, err error) {
	status, code := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// respondBadRequest rejects a malformed request before it reaches the vault.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   message,
		"code":    "INVALID_REQUEST",
	})
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// callerAddress returns the address the auth middleware authenticated.
func callerAddress(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(ContextUserAddress)
	if !ok {
		return common.Address{}, false
	}
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func requireCaller(c *gin.Context) (common.Address, bool) {
	addr, ok := callerAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"code":    "MISSING_AUTH",
		})
	}
	return addr, ok
}

// fieldParser parses named address and amount fields and keeps the first
// failure for a single 400 response.
type fieldParser struct {
	c   *gin.Context
	err string
}

func (p *fieldParser) address(name, value string) common.Address {
	if p.err != "" {
		return common.Address{}
	}
	addr, err := utils.ParseAddress(value)
	if err != nil {
		p.err = name + ": " + err.Error()
	}
	return addr
}

// optionalAddress returns def when value is empty.
func (p *fieldParser) optionalAddress(name, value string, def common.Address) common.Address {
	if value == "" {
		return def
	}
	return p.address(name, value)
}

func (p *fieldParser) amount(name, value string) sdkmath.Int {
	if p.err != "" {
		return sdkmath.ZeroInt()
	}
	amount, err := utils.ParseMinorUnits(value)
	if err != nil {
		p.err = name + ": " + err.Error()
		return sdkmath.ZeroInt()
	}
	return amount
}

func (p *fieldParser) ok() bool {
	if p.err != "" {
		respondBadRequest(p.c, p.err)
		return false
	}
	return true
}

func requestID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondBadRequest(c, "invalid withdrawal request id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
