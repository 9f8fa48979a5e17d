package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vault-backend/internal/models"
	"vault-backend/internal/repository"
	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

const defaultSnapshotWindow = 7 * 24 * time.Hour

// VaultHandler public and user vault endpoints
type VaultHandler struct {
	svc         *services.VaultService
	withdrawals repository.WithdrawalRequestRepository
	operations  repository.OperationRepository
	snapshots   repository.SnapshotRepository
	log         logrus.FieldLogger
}

// NewVaultHandler creates the handler.
func NewVaultHandler(svc *services.VaultService, withdrawals repository.WithdrawalRequestRepository, operations repository.OperationRepository, snapshots repository.SnapshotRepository, logger logrus.FieldLogger) *VaultHandler {
	return &VaultHandler{
		svc:         svc,
		withdrawals: withdrawals,
		operations:  operations,
		snapshots:   snapshots,
		log:         logger.WithField("component", "vault_api"),
	}
}

// GetVaultHandler GET /api/vault
func (h *VaultHandler) GetVaultHandler(c *gin.Context) {
	summary, err := h.svc.Summary()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summary)
}

// ConvertHandler GET /api/vault/convert?assets=N or ?shares=N
func (h *VaultHandler) ConvertHandler(c *gin.Context) {
	p := &fieldParser{c: c}
	var (
		out services.Conversion
		err error
	)
	switch {
	case c.Query("assets") != "":
		amount := p.amount("assets", c.Query("assets"))
		if !p.ok() {
			return
		}
		out, err = h.svc.ConvertToShares(amount)
	case c.Query("shares") != "":
		amount := p.amount("shares", c.Query("shares"))
		if !p.ok() {
			return
		}
		out, err = h.svc.ConvertToAssets(amount)
	default:
		respondBadRequest(c, "one of assets or shares is required")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, out)
}

// SnapshotsHandler GET /api/vault/snapshots?from=&to=&limit=
func (h *VaultHandler) SnapshotsHandler(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-defaultSnapshotWindow)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			respondBadRequest(c, "from: expected RFC3339 time")
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			respondBadRequest(c, "to: expected RFC3339 time")
			return
		}
	}
	snaps, err := h.snapshots.FindRange(c.Request.Context(), h.svc.Vault().Address().Hex(), from, to, queryInt(c, "limit", 500))
	if err != nil {
		h.log.WithError(err).Error("failed to query snapshots")
		respondError(c, err)
		return
	}
	respondOK(c, snaps)
}

// LatestSnapshotHandler GET /api/vault/snapshots/latest
func (h *VaultHandler) LatestSnapshotHandler(c *gin.Context) {
	snap, err := h.snapshots.Latest(c.Request.Context(), h.svc.Vault().Address().Hex())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no snapshot recorded yet",
			"code":    "NOT_FOUND",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snap)
}

// GetWithdrawalHandler GET /api/vault/withdrawals/:id
func (h *VaultHandler) GetWithdrawalHandler(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	req, err := h.svc.Request(id)
	if errors.Is(err, vault.ErrRequestNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "NOT_FOUND",
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, req)
}

// DepositRequest deposit body. Amounts are integer strings in the asset's
// smallest unit.
type DepositRequest struct {
	Asset    string `json:"asset" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Receiver string `json:"receiver"`
	MinOut   string `json:"min_out"`
}

// DepositHandler POST /api/vault/deposits
func (h *VaultHandler) DepositHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	asset := p.address("asset", req.Asset)
	amount := p.amount("amount", req.Amount)
	receiver := p.optionalAddress("receiver", req.Receiver, caller)
	minOut := p.amount("min_out", req.MinOut)
	if !p.ok() {
		return
	}

	res, err := h.svc.Deposit(c.Request.Context(), caller, asset, amount, receiver, minOut)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, res)
}

// WithdrawalRequestBody withdrawal request body
type WithdrawalRequestBody struct {
	Shares      string `json:"shares" binding:"required"`
	TargetAsset string `json:"target_asset"`
	MinOut      string `json:"min_out"`
}

// RequestWithdrawalHandler POST /api/vault/withdrawals
func (h *VaultHandler) RequestWithdrawalHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req WithdrawalRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	shares := p.amount("shares", req.Shares)
	target := p.optionalAddress("target_asset", req.TargetAsset, h.svc.Vault().ReferenceAsset())
	minOut := p.amount("min_out", req.MinOut)
	if !p.ok() {
		return
	}

	out, err := h.svc.RequestWithdrawal(c.Request.Context(), caller, shares, target, minOut)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, out)
}

// CompleteWithdrawalHandler POST /api/vault/withdrawals/:id/complete
func (h *VaultHandler) CompleteWithdrawalHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	payout, err := h.svc.CompleteWithdrawal(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, payout)
}

// CancelWithdrawalHandler POST /api/vault/withdrawals/:id/cancel
func (h *VaultHandler) CancelWithdrawalHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	req, err := h.svc.CancelWithdrawal(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, req)
}

// EmergencyWithdrawRequest emergency exit body
type EmergencyWithdrawRequest struct {
	Shares string `json:"shares" binding:"required"`
}

// EmergencyWithdrawHandler POST /api/vault/emergency-withdrawals
func (h *VaultHandler) EmergencyWithdrawHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req EmergencyWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	shares := p.amount("shares", req.Shares)
	if !p.ok() {
		return
	}
	paid, err := h.svc.EmergencyWithdraw(c.Request.Context(), caller, shares)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"shares": shares.String(), "paid": paid.String()})
}

// MyWithdrawalsHandler GET /api/my/withdrawals?status=&page=&page_size=
func (h *VaultHandler) MyWithdrawalsHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	status := models.WithdrawalRequestStatus(c.Query("status"))
	if status != "" && !vault.RequestStatus(status).Valid() {
		respondBadRequest(c, "status: expected pending, completed or cancelled")
		return
	}
	page, pageSize := queryInt(c, "page", 1), queryInt(c, "page_size", 20)
	list, total, err := h.withdrawals.FindByOwner(c.Request.Context(), caller.Hex(), status, page, pageSize)
	if err != nil {
		h.log.WithError(err).Error("failed to query withdrawals")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// MyOperationsHandler GET /api/my/operations?page=&page_size=
func (h *VaultHandler) MyOperationsHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	page, pageSize := queryInt(c, "page", 1), queryInt(c, "page_size", 20)
	list, total, err := h.operations.FindByCaller(c.Request.Context(), caller.Hex(), page, pageSize)
	if err != nil {
		h.log.WithError(err).Error("failed to query operations")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// MyBalancesHandler GET /api/my/balances
func (h *VaultHandler) MyBalancesHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	balances, err := h.svc.Balances(caller)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"address": caller.Hex(), "balances": balances})
}
