package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"vault-backend/internal/models"
	"vault-backend/internal/repository"
	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

// AdminVaultHandler admin vault operations. Every call is made as the
// configured admin address; the vault still checks its capabilities.
type AdminVaultHandler struct {
	svc         *services.VaultService
	operator    common.Address
	conversions repository.ConversionRepository
	operations  repository.OperationRepository
	withdrawals repository.WithdrawalRequestRepository
	log         logrus.FieldLogger
}

func NewAdminVaultHandler(svc *services.VaultService, operator common.Address, conversions repository.ConversionRepository, operations repository.OperationRepository, withdrawals repository.WithdrawalRequestRepository, logger logrus.FieldLogger) *AdminVaultHandler {
	return &AdminVaultHandler{
		svc:         svc,
		operator:    operator,
		conversions: conversions,
		operations:  operations,
		withdrawals: withdrawals,
		log:         logger.WithField("component", "admin_api"),
	}
}

func (h *AdminVaultHandler) audit(c *gin.Context, action string, fields logrus.Fields) {
	h.log.WithFields(fields).WithFields(logrus.Fields{
		"action":    action,
		"admin":     c.GetString(ContextAdminUsername),
		"operator":  h.operator.Hex(),
		"client_ip": c.ClientIP(),
	}).Info("admin action")
}

// UpdateConfigHandler PATCH /api/admin/vault/config
func (h *AdminVaultHandler) UpdateConfigHandler(c *gin.Context) {
	var u vault.ConfigUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	st, err := h.svc.UpdateConfig(c.Request.Context(), h.operator, u)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "update_config", logrus.Fields{"adapter": st.Adapter, "timelock": st.Timelock.String()})
	respondOK(c, st)
}

// HaltHandler POST /api/admin/vault/halt
func (h *AdminVaultHandler) HaltHandler(c *gin.Context) {
	if err := h.svc.Halt(c.Request.Context(), h.operator); err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "halt", nil)
	respondOK(c, gin.H{"halted": true})
}

// ResumeHandler POST /api/admin/vault/resume
func (h *AdminVaultHandler) ResumeHandler(c *gin.Context) {
	if err := h.svc.Resume(c.Request.Context(), h.operator); err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "resume", nil)
	respondOK(c, gin.H{"halted": false})
}

// CapabilityRequest grant or revoke body
type CapabilityRequest struct {
	Action     string `json:"action" binding:"required,oneof=grant revoke"`
	Capability string `json:"capability" binding:"required"`
	Address    string `json:"address" binding:"required"`
}

// CapabilitiesHandler POST /api/admin/vault/capabilities
func (h *AdminVaultHandler) CapabilitiesHandler(c *gin.Context) {
	var req CapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	capability, err := vault.ParseCapability(req.Capability)
	if err != nil {
		respondError(c, err)
		return
	}
	p := &fieldParser{c: c}
	who := p.address("address", req.Address)
	if !p.ok() {
		return
	}

	if req.Action == "grant" {
		err = h.svc.Grant(c.Request.Context(), h.operator, capability, who)
	} else {
		err = h.svc.Revoke(c.Request.Context(), h.operator, capability, who)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, req.Action, logrus.Fields{"capability": capability, "address": who.Hex()})
	respondOK(c, gin.H{"action": req.Action, "capability": capability, "address": who.Hex()})
}

// IdlePolicyRequest idle conversion policy body; max_amount is in the
// reference asset's smallest unit.
type IdlePolicyRequest struct {
	IntervalSeconds int64  `json:"interval_seconds" binding:"required"`
	MaxAmount       string `json:"max_amount" binding:"required"`
	MaxSlippageBps  uint32 `json:"max_slippage_bps"`
}

// SetIdlePolicyHandler PUT /api/admin/vault/idle-policy
func (h *AdminVaultHandler) SetIdlePolicyHandler(c *gin.Context) {
	var req IdlePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	maxAmount := p.amount("max_amount", req.MaxAmount)
	if !p.ok() {
		return
	}
	policy := vault.IdlePolicy{
		Interval:       time.Duration(req.IntervalSeconds) * time.Second,
		MaxAmount:      maxAmount,
		MaxSlippageBps: req.MaxSlippageBps,
	}
	if err := h.svc.SetIdlePolicy(c.Request.Context(), h.operator, policy); err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "set_idle_policy", logrus.Fields{"interval": policy.Interval.String(), "max_amount": maxAmount.String()})
	respondOK(c, policy)
}

// IdleConversionRequest manual idle conversion. An empty amount converts
// the quoted amount with the quoted floor as minimum output.
type IdleConversionRequest struct {
	Asset     string `json:"asset" binding:"required"`
	Amount    string `json:"amount"`
	MinOut    string `json:"min_out"`
	RouteHint string `json:"route_hint"`
}

// ExecuteIdleConversionHandler POST /api/admin/vault/idle-conversions
func (h *AdminVaultHandler) ExecuteIdleConversionHandler(c *gin.Context) {
	var req IdleConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	asset := p.address("asset", req.Asset)
	amount := p.amount("amount", req.Amount)
	minOut := p.amount("min_out", req.MinOut)
	if !p.ok() {
		return
	}

	if req.Amount == "" {
		q, err := h.svc.QuoteIdleConversion(asset, req.RouteHint)
		if err != nil {
			respondError(c, err)
			return
		}
		amount = q.AmountIn
		if req.MinOut == "" {
			minOut = q.MinOut
		}
	}

	res, err := h.svc.ExecuteIdleConversion(c.Request.Context(), h.operator, asset, amount, minOut, req.RouteHint)
	if err != nil {
		respondError(c, err)
		return
	}
	h.audit(c, "idle_conversion", logrus.Fields{"asset": asset.Hex(), "amount_in": res.AmountIn.String(), "amount_out": res.AmountOut.String()})
	respondOK(c, res)
}

// QuoteIdleConversionHandler GET /api/admin/vault/idle-conversions/quote?asset=&route_hint=
func (h *AdminVaultHandler) QuoteIdleConversionHandler(c *gin.Context) {
	p := &fieldParser{c: c}
	asset := p.address("asset", c.Query("asset"))
	if !p.ok() {
		return
	}
	q, err := h.svc.QuoteIdleConversion(asset, c.Query("route_hint"))
	if err != nil {
		respondError(c, err)
		return
	}
	last, err := h.conversions.LastSuccess(c.Request.Context(), asset.Hex())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.log.WithError(err).Warn("failed to load last idle conversion")
	}
	respondOK(c, gin.H{"quote": q, "last_success": last})
}

// ConversionsHandler GET /api/admin/vault/idle-conversions?asset=&limit=
func (h *AdminVaultHandler) ConversionsHandler(c *gin.Context) {
	asset := c.Query("asset")
	if asset != "" {
		p := &fieldParser{c: c}
		asset = p.address("asset", asset).Hex()
		if !p.ok() {
			return
		}
	}
	list, err := h.conversions.Recent(c.Request.Context(), asset, queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, list)
}

// OperationsHandler GET /api/admin/vault/operations?op=&limit=
func (h *AdminVaultHandler) OperationsHandler(c *gin.Context) {
	list, err := h.operations.Recent(c.Request.Context(), c.Query("op"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, list)
}

// OperationCountHandler GET /api/admin/vault/operations/count?op=&since=
// since defaults to 24 hours ago.
func (h *AdminVaultHandler) OperationCountHandler(c *gin.Context) {
	op := c.Query("op")
	if op == "" {
		respondBadRequest(c, "op is required")
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondBadRequest(c, "since: expected RFC3339 time")
			return
		}
		since = t
	}
	count, err := h.operations.CountSince(c.Request.Context(), op, since)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"op": op, "since": since, "count": count})
}

// WithdrawalsHandler GET /api/admin/vault/withdrawals?status=
// Lists requests in one status, oldest first, with per-status counts.
func (h *AdminVaultHandler) WithdrawalsHandler(c *gin.Context) {
	status := models.WithdrawalRequestStatus(c.DefaultQuery("status", string(models.WithdrawalStatusPending)))
	if !vault.RequestStatus(status).Valid() {
		respondBadRequest(c, "status: expected pending, completed or cancelled")
		return
	}
	ctx := c.Request.Context()
	list, err := h.withdrawals.FindByStatus(ctx, status)
	if err != nil {
		respondError(c, err)
		return
	}
	counts := make(map[models.WithdrawalRequestStatus]int64, 3)
	for _, s := range []models.WithdrawalRequestStatus{models.WithdrawalStatusPending, models.WithdrawalStatusCompleted, models.WithdrawalStatusCancelled} {
		n, err := h.withdrawals.CountByStatus(ctx, s)
		if err != nil {
			respondError(c, err)
			return
		}
		counts[s] = n
	}
	respondOK(c, gin.H{"status": status, "requests": list, "counts": counts})
}
