package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/repository"
	"vault-backend/internal/services"
)

// LedgerHandler allowance, transfer and faucet endpoints, plus admin reads
// of the journaled ledger rows.
type LedgerHandler struct {
	svc     *services.VaultService
	journal repository.LedgerRepository
	log     logrus.FieldLogger
}

func NewLedgerHandler(svc *services.VaultService, journal repository.LedgerRepository, logger logrus.FieldLogger) *LedgerHandler {
	return &LedgerHandler{svc: svc, journal: journal, log: logger.WithField("component", "ledger_api")}
}

// ApproveRequest approve body
type ApproveRequest struct {
	Asset   string `json:"asset" binding:"required"`
	Spender string `json:"spender" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// ApproveHandler POST /api/ledger/approve
func (h *LedgerHandler) ApproveHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	asset := p.address("asset", req.Asset)
	spender := p.address("spender", req.Spender)
	amount := p.amount("amount", req.Amount)
	if !p.ok() {
		return
	}
	if err := h.svc.Approve(c.Request.Context(), caller, asset, spender, amount); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"asset": asset.Hex(), "owner": caller.Hex(), "spender": spender.Hex(), "amount": amount.String()})
}

// TransferRequest transfer body
type TransferRequest struct {
	Asset  string `json:"asset" binding:"required"`
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// TransferHandler POST /api/ledger/transfer
func (h *LedgerHandler) TransferHandler(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	asset := p.address("asset", req.Asset)
	to := p.address("to", req.To)
	amount := p.amount("amount", req.Amount)
	if !p.ok() {
		return
	}
	if err := h.svc.Transfer(c.Request.Context(), caller, asset, to, amount); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"asset": asset.Hex(), "from": caller.Hex(), "to": to.Hex(), "amount": amount.String()})
}

// MintHandler POST /api/admin/ledger/mint
func (h *LedgerHandler) MintHandler(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	p := &fieldParser{c: c}
	asset := p.address("asset", req.Asset)
	to := p.address("to", req.To)
	amount := p.amount("amount", req.Amount)
	if !p.ok() {
		return
	}
	if err := h.svc.Mint(c.Request.Context(), asset, to, amount); err != nil {
		respondError(c, err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"asset":  asset.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
		"admin":  c.GetString(ContextAdminUsername),
	}).Info("faucet mint")
	respondOK(c, gin.H{"asset": asset.Hex(), "to": to.Hex(), "amount": amount.String()})
}

// JournaledBalancesHandler GET /api/admin/ledger/balances/:holder
func (h *LedgerHandler) JournaledBalancesHandler(c *gin.Context) {
	p := &fieldParser{c: c}
	holder := p.address("holder", c.Param("holder"))
	if !p.ok() {
		return
	}
	rows, err := h.journal.BalancesOf(c.Request.Context(), holder.Hex())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rows)
}

// HoldersHandler GET /api/admin/ledger/holders?asset=&limit=
func (h *LedgerHandler) HoldersHandler(c *gin.Context) {
	p := &fieldParser{c: c}
	asset := p.address("asset", c.Query("asset"))
	if !p.ok() {
		return
	}
	rows, err := h.journal.Holders(c.Request.Context(), asset.Hex(), queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rows)
}

// SuppliesHandler GET /api/admin/ledger/supplies
func (h *LedgerHandler) SuppliesHandler(c *gin.Context) {
	rows, err := h.journal.Supplies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, rows)
}
