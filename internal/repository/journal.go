// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vault-backend/internal/ledger"
	"vault-backend/internal/models"
	"vault-backend/internal/vault"
)

// ErrCorruptRecord is returned when a stored row cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt journal record")

// Journal writes every committed vault operation to the database. Record
// runs inside the ledger transaction, so a failed write aborts the
// operation before anything becomes visible.
type Journal struct {
	db *gorm.DB
}

// NewJournal creates a gorm-backed vault.Journal
func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

var _ vault.Journal = (*Journal)(nil)

// Record upserts the changed state, requests, balances and supplies and
// appends the operation log row in one database transaction.
func (j *Journal) Record(ctx context.Context, cs *vault.Changeset) error {
	state, err := json.Marshal(cs.State)
	if err != nil {
		return fmt.Errorf("encode vault state: %w", err)
	}
	events, err := json.Marshal(cs.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := cs.Summary
		rec := models.VaultStateRecord{
			VaultAddress:   cs.Vault.Hex(),
			State:          string(state),
			TotalSupply:    amountString(s.TotalSupply),
			Custody:        amountString(s.Custody),
			PendingReserve: amountString(s.PendingReserve),
			Available:      amountString(s.Available),
			PricePerShare:  s.PricePerShare.String(),
			Halted:         s.Halted,
			NextRequestID:  s.NextRequestID,
			LastOpID:       cs.ID,
			UpdatedAt:      cs.At,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return fmt.Errorf("upsert vault state: %w", err)
		}

		if len(cs.Requests) > 0 {
			rows := make([]models.WithdrawalRequest, 0, len(cs.Requests))
			for _, r := range cs.Requests {
				rows = append(rows, RequestModel(cs.Vault, r, cs.At))
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("upsert withdrawal requests: %w", err)
			}
		}

		if err := writeLedger(tx, cs.Balances, cs.Supplies, cs.Allowances, cs.At); err != nil {
			return err
		}

		op := models.OperationRecord{
			ID:           cs.ID,
			VaultAddress: cs.Vault.Hex(),
			Op:           cs.Op,
			Caller:       cs.Caller.Hex(),
			Events:       string(events),
			CreatedAt:    cs.At,
		}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("append operation: %w", err)
		}
		return nil
	})
}

// LedgerEntry is a ledger-only operation (transfer, approve, mint) that
// does not go through the vault.
type LedgerEntry struct {
	ID         string
	Op         string
	Caller     common.Address
	At         time.Time
	Detail     map[string]string
	Balances   []ledger.BalanceChange
	Supplies   []ledger.SupplyChange
	Allowances []ledger.AllowanceChange
}

// RecordLedger persists the balances touched by a ledger-only operation.
func (j *Journal) RecordLedger(ctx context.Context, e LedgerEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := writeLedger(tx, e.Balances, e.Supplies, e.Allowances, e.At); err != nil {
			return err
		}
		op := models.OperationRecord{
			ID:        e.ID,
			Op:        e.Op,
			Caller:    e.Caller.Hex(),
			Detail:    string(detail),
			CreatedAt: e.At,
		}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("append operation: %w", err)
		}
		return nil
	})
}

func writeLedger(tx *gorm.DB, balances []ledger.BalanceChange, supplies []ledger.SupplyChange, allowances []ledger.AllowanceChange, at time.Time) error {
	if len(balances) > 0 {
		rows := make([]models.LedgerBalance, 0, len(balances))
		for _, b := range balances {
			rows = append(rows, models.LedgerBalance{
				Asset:     b.Asset.Hex(),
				Holder:    b.Holder.Hex(),
				Amount:    amountString(b.Amount),
				UpdatedAt: at,
			})
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
			return fmt.Errorf("upsert balances: %w", err)
		}
	}
	if len(supplies) > 0 {
		rows := make([]models.LedgerSupply, 0, len(supplies))
		for _, s := range supplies {
			rows = append(rows, models.LedgerSupply{
				Asset:     s.Asset.Hex(),
				Amount:    amountString(s.Amount),
				UpdatedAt: at,
			})
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
			return fmt.Errorf("upsert supplies: %w", err)
		}
	}
	for _, a := range allowances {
		key := tx.Where("asset = ? AND owner = ? AND spender = ?", a.Asset.Hex(), a.Owner.Hex(), a.Spender.Hex())
		if a.Amount.IsZero() {
			if err := key.Delete(&models.LedgerAllowance{}).Error; err != nil {
				return fmt.Errorf("clear allowance: %w", err)
			}
			continue
		}
		row := models.LedgerAllowance{
			Asset:     a.Asset.Hex(),
			Owner:     a.Owner.Hex(),
			Spender:   a.Spender.Hex(),
			Amount:    a.Amount.String(),
			UpdatedAt: at,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert allowance: %w", err)
		}
	}
	return nil
}

// Snapshot is what the journal holds for one vault, enough to rebuild the
// in-memory ledger and vault after a restart. Ledger rows can exist
// without vault state when only genesis or ledger operations were written.
type Snapshot struct {
	Found      bool
	State      vault.State
	Requests   []vault.WithdrawalRequest
	Balances   []ledger.BalanceChange
	Supplies   []ledger.SupplyChange
	Allowances []ledger.AllowanceChange
}

// HasLedger reports whether any ledger rows were journaled.
func (s Snapshot) HasLedger() bool {
	return len(s.Balances) > 0 || len(s.Supplies) > 0
}

// Load reads the journal for vaultAddr. Found is false when no vault
// operation has been committed yet.
func (j *Journal) Load(ctx context.Context, vaultAddr common.Address) (Snapshot, error) {
	var out Snapshot
	db := j.db.WithContext(ctx)

	if err := j.loadLedger(db, &out); err != nil {
		return out, err
	}

	var rec models.VaultStateRecord
	err := db.Where("vault_address = ?", vaultAddr.Hex()).First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return out, nil
	case err != nil:
		return out, fmt.Errorf("load vault state: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.State), &out.State); err != nil {
		return out, fmt.Errorf("%w: vault state: %v", ErrCorruptRecord, err)
	}
	out.Found = true

	var reqs []models.WithdrawalRequest
	if err := db.Where("vault_address = ?", vaultAddr.Hex()).Order("id ASC").Find(&reqs).Error; err != nil {
		return out, fmt.Errorf("load withdrawal requests: %w", err)
	}
	for _, m := range reqs {
		r, err := RequestFromModel(m)
		if err != nil {
			return out, err
		}
		out.Requests = append(out.Requests, r)
	}
	return out, nil
}

func (j *Journal) loadLedger(db *gorm.DB, out *Snapshot) error {
	var balances []models.LedgerBalance
	if err := db.Find(&balances).Error; err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	for _, b := range balances {
		amt, err := parseAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("balance %s/%s: %w", b.Asset, b.Holder, err)
		}
		out.Balances = append(out.Balances, ledger.BalanceChange{
			Asset:  common.HexToAddress(b.Asset),
			Holder: common.HexToAddress(b.Holder),
			Amount: amt,
		})
	}

	var supplies []models.LedgerSupply
	if err := db.Find(&supplies).Error; err != nil {
		return fmt.Errorf("load supplies: %w", err)
	}
	for _, s := range supplies {
		amt, err := parseAmount(s.Amount)
		if err != nil {
			return fmt.Errorf("supply %s: %w", s.Asset, err)
		}
		out.Supplies = append(out.Supplies, ledger.SupplyChange{Asset: common.HexToAddress(s.Asset), Amount: amt})
	}

	var allowances []models.LedgerAllowance
	if err := db.Find(&allowances).Error; err != nil {
		return fmt.Errorf("load allowances: %w", err)
	}
	for _, a := range allowances {
		amt, err := parseAmount(a.Amount)
		if err != nil {
			return fmt.Errorf("allowance %s/%s/%s: %w", a.Asset, a.Owner, a.Spender, err)
		}
		out.Allowances = append(out.Allowances, ledger.AllowanceChange{
			Asset:   common.HexToAddress(a.Asset),
			Owner:   common.HexToAddress(a.Owner),
			Spender: common.HexToAddress(a.Spender),
			Amount:  amt,
		})
	}
	return nil
}

// RequestModel converts a vault request into its row.
func RequestModel(vaultAddr common.Address, r vault.WithdrawalRequest, at time.Time) models.WithdrawalRequest {
	m := models.WithdrawalRequest{
		ID:           r.ID,
		VaultAddress: vaultAddr.Hex(),
		Owner:        r.Owner.Hex(),
		SharesBurned: amountString(r.Shares),
		Reserved:     amountString(r.Reserved),
		TargetAsset:  r.TargetAsset.Hex(),
		MinOut:       amountString(r.MinOut),
		Status:       models.WithdrawalRequestStatus(r.Status),
		FeeAmount:    amountString(r.FeeAmount),
		PaidAmount:   amountString(r.PaidAmount),
		RequestedAt:  r.CreatedAt,
		UpdatedAt:    at,
	}
	if !r.FinalizedAt.IsZero() {
		t := r.FinalizedAt
		m.FinalizedAt = &t
	}
	return m
}

// RequestFromModel converts a row back into a vault request.
func RequestFromModel(m models.WithdrawalRequest) (vault.WithdrawalRequest, error) {
	r := vault.WithdrawalRequest{
		ID:          m.ID,
		Owner:       common.HexToAddress(m.Owner),
		TargetAsset: common.HexToAddress(m.TargetAsset),
		CreatedAt:   m.RequestedAt,
		Status:      vault.RequestStatus(m.Status),
	}
	if !r.Status.Valid() {
		return r, fmt.Errorf("%w: request %d status %q", ErrCorruptRecord, m.ID, m.Status)
	}
	if m.FinalizedAt != nil {
		r.FinalizedAt = *m.FinalizedAt
	}
	var err error
	for _, f := range []struct {
		dst *sdkmath.Int
		src string
	}{
		{&r.Shares, m.SharesBurned},
		{&r.Reserved, m.Reserved},
		{&r.MinOut, m.MinOut},
		{&r.FeeAmount, m.FeeAmount},
		{&r.PaidAmount, m.PaidAmount},
	} {
		if *f.dst, err = parseAmount(f.src); err != nil {
			return r, fmt.Errorf("request %d: %w", m.ID, err)
		}
	}
	return r, nil
}

func amountString(i sdkmath.Int) string {
	if i.IsNil() {
		return "0"
	}
	return i.String()
}

func parseAmount(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: amount %q", ErrCorruptRecord, s)
	}
	return v, nil
}
