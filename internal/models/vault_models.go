package models

import (
	"time"
)

// Amounts are stored as base-10 strings of minor units, addresses as
// checksummed hex.

// VaultStateRecord the latest committed vault bookkeeping, one row per vault
type VaultStateRecord struct {
	VaultAddress   string    `json:"vault_address" gorm:"primaryKey;size:42"`
	State          string    `json:"state" gorm:"type:text;not null"` // JSON of vault.State
	TotalSupply    string    `json:"total_supply" gorm:"not null"`
	Custody        string    `json:"custody" gorm:"not null"`
	PendingReserve string    `json:"pending_reserve" gorm:"not null"`
	Available      string    `json:"available" gorm:"not null"`
	PricePerShare  string    `json:"price_per_share" gorm:"not null"`
	Halted         bool      `json:"halted" gorm:"not null;default:false"`
	NextRequestID  uint64    `json:"next_request_id" gorm:"not null"`
	LastOpID       string    `json:"last_op_id" gorm:"size:36"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (VaultStateRecord) TableName() string { return "vault_states" }

// WithdrawalRequestStatus mirrors vault.RequestStatus
type WithdrawalRequestStatus string

const (
	WithdrawalStatusPending   WithdrawalRequestStatus = "pending"
	WithdrawalStatusCompleted WithdrawalRequestStatus = "completed"
	WithdrawalStatusCancelled WithdrawalRequestStatus = "cancelled"
)

// WithdrawalRequest durable copy of a vault withdrawal request
type WithdrawalRequest struct {
	ID           uint64                  `json:"id" gorm:"primaryKey;autoIncrement:false"`
	VaultAddress string                  `json:"vault_address" gorm:"not null;size:42;index"`
	Owner        string                  `json:"owner" gorm:"not null;size:42;index:idx_withdrawal_owner_status"`
	SharesBurned string                  `json:"shares_burned" gorm:"not null"`
	Reserved     string                  `json:"reserved_amount" gorm:"not null"`
	TargetAsset  string                  `json:"target_asset" gorm:"not null;size:42"`
	MinOut       string                  `json:"min_out" gorm:"not null;default:0"`
	Status       WithdrawalRequestStatus `json:"status" gorm:"not null;size:16;index:idx_withdrawal_owner_status;index"`
	FeeAmount    string                  `json:"fee_amount" gorm:"not null;default:0"`
	PaidAmount   string                  `json:"paid_amount" gorm:"not null;default:0"`
	RequestedAt  time.Time               `json:"requested_at" gorm:"not null"`
	FinalizedAt  *time.Time              `json:"finalized_at,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

// LedgerBalance one holder's balance of one asset
type LedgerBalance struct {
	Asset     string    `json:"asset" gorm:"primaryKey;size:42"`
	Holder    string    `json:"holder" gorm:"primaryKey;size:42;index"`
	Amount    string    `json:"amount" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerSupply total supply of one asset
type LedgerSupply struct {
	Asset     string    `json:"asset" gorm:"primaryKey;size:42"`
	Amount    string    `json:"amount" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerAllowance spender allowance over an owner's balance
type LedgerAllowance struct {
	Asset     string    `json:"asset" gorm:"primaryKey;size:42"`
	Owner     string    `json:"owner" gorm:"primaryKey;size:42"`
	Spender   string    `json:"spender" gorm:"primaryKey;size:42"`
	Amount    string    `json:"amount" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperationRecord append-only log of committed operations
type OperationRecord struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"` // UUID
	VaultAddress string    `json:"vault_address" gorm:"size:42;index"`
	Op           string    `json:"op" gorm:"not null;size:40;index"`
	Caller       string    `json:"caller" gorm:"not null;size:42;index"`
	Events       string    `json:"events" gorm:"type:text"` // JSON array of vault.Event
	Detail       string    `json:"detail" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

func (OperationRecord) TableName() string { return "vault_operations" }

// ConversionStatus outcome of a keeper idle-conversion attempt
type ConversionStatus string

const (
	ConversionStatusSuccess ConversionStatus = "success"
	ConversionStatusSkipped ConversionStatus = "skipped"
	ConversionStatusFailed  ConversionStatus = "failed"
)

// ConversionRecord one idle-conversion attempt by the keeper
type ConversionRecord struct {
	ID           string           `json:"id" gorm:"primaryKey;size:36"` // UUID
	VaultAddress string           `json:"vault_address" gorm:"size:42;index"`
	AssetIn      string           `json:"asset_in" gorm:"not null;size:42;index"`
	AmountIn     string           `json:"amount_in" gorm:"not null;default:0"`
	Quote        string           `json:"quote" gorm:"not null;default:0"`
	MinOut       string           `json:"min_out" gorm:"not null;default:0"`
	AmountOut    string           `json:"amount_out" gorm:"not null;default:0"`
	RouteHint    string           `json:"route_hint" gorm:"size:64"`
	Status       ConversionStatus `json:"status" gorm:"not null;size:16;index"`
	Error        string           `json:"error,omitempty" gorm:"type:text"`
	ErrorKind    string           `json:"error_kind,omitempty" gorm:"size:32"`
	CreatedAt    time.Time        `json:"created_at" gorm:"index"`
}

// VaultSnapshot periodic totals used for price history
type VaultSnapshot struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	VaultAddress   string    `json:"vault_address" gorm:"not null;size:42;index"`
	PricePerShare  string    `json:"price_per_share" gorm:"not null"`
	TotalSupply    string    `json:"total_supply" gorm:"not null"`
	Custody        string    `json:"custody" gorm:"not null"`
	PendingReserve string    `json:"pending_reserve" gorm:"not null"`
	Available      string    `json:"available" gorm:"not null"`
	Halted         bool      `json:"halted"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&VaultStateRecord{},
		&WithdrawalRequest{},
		&LedgerBalance{},
		&LedgerSupply{},
		&LedgerAllowance{},
		&OperationRecord{},
		&ConversionRecord{},
		&VaultSnapshot{},
	}
}
