package vault

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"vault-backend/internal/ledger"
)

// Host is the ledger the vault settles against. Begin must serialise
// transactions; View reads committed state.
type Host interface {
	Begin() *ledger.Tx
	View(fn func(r ledger.Reader) error) error
}

// State is the mutable vault bookkeeping. Each operation works on a copy
// and the copy replaces the original only when the operation commits.
type State struct {
	Fees               FeeConfig     `json:"fees"`
	PendingReserve     sdkmath.Int   `json:"pending_reserve"`
	Timelock           time.Duration `json:"timelock"`
	Halted             bool          `json:"halted"`
	Adapter            string        `json:"exchange_adapter"`
	NextRequestID      uint64        `json:"next_request_id"`
	Permissions        Permissions   `json:"permissions"`
	Idle               IdlePolicy    `json:"idle_policy"`
	LastIdleConversion time.Time     `json:"last_idle_conversion"`
}

func (s State) clone() State {
	out := s
	out.Permissions = s.Permissions.clone()
	return out
}

// Event names published after commit.
const (
	EventDeposited           = "Deposited"
	EventWithdrawalRequested = "WithdrawalRequested"
	EventWithdrawalCompleted = "WithdrawalCompleted"
	EventWithdrawalCancelled = "WithdrawalCancelled"
	EventEmergencyWithdrawn  = "EmergencyWithdrawn"
	EventFeesAccrued         = "ManagementFeeAccrued"
	EventConfigUpdated       = "ConfigUpdated"
	EventHalted              = "Halted"
	EventResumed             = "Resumed"
	EventCapabilityGranted   = "CapabilityGranted"
	EventCapabilityRevoked   = "CapabilityRevoked"
	EventIdlePolicyUpdated   = "IdlePolicyUpdated"
	EventIdleConverted       = "IdleConverted"
)

// Event is a notification produced by a committed operation.
type Event struct {
	Name   string            `json:"event"`
	Vault  common.Address    `json:"vault"`
	OpID   string            `json:"op_id"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields"`
}

// Changeset is everything one operation changed. It is handed to the
// journal before the ledger commits and to observers after.
type Changeset struct {
	ID         string
	Op         string
	Caller     common.Address
	Vault      common.Address
	At         time.Time
	State      State
	Requests   []WithdrawalRequest
	Balances   []ledger.BalanceChange
	Supplies   []ledger.SupplyChange
	Allowances []ledger.AllowanceChange
	Events     []Event
	Summary    Summary
}

// Journal persists a changeset. A Record error aborts the operation and
// nothing is committed.
type Journal interface {
	Record(ctx context.Context, cs *Changeset) error
}

// Observer is notified after a successful commit. It must not call back
// into the vault synchronously.
type Observer func(cs *Changeset)

// Summary is a consistent view of vault totals.
type Summary struct {
	Address         common.Address    `json:"address"`
	ReferenceAsset  common.Address    `json:"reference_asset"`
	ShareAsset      common.Address    `json:"share_asset"`
	SupportedAssets []common.Address  `json:"supported_assets"`
	TotalSupply     sdkmath.Int       `json:"total_supply"`
	Custody         sdkmath.Int       `json:"custody"`
	PendingReserve  sdkmath.Int       `json:"pending_reserve"`
	Available       sdkmath.Int       `json:"available"`
	PricePerShare   sdkmath.LegacyDec `json:"price_per_share"`
	Halted          bool              `json:"halted"`
	Fees            FeeConfig         `json:"fees"`
	Timelock        time.Duration     `json:"timelock"`
	Adapter         string            `json:"exchange_adapter"`
	NextRequestID   uint64            `json:"next_request_id"`
	Idle            IdlePolicy        `json:"idle_policy"`
	LastIdleRun     time.Time         `json:"last_idle_conversion"`
}

// Totals returns the pricing inputs of s.
func (s Summary) Totals() Totals {
	return Totals{Supply: s.TotalSupply, Available: s.Available}
}
