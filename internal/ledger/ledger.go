// Package ledger is the in-memory host ledger the vault settles against.
// It holds fungible balances, allowances and supplies for every registered
// asset, and serialises all writes through staged transactions.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

const bpsDenominator = 10_000

var (
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrAssetExists         = errors.New("asset already registered")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientAllow   = errors.New("insufficient allowance")
	ErrNotMinter           = errors.New("caller is not the asset minter")
	ErrNegativeAmount      = errors.New("negative amount")
	ErrZeroAddress         = errors.New("zero address")
	ErrTxClosed            = errors.New("transaction already closed")
)

// Asset describes a registered fungible asset.
type Asset struct {
	Address  common.Address `json:"address" yaml:"address"`
	Symbol   string         `json:"symbol" yaml:"symbol"`
	Decimals uint8          `json:"decimals" yaml:"decimals"`
	// TransferFeeBps is burned from every transfer; non-zero models
	// fee-on-transfer tokens.
	TransferFeeBps uint32 `json:"transfer_fee_bps" yaml:"transferFeeBps"`
	// Minter is the only address allowed to mint or burn. Zero means the
	// supply is fixed after genesis.
	Minter common.Address `json:"minter" yaml:"minter"`
}

type balanceKey struct {
	asset  common.Address
	holder common.Address
}

type allowanceKey struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Reader is the read side shared by committed views and open transactions.
type Reader interface {
	Asset(asset common.Address) (Asset, bool)
	BalanceOf(asset, holder common.Address) sdkmath.Int
	TotalSupply(asset common.Address) sdkmath.Int
	Allowance(asset, owner, spender common.Address) sdkmath.Int
}

// Ledger is the committed state. Exactly one transaction may be open at a
// time; readers wait for it to finish.
type Ledger struct {
	mu         sync.Mutex
	assets     map[common.Address]Asset
	balances   map[balanceKey]sdkmath.Int
	supplies   map[common.Address]sdkmath.Int
	allowances map[allowanceKey]sdkmath.Int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		assets:     make(map[common.Address]Asset),
		balances:   make(map[balanceKey]sdkmath.Int),
		supplies:   make(map[common.Address]sdkmath.Int),
		allowances: make(map[allowanceKey]sdkmath.Int),
	}
}

// RegisterAsset adds an asset with zero supply.
func (l *Ledger) RegisterAsset(a Asset) error {
	if a.Address == (common.Address{}) {
		return fmt.Errorf("register %s: %w", a.Symbol, ErrZeroAddress)
	}
	if a.TransferFeeBps > bpsDenominator {
		return fmt.Errorf("register %s: transfer fee %d bps out of range", a.Symbol, a.TransferFeeBps)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.assets[a.Address]; ok {
		return fmt.Errorf("register %s: %w", a.Symbol, ErrAssetExists)
	}
	l.assets[a.Address] = a
	l.supplies[a.Address] = sdkmath.ZeroInt()
	return nil
}

// Assets lists registered assets ordered by address.
func (l *Ledger) Assets() []Asset {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Asset, 0, len(l.assets))
	for _, a := range l.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// Begin opens a transaction and holds the ledger until Commit or Discard.
func (l *Ledger) Begin() *Tx {
	l.mu.Lock()
	return &Tx{
		base:       l,
		balances:   make(map[balanceKey]sdkmath.Int),
		supplies:   make(map[common.Address]sdkmath.Int),
		allowances: make(map[allowanceKey]sdkmath.Int),
	}
}

// Update runs fn in a transaction, committing when fn returns nil.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	tx := l.Begin()
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// View runs fn against committed state.
func (l *Ledger) View(fn func(r Reader) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(committed{l})
}

// Restore overwrites balances and supplies, typically from the journal at
// startup. Unknown assets are rejected.
func (l *Ledger) Restore(balances []BalanceChange, supplies []SupplyChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range balances {
		if _, ok := l.assets[b.Asset]; !ok {
			return fmt.Errorf("restore balance %s: %w", b.Asset.Hex(), ErrUnknownAsset)
		}
		l.balances[balanceKey{b.Asset, b.Holder}] = b.Amount
	}
	for _, s := range supplies {
		if _, ok := l.assets[s.Asset]; !ok {
			return fmt.Errorf("restore supply %s: %w", s.Asset.Hex(), ErrUnknownAsset)
		}
		l.supplies[s.Asset] = s.Amount
	}
	return nil
}

// RestoreAllowances overwrites allowances loaded from the journal.
func (l *Ledger) RestoreAllowances(allowances []AllowanceChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range allowances {
		if _, ok := l.assets[a.Asset]; !ok {
			return fmt.Errorf("restore allowance %s: %w", a.Asset.Hex(), ErrUnknownAsset)
		}
		k := allowanceKey{a.Asset, a.Owner, a.Spender}
		if a.Amount.IsZero() {
			delete(l.allowances, k)
			continue
		}
		l.allowances[k] = a.Amount
	}
	return nil
}

// committed reads the ledger maps directly; callers hold l.mu.
type committed struct{ l *Ledger }

func (c committed) Asset(asset common.Address) (Asset, bool) {
	a, ok := c.l.assets[asset]
	return a, ok
}

func (c committed) BalanceOf(asset, holder common.Address) sdkmath.Int {
	if v, ok := c.l.balances[balanceKey{asset, holder}]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (c committed) TotalSupply(asset common.Address) sdkmath.Int {
	if v, ok := c.l.supplies[asset]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (c committed) Allowance(asset, owner, spender common.Address) sdkmath.Int {
	if v, ok := c.l.allowances[allowanceKey{asset, owner, spender}]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}
