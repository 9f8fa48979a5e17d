package ledger

import (
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// BalanceChange is the final value of a balance touched by a transaction.
type BalanceChange struct {
	Asset  common.Address
	Holder common.Address
	Amount sdkmath.Int
}

// SupplyChange is the final supply of an asset touched by a transaction.
type SupplyChange struct {
	Asset  common.Address
	Amount sdkmath.Int
}

// AllowanceChange is the final value of an allowance touched by a
// transaction. Zero means the allowance was cleared.
type AllowanceChange struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  sdkmath.Int
}

// Tx buffers writes over the committed ledger. Nothing is visible to other
// readers until Commit.
type Tx struct {
	base       *Ledger
	closed     bool
	balances   map[balanceKey]sdkmath.Int
	supplies   map[common.Address]sdkmath.Int
	allowances map[allowanceKey]sdkmath.Int
}

func (tx *Tx) Asset(asset common.Address) (Asset, bool) {
	a, ok := tx.base.assets[asset]
	return a, ok
}

func (tx *Tx) BalanceOf(asset, holder common.Address) sdkmath.Int {
	k := balanceKey{asset, holder}
	if v, ok := tx.balances[k]; ok {
		return v
	}
	return committed{tx.base}.BalanceOf(asset, holder)
}

func (tx *Tx) TotalSupply(asset common.Address) sdkmath.Int {
	if v, ok := tx.supplies[asset]; ok {
		return v
	}
	return committed{tx.base}.TotalSupply(asset)
}

func (tx *Tx) Allowance(asset, owner, spender common.Address) sdkmath.Int {
	k := allowanceKey{asset, owner, spender}
	if v, ok := tx.allowances[k]; ok {
		return v
	}
	return committed{tx.base}.Allowance(asset, owner, spender)
}

// Transfer moves amount from one holder to another. For fee-on-transfer
// assets the recipient is credited amount minus the fee and the fee is
// burned.
func (tx *Tx) Transfer(asset, from, to common.Address, amount sdkmath.Int) error {
	a, err := tx.check(asset, amount)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("transfer %s: %w", a.Symbol, ErrZeroAddress)
	}
	bal := tx.BalanceOf(asset, from)
	if bal.LT(amount) {
		return fmt.Errorf("transfer %s %s from %s (balance %s): %w", amount, a.Symbol, from.Hex(), bal, ErrInsufficientBalance)
	}
	fee := amount.MulRaw(int64(a.TransferFeeBps)).QuoRaw(bpsDenominator)
	tx.balances[balanceKey{asset, from}] = bal.Sub(amount)
	tx.balances[balanceKey{asset, to}] = tx.BalanceOf(asset, to).Add(amount.Sub(fee))
	if fee.IsPositive() {
		tx.supplies[asset] = tx.TotalSupply(asset).Sub(fee)
	}
	return nil
}

// Approve sets the spender allowance, replacing any previous value.
func (tx *Tx) Approve(asset, owner, spender common.Address, amount sdkmath.Int) error {
	if _, err := tx.check(asset, amount); err != nil {
		return err
	}
	tx.allowances[allowanceKey{asset, owner, spender}] = amount
	return nil
}

// TransferFrom spends allowance granted by from to spender.
func (tx *Tx) TransferFrom(asset, spender, from, to common.Address, amount sdkmath.Int) error {
	a, err := tx.check(asset, amount)
	if err != nil {
		return err
	}
	allowed := tx.Allowance(asset, from, spender)
	if allowed.LT(amount) {
		return fmt.Errorf("transferFrom %s %s by %s (allowance %s): %w", amount, a.Symbol, spender.Hex(), allowed, ErrInsufficientAllow)
	}
	if err := tx.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	tx.allowances[allowanceKey{asset, from, spender}] = allowed.Sub(amount)
	return nil
}

// Mint credits new units; only the asset minter may call it.
func (tx *Tx) Mint(asset, minter, to common.Address, amount sdkmath.Int) error {
	a, err := tx.check(asset, amount)
	if err != nil {
		return err
	}
	if a.Minter == (common.Address{}) || a.Minter != minter {
		return fmt.Errorf("mint %s by %s: %w", a.Symbol, minter.Hex(), ErrNotMinter)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("mint %s: %w", a.Symbol, ErrZeroAddress)
	}
	tx.balances[balanceKey{asset, to}] = tx.BalanceOf(asset, to).Add(amount)
	tx.supplies[asset] = tx.TotalSupply(asset).Add(amount)
	return nil
}

// Burn destroys units held by from; only the asset minter may call it.
func (tx *Tx) Burn(asset, minter, from common.Address, amount sdkmath.Int) error {
	a, err := tx.check(asset, amount)
	if err != nil {
		return err
	}
	if a.Minter == (common.Address{}) || a.Minter != minter {
		return fmt.Errorf("burn %s by %s: %w", a.Symbol, minter.Hex(), ErrNotMinter)
	}
	bal := tx.BalanceOf(asset, from)
	if bal.LT(amount) {
		return fmt.Errorf("burn %s %s from %s (balance %s): %w", amount, a.Symbol, from.Hex(), bal, ErrInsufficientBalance)
	}
	tx.balances[balanceKey{asset, from}] = bal.Sub(amount)
	tx.supplies[asset] = tx.TotalSupply(asset).Sub(amount)
	return nil
}

// Changes reports the staged balances and supplies, ordered for stable
// journaling.
func (tx *Tx) Changes() ([]BalanceChange, []SupplyChange) {
	balances := make([]BalanceChange, 0, len(tx.balances))
	for k, v := range tx.balances {
		balances = append(balances, BalanceChange{Asset: k.asset, Holder: k.holder, Amount: v})
	}
	sort.Slice(balances, func(i, j int) bool {
		if c := balances[i].Asset.Cmp(balances[j].Asset); c != 0 {
			return c < 0
		}
		return balances[i].Holder.Cmp(balances[j].Holder) < 0
	})
	supplies := make([]SupplyChange, 0, len(tx.supplies))
	for k, v := range tx.supplies {
		supplies = append(supplies, SupplyChange{Asset: k, Amount: v})
	}
	sort.Slice(supplies, func(i, j int) bool {
		return supplies[i].Asset.Cmp(supplies[j].Asset) < 0
	})
	return balances, supplies
}

// AllowanceChanges reports the staged allowances in stable order.
func (tx *Tx) AllowanceChanges() []AllowanceChange {
	out := make([]AllowanceChange, 0, len(tx.allowances))
	for k, v := range tx.allowances {
		out = append(out, AllowanceChange{Asset: k.asset, Owner: k.owner, Spender: k.spender, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Asset.Cmp(out[j].Asset); c != 0 {
			return c < 0
		}
		if c := out[i].Owner.Cmp(out[j].Owner); c != 0 {
			return c < 0
		}
		return out[i].Spender.Cmp(out[j].Spender) < 0
	})
	return out
}

// Commit applies every staged write and releases the ledger.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	for k, v := range tx.balances {
		tx.base.balances[k] = v
	}
	for k, v := range tx.supplies {
		tx.base.supplies[k] = v
	}
	for k, v := range tx.allowances {
		if v.IsZero() {
			delete(tx.base.allowances, k)
			continue
		}
		tx.base.allowances[k] = v
	}
	tx.close()
	return nil
}

// Discard drops every staged write and releases the ledger. Safe to call
// after Commit.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.balances = nil
	tx.supplies = nil
	tx.allowances = nil
	tx.base.mu.Unlock()
}

func (tx *Tx) check(asset common.Address, amount sdkmath.Int) (Asset, error) {
	if tx.closed {
		return Asset{}, ErrTxClosed
	}
	a, ok := tx.base.assets[asset]
	if !ok {
		return Asset{}, fmt.Errorf("asset %s: %w", asset.Hex(), ErrUnknownAsset)
	}
	if amount.IsNil() || amount.IsNegative() {
		return Asset{}, fmt.Errorf("%s: %w", a.Symbol, ErrNegativeAmount)
	}
	return a, nil
}
