package vault

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"vault-backend/internal/ledger"
)

// Bank is the host-ledger surface available inside a transaction. Exchange
// adapters settle through it so their transfers commit or roll back with
// the vault operation that invoked them.
type Bank interface {
	ledger.Reader
	Transfer(asset, from, to common.Address, amount sdkmath.Int) error
	Approve(asset, owner, spender common.Address, amount sdkmath.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount sdkmath.Int) error
}

// SwapRequest is one exact-input swap. The adapter pulls AmountIn of
// AssetIn from Payer using the allowance granted to its Address, and
// delivers AssetOut to Recipient.
type SwapRequest struct {
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     sdkmath.Int
	MinAmountOut sdkmath.Int
	Payer        common.Address
	Recipient    common.Address
	RouteHint    string
}

// ExchangeAdapter executes swaps. It must deliver at least MinAmountOut or
// fail; the reported amount is informational only.
type ExchangeAdapter interface {
	Name() string
	Address() common.Address
	SwapExactInput(ctx context.Context, bank Bank, req SwapRequest) (sdkmath.Int, error)
}

// Quoter is implemented by adapters that can price a swap without executing
// it.
type Quoter interface {
	Quote(r ledger.Reader, assetIn, assetOut common.Address, amountIn sdkmath.Int, routeHint string) (sdkmath.Int, error)
}

// Gateway wraps the active exchange adapter for one vault.
type Gateway struct {
	adapter ExchangeAdapter
	self    common.Address
}

// Convert swaps amountIn of assetIn held by the vault into assetOut and
// returns the vault's measured balance increase of assetOut. The allowance
// granted to the adapter is exactly amountIn and is cleared afterwards.
func (g Gateway) Convert(ctx context.Context, bank Bank, assetIn, assetOut common.Address, amountIn, minOut sdkmath.Int, routeHint string) (sdkmath.Int, error) {
	if !amountIn.IsPositive() {
		return sdkmath.Int{}, ErrZeroAmount
	}
	if minOut.IsNil() || minOut.IsNegative() {
		minOut = sdkmath.ZeroInt()
	}
	spender := g.adapter.Address()
	if err := bank.Approve(assetIn, g.self, spender, amountIn); err != nil {
		return sdkmath.Int{}, wrap(ErrSwapFailed, err)
	}
	before := bank.BalanceOf(assetOut, g.self)

	_, err := g.adapter.SwapExactInput(ctx, bank, SwapRequest{
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Payer:        g.self,
		Recipient:    g.self,
		RouteHint:    routeHint,
	})
	if err != nil {
		if errors.Is(err, ErrSlippageExceeded) {
			return sdkmath.Int{}, err
		}
		return sdkmath.Int{}, wrap(ErrSwapFailed, fmt.Errorf("adapter %s: %w", g.adapter.Name(), err))
	}

	delta := bank.BalanceOf(assetOut, g.self).Sub(before)
	if delta.IsNegative() {
		return sdkmath.Int{}, ErrBalanceDecreased
	}
	if delta.LT(minOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: received %s, minimum %s", ErrOutputBelowMinimum, delta, minOut)
	}
	if err := bank.Approve(assetIn, g.self, spender, sdkmath.ZeroInt()); err != nil {
		return sdkmath.Int{}, wrap(ErrSwapFailed, err)
	}
	return delta, nil
}

// Quote prices a swap through the adapter when it supports quoting.
func (g Gateway) Quote(r ledger.Reader, assetIn, assetOut common.Address, amountIn sdkmath.Int, routeHint string) (sdkmath.Int, error) {
	q, ok := g.adapter.(Quoter)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("adapter %s: %w", g.adapter.Name(), ErrQuoteUnavailable)
	}
	out, err := q.Quote(r, assetIn, assetOut, amountIn, routeHint)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("adapter %s: %w: %w", g.adapter.Name(), ErrQuoteUnavailable, err)
	}
	return out, nil
}
