package vault

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"vault-backend/internal/ledger"
)

// IdlePolicy bounds ExecuteIdleConversion: at most one call per Interval,
// at most MaxAmount per call, and a minimum output no worse than the
// adapter quote less MaxSlippageBps.
type IdlePolicy struct {
	Interval       time.Duration `json:"interval"`
	MaxAmount      sdkmath.Int   `json:"max_amount"`
	MaxSlippageBps uint32        `json:"max_slippage_bps"`
}

func (p IdlePolicy) IsZero() bool {
	return p.Interval == 0 && (p.MaxAmount.IsNil() || p.MaxAmount.IsZero()) && p.MaxSlippageBps == 0
}

func (p IdlePolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidPolicy)
	}
	if p.MaxAmount.IsNil() || !p.MaxAmount.IsPositive() {
		return fmt.Errorf("%w: amount cap must be positive", ErrInvalidPolicy)
	}
	if p.MaxSlippageBps >= BpsDenominator {
		return fmt.Errorf("%w: slippage tolerance %d bps", ErrInvalidPolicy, p.MaxSlippageBps)
	}
	return nil
}

// MinOutFloor is quote reduced by the slippage tolerance, floored.
func (p IdlePolicy) MinOutFloor(quote sdkmath.Int) sdkmath.Int {
	return quote.MulRaw(int64(BpsDenominator - p.MaxSlippageBps)).QuoRaw(BpsDenominator)
}

// IdleConversion is the outcome of one ExecuteIdleConversion call.
type IdleConversion struct {
	AssetIn   common.Address `json:"asset_in"`
	AmountIn  sdkmath.Int    `json:"amount_in"`
	Quote     sdkmath.Int    `json:"quote"`
	MinOut    sdkmath.Int    `json:"min_out"`
	AmountOut sdkmath.Int    `json:"amount_out"`
	RouteHint string         `json:"route_hint,omitempty"`
}

// SetIdlePolicy replaces the idle-conversion bounds.
func (v *Vault) SetIdlePolicy(ctx context.Context, caller common.Address, p IdlePolicy) error {
	return v.run(ctx, "set_idle_policy", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapConfigure, caller); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		op.state.Idle = p
		op.emit(EventIdlePolicyUpdated, map[string]string{
			"interval":         p.Interval.String(),
			"max_amount":       p.MaxAmount.String(),
			"max_slippage_bps": fmt.Sprint(p.MaxSlippageBps),
		})
		return nil
	})
}

// ExecuteIdleConversion converts part of the vault's idle balance of
// assetIn into the reference asset on behalf of a strategy caller.
func (v *Vault) ExecuteIdleConversion(ctx context.Context, caller, assetIn common.Address, amount, minOut sdkmath.Int, routeHint string) (IdleConversion, error) {
	var res IdleConversion
	err := v.run(ctx, "idle_conversion", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapStrategy, caller); err != nil {
			return err
		}
		if err := op.requireActive(); err != nil {
			return err
		}
		policy := op.state.Idle
		if policy.IsZero() {
			return fmt.Errorf("%w: no policy configured", ErrInvalidPolicy)
		}
		if !v.supports(assetIn) || assetIn == v.reference {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetIn.Hex())
		}
		if amount.IsNil() || !amount.IsPositive() {
			return ErrZeroAmount
		}
		if amount.GT(policy.MaxAmount) {
			return fmt.Errorf("%w: %s > %s", ErrAmountAboveCap, amount, policy.MaxAmount)
		}
		if idle := op.tx.BalanceOf(assetIn, v.address); amount.GT(idle) {
			return fmt.Errorf("%w: %s > %s", ErrInsufficientIdle, amount, idle)
		}
		last := op.state.LastIdleConversion
		if !last.IsZero() && op.now.Before(last.Add(policy.Interval)) {
			return fmt.Errorf("%w: next run at %s", ErrIntervalNotElapsed, last.Add(policy.Interval).UTC().Format(time.RFC3339))
		}

		gw := op.gateway()
		quote, err := gw.Quote(op.tx, assetIn, v.reference, amount, routeHint)
		if err != nil {
			return err
		}
		floor := policy.MinOutFloor(quote)
		if minOut.IsNil() || minOut.LT(floor) {
			return fmt.Errorf("%w: minOut %s, floor %s", ErrMinOutBelowTolerance, minOut, floor)
		}
		if err := op.accrue(); err != nil {
			return err
		}

		out, err := gw.Convert(ctx, op.tx, assetIn, v.reference, amount, minOut, routeHint)
		if err != nil {
			return err
		}
		op.state.LastIdleConversion = op.now
		res = IdleConversion{AssetIn: assetIn, AmountIn: amount, Quote: quote, MinOut: minOut, AmountOut: out, RouteHint: routeHint}
		op.emit(EventIdleConverted, map[string]string{
			"asset_in":   assetIn.Hex(),
			"amount_in":  amount.String(),
			"quote":      quote.String(),
			"min_out":    minOut.String(),
			"amount_out": out.String(),
			"route_hint": routeHint,
		})
		return nil
	})
	return res, err
}

// IdleQuote is what a strategy caller needs to size a conversion.
type IdleQuote struct {
	AssetIn   common.Address `json:"asset_in"`
	Idle      sdkmath.Int    `json:"idle"`
	AmountIn  sdkmath.Int    `json:"amount_in"`
	Quote     sdkmath.Int    `json:"quote"`
	MinOut    sdkmath.Int    `json:"min_out"`
	NextRunAt time.Time      `json:"next_run_at"`
}

// QuoteIdleConversion sizes a conversion of assetIn: the idle balance
// capped by the policy, the adapter quote and the tolerance floor.
func (v *Vault) QuoteIdleConversion(assetIn common.Address, routeHint string) (IdleQuote, error) {
	var out IdleQuote
	err := v.host.View(func(r ledger.Reader) error {
		policy := v.state.Idle
		if policy.IsZero() {
			return fmt.Errorf("%w: no policy configured", ErrInvalidPolicy)
		}
		if !v.supports(assetIn) || assetIn == v.reference {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetIn.Hex())
		}
		idle := r.BalanceOf(assetIn, v.address)
		amount := sdkmath.MinInt(idle, policy.MaxAmount)
		out = IdleQuote{AssetIn: assetIn, Idle: idle, AmountIn: amount, Quote: sdkmath.ZeroInt(), MinOut: sdkmath.ZeroInt()}
		if last := v.state.LastIdleConversion; !last.IsZero() {
			out.NextRunAt = last.Add(policy.Interval)
		}
		if !amount.IsPositive() {
			return nil
		}
		gw := Gateway{adapter: v.adapters[v.state.Adapter], self: v.address}
		quote, err := gw.Quote(r, assetIn, v.reference, amount, routeHint)
		if err != nil {
			return err
		}
		out.Quote = quote
		out.MinOut = policy.MinOutFloor(quote)
		return nil
	})
	return out, err
}
