package vault

import (
	sdkmath "cosmossdk.io/math"
)

// Virtual offsets added to supply and assets in every conversion. They make
// the first deposit and direct donations too expensive to skew the price.
var (
	VirtualShares = sdkmath.NewInt(1000)
	VirtualAssets = sdkmath.NewInt(1)
)

// Totals is the pricing input: share supply and the reference-asset amount
// backing it (custody minus pending withdrawals).
type Totals struct {
	Supply    sdkmath.Int
	Available sdkmath.Int
}

// PricePerShare is (available + VirtualAssets) / (supply + VirtualShares),
// truncated to 18 decimals.
func (t Totals) PricePerShare() sdkmath.LegacyDec {
	num := sdkmath.LegacyNewDecFromInt(t.Available.Add(VirtualAssets))
	den := sdkmath.LegacyNewDecFromInt(t.Supply.Add(VirtualShares))
	return num.QuoTruncate(den)
}

// ConvertToShares floors assets * (supply + VS) / (available + VA).
func (t Totals) ConvertToShares(assets sdkmath.Int) sdkmath.Int {
	if !assets.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return assets.Mul(t.Supply.Add(VirtualShares)).Quo(t.Available.Add(VirtualAssets))
}

// ConvertToAssets floors shares * (available + VA) / (supply + VS).
func (t Totals) ConvertToAssets(shares sdkmath.Int) sdkmath.Int {
	if !shares.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(t.Available.Add(VirtualAssets)).Quo(t.Supply.Add(VirtualShares))
}

// SharesForDeposit prices a deposit whose converted amount is already
// counted in Available. The received amount is taken out of the
// denominator so it does not back itself.
func (t Totals) SharesForDeposit(received sdkmath.Int) sdkmath.Int {
	if !received.IsPositive() {
		return sdkmath.ZeroInt()
	}
	before := t.Available.Sub(received)
	if before.IsNegative() {
		before = sdkmath.ZeroInt()
	}
	return received.Mul(t.Supply.Add(VirtualShares)).Quo(before.Add(VirtualAssets))
}

// bps returns floor(amount * bps / 10000).
func bps(amount sdkmath.Int, basisPoints uint32) sdkmath.Int {
	if basisPoints == 0 || !amount.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return amount.MulRaw(int64(basisPoints)).QuoRaw(BpsDenominator)
}
