package vault

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

const (
	BpsDenominator = 10_000
	MaxFeeBps      = 500
	SecondsPerYear = 31_536_000
	MaxTimelock    = 7 * 24 * time.Hour
)

// FeeConfig holds the fee schedule. All rates are basis points of 10 000.
type FeeConfig struct {
	DepositFeeBps    uint32         `json:"deposit_fee_bps"`
	WithdrawalFeeBps uint32         `json:"withdrawal_fee_bps"`
	ManagementFeeBps uint32         `json:"management_fee_bps"`
	Recipient        common.Address `json:"fee_recipient"`
	LastAccrual      time.Time      `json:"last_accrual"`
}

func (f FeeConfig) hasRecipient() bool {
	return f.Recipient != (common.Address{})
}

func validateFeeBps(v uint32) error {
	if v > MaxFeeBps {
		return ErrFeeTooHigh
	}
	return nil
}

// checkRecipient rejects a deposit or withdrawal fee with nowhere to go.
// A management fee without a recipient only moves the accrual clock.
func (f FeeConfig) checkRecipient() error {
	if (f.DepositFeeBps > 0 || f.WithdrawalFeeBps > 0) && !f.hasRecipient() {
		return ErrFeeRecipientRequired
	}
	return nil
}

// managementFeeShares is supply * bps * elapsed / (10000 * SecondsPerYear),
// floored. Elapsed below one second or negative accrues nothing.
func managementFeeShares(supply sdkmath.Int, feeBps uint32, elapsed time.Duration) sdkmath.Int {
	secs := int64(elapsed / time.Second)
	if feeBps == 0 || secs <= 0 || !supply.IsPositive() {
		return sdkmath.ZeroInt()
	}
	num := supply.MulRaw(int64(feeBps)).MulRaw(secs)
	return num.Quo(sdkmath.NewInt(BpsDenominator * SecondsPerYear))
}

// accrue mints dilutive management-fee shares to the fee recipient and
// moves the accrual clock to now. It runs before anything touches totals.
func (op *operation) accrue() error {
	fees := &op.state.Fees
	last := fees.LastAccrual
	fees.LastAccrual = op.now
	if fees.ManagementFeeBps == 0 || !fees.hasRecipient() || last.IsZero() {
		return nil
	}
	supply := op.tx.TotalSupply(op.v.shares)
	minted := managementFeeShares(supply, fees.ManagementFeeBps, op.now.Sub(last))
	if minted.IsZero() {
		return nil
	}
	if err := op.tx.Mint(op.v.shares, op.v.address, fees.Recipient, minted); err != nil {
		return wrap(ErrShareLedger, err)
	}
	op.emit(EventFeesAccrued, map[string]string{
		"recipient": fees.Recipient.Hex(),
		"shares":    minted.String(),
		"elapsed":   op.now.Sub(last).String(),
	})
	return nil
}
