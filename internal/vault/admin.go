package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigUpdate changes the recognised options. Nil fields are left as they
// are.
type ConfigUpdate struct {
	DepositFeeBps    *uint32         `json:"depositFeeBps,omitempty"`
	WithdrawalFeeBps *uint32         `json:"withdrawalFeeBps,omitempty"`
	ManagementFeeBps *uint32         `json:"managementFeeBps,omitempty"`
	TimelockSeconds  *uint64         `json:"withdrawalTimelockSeconds,omitempty"`
	FeeRecipient     *common.Address `json:"feeRecipient,omitempty"`
	ExchangeAdapter  *string         `json:"exchangeAdapter,omitempty"`
}

func (u ConfigUpdate) empty() bool {
	return u.DepositFeeBps == nil && u.WithdrawalFeeBps == nil && u.ManagementFeeBps == nil &&
		u.TimelockSeconds == nil && u.FeeRecipient == nil && u.ExchangeAdapter == nil
}

// UpdateConfig applies u after accruing management fees at the old rate.
// Either every field is applied or none.
func (v *Vault) UpdateConfig(ctx context.Context, caller common.Address, u ConfigUpdate) (State, error) {
	var out State
	err := v.run(ctx, "update_config", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapConfigure, caller); err != nil {
			return err
		}
		if u.empty() {
			return fmt.Errorf("%w: no options given", ErrInvalidInput)
		}
		changed := make(map[string]string)
		for name, p := range map[string]*uint32{
			"depositFeeBps":    u.DepositFeeBps,
			"withdrawalFeeBps": u.WithdrawalFeeBps,
			"managementFeeBps": u.ManagementFeeBps,
		} {
			if p == nil {
				continue
			}
			if err := validateFeeBps(*p); err != nil {
				return fmt.Errorf("%s=%d: %w", name, *p, err)
			}
			changed[name] = fmt.Sprint(*p)
		}
		var timelock time.Duration
		if u.TimelockSeconds != nil {
			if *u.TimelockSeconds > uint64(MaxTimelock/time.Second) {
				return fmt.Errorf("withdrawalTimelockSeconds=%d: %w", *u.TimelockSeconds, ErrTimelockTooLong)
			}
			timelock = time.Duration(*u.TimelockSeconds) * time.Second
			changed["withdrawalTimelockSeconds"] = fmt.Sprint(*u.TimelockSeconds)
		}
		if u.FeeRecipient != nil {
			if *u.FeeRecipient == (common.Address{}) {
				return fmt.Errorf("feeRecipient: %w", ErrZeroAddress)
			}
			changed["feeRecipient"] = u.FeeRecipient.Hex()
		}
		if u.ExchangeAdapter != nil {
			if _, ok := v.adapters[*u.ExchangeAdapter]; !ok {
				return fmt.Errorf("%w: %q", ErrUnknownAdapter, *u.ExchangeAdapter)
			}
			changed["exchangeAdapter"] = *u.ExchangeAdapter
		}

		if err := op.accrue(); err != nil {
			return err
		}

		fees := &op.state.Fees
		if u.DepositFeeBps != nil {
			fees.DepositFeeBps = *u.DepositFeeBps
		}
		if u.WithdrawalFeeBps != nil {
			fees.WithdrawalFeeBps = *u.WithdrawalFeeBps
		}
		if u.ManagementFeeBps != nil {
			fees.ManagementFeeBps = *u.ManagementFeeBps
		}
		if u.FeeRecipient != nil {
			fees.Recipient = *u.FeeRecipient
		}
		if u.TimelockSeconds != nil {
			op.state.Timelock = timelock
		}
		if u.ExchangeAdapter != nil {
			op.state.Adapter = *u.ExchangeAdapter
		}
		if err := fees.checkRecipient(); err != nil {
			return err
		}
		out = op.state.clone()
		op.emit(EventConfigUpdated, changed)
		return nil
	})
	return out, err
}

// Halt stops deposits, withdrawal requests, completions and idle
// conversions, and opens EmergencyWithdraw.
func (v *Vault) Halt(ctx context.Context, caller common.Address) error {
	return v.run(ctx, "halt", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapPause, caller); err != nil {
			return err
		}
		if op.state.Halted {
			return ErrHalted
		}
		op.state.Halted = true
		op.emit(EventHalted, map[string]string{"by": caller.Hex()})
		return nil
	})
}

// Resume returns a halted vault to normal operation.
func (v *Vault) Resume(ctx context.Context, caller common.Address) error {
	return v.run(ctx, "resume", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapPause, caller); err != nil {
			return err
		}
		if !op.state.Halted {
			return ErrNotHalted
		}
		op.state.Halted = false
		op.emit(EventResumed, map[string]string{"by": caller.Hex()})
		return nil
	})
}

// Grant gives who capability c.
func (v *Vault) Grant(ctx context.Context, caller common.Address, c Capability, who common.Address) error {
	return v.run(ctx, "grant", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapAdmin, caller); err != nil {
			return err
		}
		if who == (common.Address{}) {
			return ErrZeroAddress
		}
		if _, err := ParseCapability(string(c)); err != nil {
			return err
		}
		op.state.Permissions.grant(c, who)
		op.emit(EventCapabilityGranted, map[string]string{"capability": string(c), "account": who.Hex(), "by": caller.Hex()})
		return nil
	})
}

// Revoke removes capability c from who. The last admin cannot be revoked.
func (v *Vault) Revoke(ctx context.Context, caller common.Address, c Capability, who common.Address) error {
	return v.run(ctx, "revoke", caller, func(op *operation) error {
		if err := op.state.Permissions.require(CapAdmin, caller); err != nil {
			return err
		}
		if _, err := ParseCapability(string(c)); err != nil {
			return err
		}
		if !op.state.Permissions.Has(c, who) {
			return fmt.Errorf("%w: %s does not hold %s", ErrInvalidInput, who.Hex(), c)
		}
		if c == CapAdmin && len(op.state.Permissions[CapAdmin]) == 1 {
			return ErrLastAdmin
		}
		op.state.Permissions.revoke(c, who)
		op.emit(EventCapabilityRevoked, map[string]string{"capability": string(c), "account": who.Hex(), "by": caller.Hex()})
		return nil
	})
}
