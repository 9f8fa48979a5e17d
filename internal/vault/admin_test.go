package vault_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/vault"
)

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }

func TestUpdateConfigRequiresCapability(t *testing.T) {
	h := newHarness(t)

	_, err := h.vault.UpdateConfig(h.ctx, bob, vault.ConfigUpdate{DepositFeeBps: u32(10)})
	require.ErrorIs(t, err, vault.ErrMissingCapability)
	assert.Equal(t, vault.KindUnauthorized, vault.KindOf(err))
}

func TestUpdateConfigBounds(t *testing.T) {
	h := newHarness(t)
	zero := common.Address{}
	unknown := "nope"

	cases := []struct {
		name string
		u    vault.ConfigUpdate
		want error
	}{
		{"empty", vault.ConfigUpdate{}, vault.ErrInvalidInput},
		{"deposit fee", vault.ConfigUpdate{DepositFeeBps: u32(501)}, vault.ErrFeeTooHigh},
		{"withdrawal fee", vault.ConfigUpdate{WithdrawalFeeBps: u32(1_000)}, vault.ErrFeeTooHigh},
		{"management fee with valid sibling", vault.ConfigUpdate{DepositFeeBps: u32(5), ManagementFeeBps: u32(501)}, vault.ErrFeeTooHigh},
		{"timelock", vault.ConfigUpdate{TimelockSeconds: u64(7*24*3600 + 1)}, vault.ErrTimelockTooLong},
		{"recipient", vault.ConfigUpdate{FeeRecipient: &zero}, vault.ErrZeroAddress},
		{"deposit fee without recipient", vault.ConfigUpdate{DepositFeeBps: u32(10)}, vault.ErrFeeRecipientRequired},
		{"withdrawal fee without recipient", vault.ConfigUpdate{WithdrawalFeeBps: u32(10)}, vault.ErrFeeRecipientRequired},
		{"adapter", vault.ConfigUpdate{ExchangeAdapter: &unknown}, vault.ErrUnknownAdapter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.vault.UpdateConfig(h.ctx, admin, tc.u)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, vault.KindInvalidInput, vault.KindOf(err))
		})
	}

	st, err := h.vault.State()
	require.NoError(t, err)
	assert.Zero(t, st.Fees.DepositFeeBps, "rejected updates must not apply partially")
}

func TestUpdateConfigAppliesAllOptions(t *testing.T) {
	h := newHarness(t)
	recipient := feeTo
	adapter := "pools"

	st, err := h.vault.UpdateConfig(h.ctx, admin, vault.ConfigUpdate{
		DepositFeeBps:    u32(500),
		WithdrawalFeeBps: u32(20),
		ManagementFeeBps: u32(100),
		TimelockSeconds:  u64(7 * 24 * 3600),
		FeeRecipient:     &recipient,
		ExchangeAdapter:  &adapter,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(500), st.Fees.DepositFeeBps)
	assert.Equal(t, uint32(20), st.Fees.WithdrawalFeeBps)
	assert.Equal(t, uint32(100), st.Fees.ManagementFeeBps)
	assert.Equal(t, vault.MaxTimelock, st.Timelock)
	assert.Equal(t, feeTo, st.Fees.Recipient)
	assert.True(t, genesis.Equal(st.Fees.LastAccrual))
}

func TestFeeChangeAccruesAtOldRateFirst(t *testing.T) {
	h := newHarness(t, withFees(vault.FeeConfig{Recipient: feeTo}))
	h.deposit(alice, usdc, 1_000_000)

	h.clock.Add(vault.SecondsPerYear * time.Second)
	_, err := h.vault.UpdateConfig(h.ctx, admin, vault.ConfigUpdate{ManagementFeeBps: u32(500)})
	require.NoError(t, err)
	assert.True(t, h.balance(share, feeTo).IsZero(), "the year before the change was free")

	h.clock.Add(vault.SecondsPerYear * time.Second / 2)
	h.deposit(bob, usdc, 10)
	// half a year at 5% of 1,000,000,000 shares
	assert.Equal(t, "25000000", h.balance(share, feeTo).String())
}

func TestNoManagementFeeAtZeroSupply(t *testing.T) {
	h := newHarness(t, withFees(vault.FeeConfig{ManagementFeeBps: 500, Recipient: feeTo}))

	h.clock.Add(vault.SecondsPerYear * time.Second)
	h.deposit(alice, usdc, 1_000_000)
	assert.True(t, h.balance(share, feeTo).IsZero(), "an empty vault accrues nothing")
	assert.Equal(t, "1000000000", h.supply().String())

	h.deposit(bob, usdc, 10)
	assert.True(t, h.balance(share, feeTo).IsZero(), "the empty year is not charged later")

	st, err := h.vault.State()
	require.NoError(t, err)
	assert.True(t, h.clock.Now().Equal(st.Fees.LastAccrual))
}

func TestNoRetroactiveManagementFeeWhenRecipientIsSet(t *testing.T) {
	h := newHarness(t, withFees(vault.FeeConfig{ManagementFeeBps: 500}))
	h.deposit(alice, usdc, 1_000_000)

	h.clock.Add(vault.SecondsPerYear * time.Second)
	recipient := feeTo
	_, err := h.vault.UpdateConfig(h.ctx, admin, vault.ConfigUpdate{FeeRecipient: &recipient})
	require.NoError(t, err)
	assert.True(t, h.balance(share, feeTo).IsZero())

	h.deposit(bob, usdc, 10)
	assert.True(t, h.balance(share, feeTo).IsZero(), "the year without a recipient is never charged")

	h.clock.Add(vault.SecondsPerYear * time.Second / 2)
	h.deposit(bob, usdc, 10)
	assert.False(t, h.balance(share, feeTo).IsZero())
}

func TestHaltAndResume(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.vault.Halt(h.ctx, bob), vault.ErrMissingCapability)
	require.NoError(t, h.vault.Halt(h.ctx, admin))
	require.ErrorIs(t, h.vault.Halt(h.ctx, admin), vault.ErrHalted)
	assert.True(t, h.summary().Halted)

	require.NoError(t, h.vault.Resume(h.ctx, admin))
	require.ErrorIs(t, h.vault.Resume(h.ctx, admin), vault.ErrNotHalted)
	h.deposit(alice, usdc, 100)
}

func TestGrantAndRevoke(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.vault.Grant(h.ctx, bob, vault.CapPause, bob), vault.ErrMissingCapability)
	require.ErrorIs(t, h.vault.Grant(h.ctx, admin, vault.Capability("root"), bob), vault.ErrInvalidInput)
	require.ErrorIs(t, h.vault.Grant(h.ctx, admin, vault.CapPause, common.Address{}), vault.ErrZeroAddress)

	require.NoError(t, h.vault.Grant(h.ctx, admin, vault.CapPause, bob))
	assert.True(t, h.vault.HasCapability(vault.CapPause, bob))
	require.NoError(t, h.vault.Halt(h.ctx, bob))

	require.NoError(t, h.vault.Revoke(h.ctx, admin, vault.CapPause, bob))
	require.ErrorIs(t, h.vault.Resume(h.ctx, bob), vault.ErrMissingCapability)
	require.ErrorIs(t, h.vault.Revoke(h.ctx, admin, vault.CapPause, bob), vault.ErrInvalidInput)

	require.ErrorIs(t, h.vault.Revoke(h.ctx, admin, vault.CapAdmin, admin), vault.ErrLastAdmin)
	require.NoError(t, h.vault.Grant(h.ctx, admin, vault.CapAdmin, bob))
	require.NoError(t, h.vault.Revoke(h.ctx, bob, vault.CapAdmin, admin))
	assert.False(t, h.vault.HasCapability(vault.CapAdmin, admin))
}

func TestNewRejectsBadConfig(t *testing.T) {
	h := newHarness(t)
	base := vault.Config{
		Address:        vaddr,
		ReferenceAsset: usdc,
		ShareAsset:     share,
		Adapter:        "pools",
		Admin:          admin,
	}
	adapters := []vault.ExchangeAdapter{h.pools}

	cfg := base
	cfg.ShareAsset = usdc
	_, err := vault.New(h.ledger, cfg, adapters)
	require.ErrorIs(t, err, vault.ErrInvalidInput)

	cfg = base
	cfg.Timelock = 8 * 24 * time.Hour
	_, err = vault.New(h.ledger, cfg, adapters)
	require.ErrorIs(t, err, vault.ErrTimelockTooLong)

	cfg = base
	cfg.Adapter = "missing"
	_, err = vault.New(h.ledger, cfg, adapters)
	require.ErrorIs(t, err, vault.ErrUnknownAdapter)

	cfg = base
	cfg.Idle = vault.IdlePolicy{MaxAmount: sdkmath.NewInt(5)}
	_, err = vault.New(h.ledger, cfg, adapters)
	require.ErrorIs(t, err, vault.ErrInvalidPolicy)
}

func TestRestoreReplacesBookkeeping(t *testing.T) {
	h := newHarness(t)
	h.deposit(alice, usdc, 1_000_000)
	req, err := h.vault.RequestWithdrawal(h.ctx, alice, amt(1_000_000), usdc, sdkmath.ZeroInt())
	require.NoError(t, err)
	st, err := h.vault.State()
	require.NoError(t, err)

	fresh, err := vault.New(h.ledger, vault.Config{
		Address:        vaddr,
		ReferenceAsset: usdc,
		ShareAsset:     share,
		Adapter:        "pools",
		Admin:          admin,
	}, []vault.ExchangeAdapter{h.pools}, vault.WithClock(h.clock))
	require.NoError(t, err)
	require.NoError(t, fresh.Restore(st, []vault.WithdrawalRequest{req}))

	got, err := fresh.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, alice, got.Owner)
	s, err := fresh.Summary()
	require.NoError(t, err)
	assert.Equal(t, "1000", s.PendingReserve.String())
	assert.Equal(t, uint64(2), s.NextRequestID)

	bad := st
	bad.NextRequestID = 1
	require.ErrorIs(t, fresh.Restore(bad, []vault.WithdrawalRequest{req}), vault.ErrStateConflict)
}
