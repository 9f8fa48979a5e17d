package vault_test

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/ledger"
	"vault-backend/internal/vault"
)

func TestFirstReferenceDepositMintsOneBillionShares(t *testing.T) {
	h := newHarness(t)

	res := h.deposit(alice, usdc, 1_000_000)

	assert.Equal(t, "1000000", res.Converted.String())
	assert.Equal(t, "1000000000", res.Shares.String())
	assert.Equal(t, "1000000000", h.balance(share, alice).String())
	assert.Equal(t, "1000000", h.summary().Custody.String())
}

func TestDepositRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, usdc, 100)

	_, err := h.vault.Deposit(h.ctx, alice, usdc, sdkmath.ZeroInt(), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, vault.ErrZeroAmount)
	assert.Equal(t, vault.KindInvalidInput, vault.KindOf(err))

	_, err = h.vault.Deposit(h.ctx, alice, usdc, amt(10), common.Address{}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, vault.ErrZeroAddress)

	_, err = h.vault.Deposit(h.ctx, alice, share, amt(10), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, vault.ErrUnsupportedAsset)

	_, err = h.vault.Deposit(h.ctx, alice, usdc, amt(101), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, vault.ErrPullFailed)
	assert.Equal(t, vault.KindTransferFailure, vault.KindOf(err))

	require.NotEmpty(t, h.logHook.Entries)
	assert.Equal(t, logrus.WarnLevel, h.logHook.LastEntry().Level)
	assert.True(t, h.supply().IsZero())
}

func TestDepositFeeIsTakenBeforeConversion(t *testing.T) {
	h := newHarness(t, withFees(vault.FeeConfig{DepositFeeBps: 30, Recipient: feeTo}))

	res := h.deposit(alice, usdc, 1_234_567)

	// floor(1,234,567 * 30 / 10,000) = 3,703
	assert.Equal(t, "3703", res.Fee.String())
	assert.Equal(t, "1230864", res.Converted.String())
	assert.Equal(t, "3703", h.balance(usdc, feeTo).String())
	assert.Equal(t, "1230864", h.summary().Custody.String())
}

func TestFeesWithoutRecipientAreRejected(t *testing.T) {
	h := newHarness(t)
	base := vault.Config{
		Address:        vaddr,
		ReferenceAsset: usdc,
		ShareAsset:     share,
		Adapter:        "pools",
		Admin:          admin,
	}
	adapters := []vault.ExchangeAdapter{h.pools}

	for _, fees := range []vault.FeeConfig{{DepositFeeBps: 30}, {WithdrawalFeeBps: 1}} {
		cfg := base
		cfg.Fees = fees
		_, err := vault.New(h.ledger, cfg, adapters)
		require.ErrorIs(t, err, vault.ErrFeeRecipientRequired)
		assert.Equal(t, vault.KindInvalidInput, vault.KindOf(err))
	}

	// a management fee alone only moves the accrual clock
	cfg := base
	cfg.Fees = vault.FeeConfig{ManagementFeeBps: 100}
	_, err := vault.New(h.ledger, cfg, adapters)
	require.NoError(t, err)

	// with a recipient the full fee is always charged
	h = newHarness(t, withFees(vault.FeeConfig{DepositFeeBps: 30, Recipient: feeTo}))
	res := h.deposit(alice, usdc, 1_000_000)
	assert.Equal(t, "3000", res.Fee.String())
	assert.Equal(t, "997000", res.Converted.String())
}

func TestPricePerShareNeverFallsAcrossDeposits(t *testing.T) {
	h := newHarness(t, withFees(vault.FeeConfig{DepositFeeBps: 25, Recipient: feeTo}))

	prev := h.summary().PricePerShare
	for i, size := range []int64{1, 7, 1_000_000, 3, 999_999, 12_345_678, 2, 55} {
		who := alice
		if i%2 == 1 {
			who = bob
		}
		h.fund(who, usdc, size)
		_, err := h.vault.Deposit(h.ctx, who, usdc, amt(size), who, sdkmath.ZeroInt())
		if err != nil {
			// dust deposits can round to zero shares or be eaten by the fee
			require.ErrorIs(t, err, vault.ErrInvalidInput)
			continue
		}
		price := h.summary().PricePerShare
		assert.True(t, price.GTE(prev), "deposit %d: price %s fell below %s", i, price, prev)
		prev = price
	}
}

func TestDepositThroughPoolCountsMeasuredDelta(t *testing.T) {
	h := newHarness(t)

	res := h.deposit(alice, fot, 100_000)

	// 1% burned when the vault pulls the deposit.
	assert.Equal(t, "99000", res.Received.String())
	s := h.summary()
	assert.Equal(t, res.Converted.String(), s.Custody.String())
	assert.Equal(t, res.Converted.MulRaw(1000).String(), res.Shares.String())
	assert.True(t, h.balance(fot, vaddr).IsZero())

	var allowance sdkmath.Int
	require.NoError(t, h.ledger.View(func(r ledger.Reader) error {
		allowance = r.Allowance(fot, vaddr, router)
		return nil
	}))
	assert.True(t, allowance.IsZero(), "gateway must clear the adapter allowance")
}

func TestDepositSlippageRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, weth, 10)
	poolWeth := h.balance(weth, h.poolAddr("weth-usdc"))

	_, err := h.vault.Deposit(h.ctx, alice, weth, amt(10), alice, amt(20_000))

	require.ErrorIs(t, err, vault.ErrSlippageExceeded)
	assert.Equal(t, vault.KindSlippageExceeded, vault.KindOf(err))
	assert.Equal(t, "10", h.balance(weth, alice).String())
	assert.Equal(t, poolWeth.String(), h.balance(weth, h.poolAddr("weth-usdc")).String())
	assert.True(t, h.supply().IsZero())
	assert.True(t, h.summary().Custody.IsZero())
}

func (h *harness) poolAddr(id string) common.Address {
	p, ok := h.pools.Pool(id)
	require.True(h.t, ok)
	return p.Address
}

// skimmer reports whatever was asked but delivers only part of it.
type skimmer struct {
	pay    int64
	report int64
}

func (s *skimmer) Name() string            { return "skimmer" }
func (s *skimmer) Address() common.Address { return common.HexToAddress("0x5c") }

func (s *skimmer) SwapExactInput(_ context.Context, bank vault.Bank, req vault.SwapRequest) (sdkmath.Int, error) {
	if err := bank.TransferFrom(req.AssetIn, s.Address(), req.Payer, s.Address(), req.AmountIn); err != nil {
		return sdkmath.Int{}, err
	}
	if err := bank.Transfer(req.AssetOut, s.Address(), req.Recipient, amt(s.pay)); err != nil {
		return sdkmath.Int{}, err
	}
	return amt(s.report), nil
}

func TestGatewayTrustsBalanceDeltaNotReportedAmount(t *testing.T) {
	sk := &skimmer{pay: 500, report: 1_000_000}
	h := newHarness(t, withAdapter(sk))
	require.NoError(t, h.ledger.Update(func(tx *ledger.Tx) error {
		return tx.Mint(usdc, minter, sk.Address(), amt(10_000))
	}))
	name := "skimmer"
	_, err := h.vault.UpdateConfig(h.ctx, admin, vault.ConfigUpdate{ExchangeAdapter: &name})
	require.NoError(t, err)

	h.fund(alice, weth, 1)
	res, err := h.vault.Deposit(h.ctx, alice, weth, amt(1), alice, amt(400))
	require.NoError(t, err)
	assert.Equal(t, "500", res.Converted.String())

	h.fund(alice, weth, 1)
	_, err = h.vault.Deposit(h.ctx, alice, weth, amt(1), alice, amt(600))
	require.ErrorIs(t, err, vault.ErrOutputBelowMinimum)
}

// reentrant calls back into the vault from inside the swap.
type reentrant struct {
	v   *vault.Vault
	err error
}

func (r *reentrant) Name() string            { return "reentrant" }
func (r *reentrant) Address() common.Address { return common.HexToAddress("0x5d") }

func (r *reentrant) SwapExactInput(ctx context.Context, _ vault.Bank, req vault.SwapRequest) (sdkmath.Int, error) {
	_, r.err = r.v.Deposit(ctx, req.Payer, req.AssetIn, amt(1), req.Payer, sdkmath.ZeroInt())
	return sdkmath.Int{}, r.err
}

func TestReentrantAdapterIsRejected(t *testing.T) {
	re := &reentrant{}
	h := newHarness(t, withAdapter(re))
	re.v = h.vault
	name := "reentrant"
	_, err := h.vault.UpdateConfig(h.ctx, admin, vault.ConfigUpdate{ExchangeAdapter: &name})
	require.NoError(t, err)
	h.fund(alice, weth, 10)

	_, err = h.vault.Deposit(h.ctx, alice, weth, amt(10), alice, sdkmath.ZeroInt())

	require.ErrorIs(t, re.err, vault.ErrReentrantCall)
	require.ErrorIs(t, err, vault.ErrReentrantCall)
	assert.Equal(t, vault.KindStateConflict, vault.KindOf(err))
	assert.Equal(t, "10", h.balance(weth, alice).String())

	// the guard is released once the outer call returns
	h.deposit(bob, usdc, 1_000)
}

type failingJournal struct{ calls int }

func (j *failingJournal) Record(context.Context, *vault.Changeset) error {
	j.calls++
	return errors.New("disk full")
}

func TestJournalFailureDiscardsOperation(t *testing.T) {
	j := &failingJournal{}
	h := newHarness(t, withVaultOption(vault.WithJournal(j)))
	h.fund(alice, usdc, 1_000)

	_, err := h.vault.Deposit(h.ctx, alice, usdc, amt(1_000), alice, sdkmath.ZeroInt())

	require.ErrorIs(t, err, vault.ErrJournal)
	assert.Equal(t, 1, j.calls)
	assert.Equal(t, "1000", h.balance(usdc, alice).String())
	assert.True(t, h.supply().IsZero())
}

func TestObserversSeeCommittedChangeset(t *testing.T) {
	var seen []*vault.Changeset
	h := newHarness(t, withVaultOption(vault.WithObserver(func(cs *vault.Changeset) {
		seen = append(seen, cs)
	})))

	h.deposit(alice, usdc, 5_000)

	require.Len(t, seen, 1)
	cs := seen[0]
	assert.Equal(t, "deposit", cs.Op)
	assert.Equal(t, alice, cs.Caller)
	require.Len(t, cs.Events, 1)
	assert.Equal(t, vault.EventDeposited, cs.Events[0].Name)
	assert.Equal(t, "5000000", cs.Events[0].Fields["shares"])
	assert.Equal(t, "5000", cs.Summary.Custody.String())
	assert.NotEmpty(t, cs.Balances)
}

func TestCancelledContextIsRejectedBeforeWork(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, usdc, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.vault.Deposit(ctx, alice, usdc, amt(10), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, vault.KindInternal, vault.KindOf(err))
}
