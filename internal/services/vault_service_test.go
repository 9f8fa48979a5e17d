package services_test

import (
	"context"
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/ledger"
	"vault-backend/internal/repository"
	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

func TestVaultServiceSerialisesConcurrentCallers(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Approve(e.ctx, alice, usdc, vaddr, sdkmath.NewInt(20_000)))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Deposit(e.ctx, alice, usdc, sdkmath.NewInt(1_000), alice, sdkmath.ZeroInt())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	shares, err := e.svc.SharesOf(alice)
	require.NoError(t, err)
	assert.Equal(t, "20000000", shares.String())

	allowance, err := e.svc.Allowance(usdc, alice, vaddr)
	require.NoError(t, err)
	assert.True(t, allowance.IsZero())
}

func TestVaultServiceWithdrawalLifecycle(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Approve(e.ctx, alice, usdc, vaddr, sdkmath.NewInt(5_000)))
	_, err := e.svc.Deposit(e.ctx, alice, usdc, sdkmath.NewInt(5_000), alice, sdkmath.ZeroInt())
	require.NoError(t, err)

	req, err := e.svc.RequestWithdrawal(e.ctx, alice, sdkmath.NewInt(2_000_000), usdc, sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, "2000", req.Reserved.String())

	_, err = e.svc.CancelWithdrawal(e.ctx, bob, req.ID)
	require.ErrorIs(t, err, vault.ErrNotRequestOwner)

	payout, err := e.svc.CompleteWithdrawal(e.ctx, alice, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "2000", payout.Paid.String())

	got, err := e.svc.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusCompleted, got.Status)

	_, err = e.svc.EmergencyWithdraw(e.ctx, alice, sdkmath.NewInt(1_000_000))
	require.ErrorIs(t, err, vault.ErrNotHalted)
	require.NoError(t, e.svc.Halt(e.ctx, admin))
	paid, err := e.svc.EmergencyWithdraw(e.ctx, alice, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "1000", paid.String())
}

func TestVaultServiceAdminOperations(t *testing.T) {
	e := newEnv(t)

	require.ErrorIs(t, e.svc.Halt(e.ctx, alice), vault.ErrMissingCapability)
	require.NoError(t, e.svc.Halt(e.ctx, admin))
	_, err := e.svc.Deposit(e.ctx, alice, usdc, sdkmath.NewInt(1), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, vault.ErrHalted)
	require.NoError(t, e.svc.Resume(e.ctx, admin))

	fee := uint32(50)
	_, err = e.svc.UpdateConfig(e.ctx, admin, vault.ConfigUpdate{DepositFeeBps: &fee})
	require.ErrorIs(t, err, vault.ErrFeeRecipientRequired)

	recipient := bob
	st, err := e.svc.UpdateConfig(e.ctx, admin, vault.ConfigUpdate{DepositFeeBps: &fee, FeeRecipient: &recipient})
	require.NoError(t, err)
	assert.Equal(t, uint32(50), st.Fees.DepositFeeBps)
	assert.Equal(t, bob, st.Fees.Recipient)

	require.NoError(t, e.svc.Grant(e.ctx, admin, vault.CapPause, bob))
	assert.True(t, e.vault.HasCapability(vault.CapPause, bob))
	require.NoError(t, e.svc.Revoke(e.ctx, admin, vault.CapPause, bob))
	assert.False(t, e.vault.HasCapability(vault.CapPause, bob))
}

func TestVaultServiceLedgerOperations(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.svc.Transfer(e.ctx, alice, usdc, bob, sdkmath.NewInt(300)))
	err := e.svc.Transfer(e.ctx, bob, usdc, alice, sdkmath.NewInt(301))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.NoError(t, e.svc.Mint(e.ctx, weth, bob, sdkmath.NewInt(7)))
	err = e.svc.Mint(e.ctx, share, bob, sdkmath.NewInt(7))
	require.ErrorIs(t, err, services.ErrFaucetAsset)

	balances, err := e.svc.Balances(bob)
	require.NoError(t, err)
	byAsset := make(map[string]services.AssetBalance)
	for _, b := range balances {
		byAsset[b.Symbol] = b
	}
	assert.Equal(t, "300", byAsset["USDC"].Amount)
	assert.Equal(t, "0.0003", byAsset["USDC"].Display)
	assert.Equal(t, "7", byAsset["WETH"].Amount)
}

type failingJournal struct{ calls int }

func (f *failingJournal) RecordLedger(context.Context, repository.LedgerEntry) error {
	f.calls++
	return assert.AnError
}

func TestVaultServiceLedgerJournalFailureDiscards(t *testing.T) {
	e := newEnv(t)
	j := &failingJournal{}
	svc := services.NewVaultService(e.vault, e.ledger, e.log, services.WithLedgerJournal(j))
	e.svc.Stop()
	svc.Start()
	defer svc.Stop()

	err := svc.Transfer(e.ctx, alice, usdc, bob, sdkmath.NewInt(10))
	require.ErrorIs(t, err, vault.ErrJournal)
	assert.Equal(t, 1, j.calls)

	balances, err := svc.Balances(bob)
	require.NoError(t, err)
	for _, b := range balances {
		assert.Equal(t, "0", b.Amount, b.Symbol)
	}
}

func TestVaultServiceRejectsAfterStop(t *testing.T) {
	e := newEnv(t)
	e.svc.Stop()
	_, err := e.svc.Deposit(e.ctx, alice, usdc, sdkmath.NewInt(1), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, services.ErrServiceStopped)
}

func TestVaultServiceCancelledContext(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Approve(e.ctx, alice, usdc, vaddr, sdkmath.NewInt(1_000)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.svc.Deposit(ctx, alice, usdc, sdkmath.NewInt(1_000), alice, sdkmath.ZeroInt())
	require.ErrorIs(t, err, context.Canceled)

	shares, err := e.svc.SharesOf(alice)
	require.NoError(t, err)
	assert.True(t, shares.IsZero())
}

func TestVaultServiceReportsCommitAfterCallerCancels(t *testing.T) {
	committed := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hold := func(cs *vault.Changeset) {
		once.Do(func() {
			close(committed)
			<-release
		})
	}
	e := newEnv(t, vault.WithObserver(hold))
	require.NoError(t, e.svc.Approve(e.ctx, alice, usdc, vaddr, sdkmath.NewInt(1_000)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type outcome struct {
		res vault.DepositResult
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := e.svc.Deposit(ctx, alice, usdc, sdkmath.NewInt(1_000), alice, sdkmath.ZeroInt())
		out <- outcome{res, err}
	}()

	<-committed
	cancel()
	close(release)

	got := <-out
	require.NoError(t, got.err)
	assert.Equal(t, "1000000", got.res.Shares.String())

	shares, err := e.svc.SharesOf(alice)
	require.NoError(t, err)
	assert.Equal(t, "1000000", shares.String())
}

func TestVaultServiceConversionPreview(t *testing.T) {
	e := newEnv(t)
	c, err := e.svc.ConvertToShares(sdkmath.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, "5000", c.Shares)

	c, err = e.svc.ConvertToAssets(sdkmath.NewInt(5000))
	require.NoError(t, err)
	assert.Equal(t, "5", c.Assets)
}
