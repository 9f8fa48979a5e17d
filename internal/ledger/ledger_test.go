package ledger_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/ledger"
)

var (
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	feeTok = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	minter = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.RegisterAsset(ledger.Asset{Address: usdc, Symbol: "USDC", Decimals: 6, Minter: minter}))
	require.NoError(t, l.RegisterAsset(ledger.Asset{Address: feeTok, Symbol: "FOT", Decimals: 18, Minter: minter, TransferFeeBps: 100}))
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		if err := tx.Mint(usdc, minter, alice, sdkmath.NewInt(1_000)); err != nil {
			return err
		}
		return tx.Mint(feeTok, minter, alice, sdkmath.NewInt(10_000))
	}))
	return l
}

func balance(t *testing.T, l *ledger.Ledger, asset, holder common.Address) sdkmath.Int {
	t.Helper()
	var out sdkmath.Int
	require.NoError(t, l.View(func(r ledger.Reader) error {
		out = r.BalanceOf(asset, holder)
		return nil
	}))
	return out
}

func TestDiscardLeavesCommittedStateUntouched(t *testing.T) {
	l := newLedger(t)

	tx := l.Begin()
	require.NoError(t, tx.Transfer(usdc, alice, bob, sdkmath.NewInt(400)))
	assert.Equal(t, "400", tx.BalanceOf(usdc, bob).String())
	tx.Discard()

	assert.Equal(t, "1000", balance(t, l, usdc, alice).String())
	assert.True(t, balance(t, l, usdc, bob).IsZero())
}

func TestUpdateRollsBackOnError(t *testing.T) {
	l := newLedger(t)
	boom := errors.New("boom")

	err := l.Update(func(tx *ledger.Tx) error {
		require.NoError(t, tx.Transfer(usdc, alice, bob, sdkmath.NewInt(100)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, balance(t, l, usdc, bob).IsZero())
}

func TestFeeOnTransferBurnsFee(t *testing.T) {
	l := newLedger(t)

	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		return tx.Transfer(feeTok, alice, bob, sdkmath.NewInt(1_000))
	}))

	assert.Equal(t, "990", balance(t, l, feeTok, bob).String())
	assert.Equal(t, "9000", balance(t, l, feeTok, alice).String())
	require.NoError(t, l.View(func(r ledger.Reader) error {
		assert.Equal(t, "9990", r.TotalSupply(feeTok).String())
		return nil
	}))
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newLedger(t)

	err := l.Update(func(tx *ledger.Tx) error {
		return tx.TransferFrom(usdc, bob, alice, bob, sdkmath.NewInt(10))
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientAllow)

	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		if err := tx.Approve(usdc, alice, bob, sdkmath.NewInt(50)); err != nil {
			return err
		}
		return tx.TransferFrom(usdc, bob, alice, bob, sdkmath.NewInt(30))
	}))
	require.NoError(t, l.View(func(r ledger.Reader) error {
		assert.Equal(t, "20", r.Allowance(usdc, alice, bob).String())
		return nil
	}))
	assert.Equal(t, "30", balance(t, l, usdc, bob).String())
}

func TestMintAndBurnRequireMinter(t *testing.T) {
	l := newLedger(t)

	err := l.Update(func(tx *ledger.Tx) error {
		return tx.Mint(usdc, alice, alice, sdkmath.NewInt(1))
	})
	require.ErrorIs(t, err, ledger.ErrNotMinter)

	err = l.Update(func(tx *ledger.Tx) error {
		return tx.Burn(usdc, minter, alice, sdkmath.NewInt(1_001))
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestChangesReportsTouchedKeys(t *testing.T) {
	l := newLedger(t)

	tx := l.Begin()
	defer tx.Discard()
	require.NoError(t, tx.Transfer(usdc, alice, bob, sdkmath.NewInt(5)))

	balances, supplies := tx.Changes()
	require.Len(t, balances, 2)
	assert.Equal(t, alice, balances[0].Holder)
	assert.Equal(t, bob, balances[1].Holder)
	assert.Empty(t, supplies)
}

func TestRestoreRejectsUnknownAsset(t *testing.T) {
	l := newLedger(t)
	err := l.Restore([]ledger.BalanceChange{{Asset: common.HexToAddress("0xdead"), Holder: alice, Amount: sdkmath.OneInt()}}, nil)
	require.ErrorIs(t, err, ledger.ErrUnknownAsset)
}

func TestAllowanceChangesRoundTrip(t *testing.T) {
	l := newLedger(t)

	var changes []ledger.AllowanceChange
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		if err := tx.Approve(usdc, alice, bob, sdkmath.NewInt(40)); err != nil {
			return err
		}
		if err := tx.TransferFrom(usdc, bob, alice, bob, sdkmath.NewInt(15)); err != nil {
			return err
		}
		changes = tx.AllowanceChanges()
		return nil
	}))
	require.Len(t, changes, 1)
	assert.Equal(t, "25", changes[0].Amount.String())

	fresh := ledger.New()
	require.NoError(t, fresh.RegisterAsset(ledger.Asset{Address: usdc, Symbol: "USDC", Decimals: 6, Minter: minter}))
	require.NoError(t, fresh.RestoreAllowances(changes))
	require.NoError(t, fresh.View(func(r ledger.Reader) error {
		assert.Equal(t, "25", r.Allowance(usdc, alice, bob).String())
		return nil
	}))

	err := fresh.RestoreAllowances([]ledger.AllowanceChange{{Asset: feeTok, Owner: alice, Spender: bob, Amount: sdkmath.OneInt()}})
	require.ErrorIs(t, err, ledger.ErrUnknownAsset)
}
