package vault_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/exchange"
	"vault-backend/internal/ledger"
	"vault-backend/internal/vault"
)

var (
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	fot    = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	share  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	minter = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	router = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	vaddr  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	feeTo  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	keeper = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

var genesis = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	ctx     context.Context
	ledger  *ledger.Ledger
	pools   *exchange.PoolAdapter
	clock   *clock.Mock
	vault   *vault.Vault
	logHook *test.Hook
}

type option func(*vault.Config, *[]vault.ExchangeAdapter, *[]vault.Option)

func withFees(f vault.FeeConfig) option {
	return func(c *vault.Config, _ *[]vault.ExchangeAdapter, _ *[]vault.Option) { c.Fees = f }
}

func withTimelock(d time.Duration) option {
	return func(c *vault.Config, _ *[]vault.ExchangeAdapter, _ *[]vault.Option) { c.Timelock = d }
}

func withAdapter(a vault.ExchangeAdapter) option {
	return func(_ *vault.Config, as *[]vault.ExchangeAdapter, _ *[]vault.Option) { *as = append(*as, a) }
}

func withVaultOption(o vault.Option) option {
	return func(_ *vault.Config, _ *[]vault.ExchangeAdapter, os *[]vault.Option) { *os = append(*os, o) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	l := ledger.New()
	for _, a := range []ledger.Asset{
		{Address: usdc, Symbol: "USDC", Decimals: 6, Minter: minter},
		{Address: weth, Symbol: "WETH", Decimals: 18, Minter: minter},
		{Address: fot, Symbol: "FOT", Decimals: 18, Minter: minter, TransferFeeBps: 100},
		{Address: share, Symbol: "vUSDC", Decimals: 9, Minter: vaddr},
	} {
		require.NoError(t, l.RegisterAsset(a))
	}

	pools := exchange.NewPoolAdapter("pools", router)
	wethPool, err := pools.AddPool("weth-usdc", weth, usdc, 0)
	require.NoError(t, err)
	fotPool, err := pools.AddPool("fot-usdc", fot, usdc, 0)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		for _, m := range []struct {
			asset, to common.Address
			amount    int64
		}{
			{weth, wethPool.Address, 1_000_000},
			{usdc, wethPool.Address, 2_000_000_000},
			{fot, fotPool.Address, 10_000_000},
			{usdc, fotPool.Address, 10_000_000},
		} {
			if err := tx.Mint(m.asset, minter, m.to, sdkmath.NewInt(m.amount)); err != nil {
				return err
			}
		}
		return nil
	}))

	mock := clock.NewMock()
	mock.Set(genesis)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cfg := vault.Config{
		Address:         vaddr,
		ReferenceAsset:  usdc,
		ShareAsset:      share,
		SupportedAssets: []common.Address{weth, fot},
		Timelock:        24 * time.Hour,
		Adapter:         "pools",
		Admin:           admin,
	}
	adapters := []vault.ExchangeAdapter{pools}
	vopts := []vault.Option{vault.WithClock(mock), vault.WithLogger(logger)}
	for _, o := range opts {
		o(&cfg, &adapters, &vopts)
	}
	v, err := vault.New(l, cfg, adapters, vopts...)
	require.NoError(t, err)

	return &harness{t: t, ctx: context.Background(), ledger: l, pools: pools, clock: mock, vault: v, logHook: hook}
}

// fund mints amount to holder and approves the vault to pull it.
func (h *harness) fund(holder, asset common.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.Mint(asset, minter, holder, sdkmath.NewInt(amount)); err != nil {
			return err
		}
		return tx.Approve(asset, holder, vaddr, tx.BalanceOf(asset, holder))
	}))
}

func (h *harness) balance(asset, holder common.Address) sdkmath.Int {
	h.t.Helper()
	var out sdkmath.Int
	require.NoError(h.t, h.ledger.View(func(r ledger.Reader) error {
		out = r.BalanceOf(asset, holder)
		return nil
	}))
	return out
}

func (h *harness) supply() sdkmath.Int {
	h.t.Helper()
	var out sdkmath.Int
	require.NoError(h.t, h.ledger.View(func(r ledger.Reader) error {
		out = r.TotalSupply(share)
		return nil
	}))
	return out
}

func (h *harness) summary() vault.Summary {
	h.t.Helper()
	s, err := h.vault.Summary()
	require.NoError(h.t, err)
	return s
}

func (h *harness) deposit(who, asset common.Address, amount int64) vault.DepositResult {
	h.t.Helper()
	h.fund(who, asset, amount)
	res, err := h.vault.Deposit(h.ctx, who, asset, sdkmath.NewInt(amount), who, sdkmath.ZeroInt())
	require.NoError(h.t, err)
	return res
}

func amt(v int64) sdkmath.Int { return sdkmath.NewInt(v) }
