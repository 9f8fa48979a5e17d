package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"vault-backend/internal/app"
	"vault-backend/internal/config"
	"vault-backend/internal/db"
	"vault-backend/internal/exchange"
	"vault-backend/internal/ledger"
	"vault-backend/internal/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	usdcAddr   = "0x00000000000000000000000000000000000000a1"
	wethAddr   = "0x00000000000000000000000000000000000000a2"
	shareAddr  = "0x00000000000000000000000000000000000000a4"
	minterAddr = "0x00000000000000000000000000000000000000f0"
	routerAddr = "0x00000000000000000000000000000000000000e0"
	vaultAddr  = "0x00000000000000000000000000000000000000c0"
	adminAddr  = "0x00000000000000000000000000000000000000ad"
	aliceAddr  = "0x0000000000000000000000000000000000000001"
)

var (
	usdc  = common.HexToAddress(usdcAddr)
	weth  = common.HexToAddress(wethAddr)
	vaddr = common.HexToAddress(vaultAddr)
	alice = common.HexToAddress(aliceAddr)
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite"},
		Vault: config.VaultConfig{
			Address:                   vaultAddr,
			ReferenceAsset:            usdcAddr,
			ShareAsset:                shareAddr,
			SupportedAssets:           []string{wethAddr},
			WithdrawalTimelockSeconds: 3600,
			ExchangeAdapter:           "pools",
			Admin:                     adminAddr,
			IdleConversion: config.IdleConversionConfig{
				IntervalSeconds: 600,
				MaxAmount:       "1.5",
				MaxSlippageBps:  50,
			},
		},
		Ledger: config.LedgerConfig{
			Assets: []config.AssetConfig{
				{Address: usdcAddr, Symbol: "USDC", Decimals: 6, Minter: minterAddr},
				{Address: wethAddr, Symbol: "WETH", Decimals: 18, Minter: minterAddr},
				{Address: shareAddr, Symbol: "vUSDC", Decimals: 9, Minter: vaultAddr},
			},
			Genesis: []config.GenesisBalance{
				{Asset: usdcAddr, Holder: aliceAddr, Amount: "100"},
				{Asset: usdcAddr, Holder: "pool:weth-usdc", Amount: "3000"},
				{Asset: wethAddr, Holder: "pool:weth-usdc", Amount: "1"},
			},
			FaucetEnabled: true,
		},
		Exchange: config.ExchangeConfig{Adapters: []config.AdapterConfig{{
			Name:   "pools",
			Router: routerAddr,
			Pools:  []config.PoolConfig{{ID: "weth-usdc", AssetA: wethAddr, AssetB: usdcAddr, FeeBps: 30}},
		}}},
	}
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func balance(t *testing.T, l *ledger.Ledger, asset, holder common.Address) string {
	t.Helper()
	var out string
	require.NoError(t, l.View(func(r ledger.Reader) error {
		out = r.BalanceOf(asset, holder).String()
		return nil
	}))
	return out
}

func TestContainerMintsGenesisThenRestores(t *testing.T) {
	ctx := context.Background()
	gdb := openDB(t)
	logger, _ := test.NewNullLogger()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	c, err := app.NewContainer(ctx, testConfig(), gdb, logger, mock)
	require.NoError(t, err)
	assert.Nil(t, c.NATSClient, "NATS is disabled without a URL")
	assert.Equal(t, "100000000", balance(t, c.Ledger, usdc, alice))
	assert.Equal(t, "1000000000000000000", balance(t, c.Ledger, weth, exchange.PoolAddress("weth-usdc")))

	st, err := c.Vault.State()
	require.NoError(t, err)
	assert.Equal(t, "1500000", st.Idle.MaxAmount.String())
	assert.Equal(t, 10*time.Minute, st.Idle.Interval)

	c.Start()
	require.NoError(t, c.VaultService.Approve(ctx, alice, usdc, vaddr, sdkmath.NewInt(10_000_000)))
	_, err = c.VaultService.Deposit(ctx, alice, usdc, sdkmath.NewInt(4_000_000), alice, sdkmath.ZeroInt())
	require.NoError(t, err)
	req, err := c.VaultService.RequestWithdrawal(ctx, alice, sdkmath.NewInt(1_000_000_000), usdc, sdkmath.ZeroInt())
	require.NoError(t, err)
	c.Stop()

	stored, err := c.WithdrawalRepo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", string(stored.Status))

	restarted, err := app.NewContainer(ctx, testConfig(), gdb, logger, mock)
	require.NoError(t, err)
	assert.Equal(t, "96000000", balance(t, restarted.Ledger, usdc, alice))

	allowance, err := restarted.VaultService.Allowance(usdc, alice, vaddr)
	require.NoError(t, err)
	assert.Equal(t, "6000000", allowance.String())

	got, err := restarted.Vault.Request(req.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.StatusPending, got.Status)
	assert.Equal(t, "1000000", got.Reserved.String())

	restarted.Start()
	defer restarted.Stop()
	mock.Add(time.Hour)
	payout, err := restarted.VaultService.CompleteWithdrawal(ctx, alice, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000000", payout.Paid.String())
}

func TestVaultConfigRejectsBadIdleAmount(t *testing.T) {
	cfg := testConfig()
	l, err := app.BuildLedger(cfg.Ledger)
	require.NoError(t, err)

	cfg.Vault.IdleConversion.MaxAmount = "0.0000001"
	_, err = app.VaultConfig(cfg.Vault, l)
	require.Error(t, err)
}

func TestMintGenesisRejectsUnknownAsset(t *testing.T) {
	cfg := testConfig()
	l, err := app.BuildLedger(cfg.Ledger)
	require.NoError(t, err)

	err = app.MintGenesis(context.Background(), l, []config.GenesisBalance{
		{Asset: "0x00000000000000000000000000000000000000ff", Holder: aliceAddr, Amount: "1"},
	}, nil, clock.NewMock())
	require.ErrorIs(t, err, ledger.ErrUnknownAsset)
}
