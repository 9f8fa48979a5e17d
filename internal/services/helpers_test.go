package services_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vault-backend/internal/exchange"
	"vault-backend/internal/ledger"
	"vault-backend/internal/models"
	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	usdc   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	weth   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	dai    = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	share  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	minter = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	router = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	vaddr  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	keeper = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

var genesis = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	ctx    context.Context
	clock  *clock.Mock
	ledger *ledger.Ledger
	vault  *vault.Vault
	svc    *services.VaultService
	log    logrus.FieldLogger
}

// newEnv builds a vault over USDC with WETH and DAI accepted, a 1:1
// WETH/USDC pool and 100 WETH already idle in the vault. DAI has no pool.
func newEnv(t *testing.T, opts ...vault.Option) *env {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(genesis)
	logger, _ := test.NewNullLogger()

	l := ledger.New()
	for _, a := range []ledger.Asset{
		{Address: usdc, Symbol: "USDC", Decimals: 6, Minter: minter},
		{Address: weth, Symbol: "WETH", Decimals: 18, Minter: minter},
		{Address: dai, Symbol: "DAI", Decimals: 18, Minter: minter},
		{Address: share, Symbol: "vUSDC", Decimals: 9, Minter: vaddr},
	} {
		require.NoError(t, l.RegisterAsset(a))
	}
	pools := exchange.NewPoolAdapter("pools", router)
	pool, err := pools.AddPool("weth-usdc", weth, usdc, 0)
	require.NoError(t, err)
	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		for _, m := range []struct {
			asset, to common.Address
			amount    int64
		}{
			{weth, pool.Address, 1_000_000},
			{usdc, pool.Address, 1_000_000},
			{weth, vaddr, 100},
			{dai, vaddr, 50},
			{usdc, alice, 50_000_000},
		} {
			if err := tx.Mint(m.asset, minter, m.to, sdkmath.NewInt(m.amount)); err != nil {
				return err
			}
		}
		return nil
	}))

	opts = append([]vault.Option{vault.WithClock(mock), vault.WithLogger(logger)}, opts...)
	v, err := vault.New(l, vault.Config{
		Address:         vaddr,
		ReferenceAsset:  usdc,
		ShareAsset:      share,
		SupportedAssets: []common.Address{weth, dai},
		Adapter:         "pools",
		Admin:           admin,
		Idle: vault.IdlePolicy{
			Interval:       time.Hour,
			MaxAmount:      sdkmath.NewInt(60),
			MaxSlippageBps: 100,
		},
	}, []vault.ExchangeAdapter{pools}, opts...)
	require.NoError(t, err)

	svc := services.NewVaultService(v, l, logger, services.WithServiceClock(mock), services.WithFaucet(true))
	svc.Start()
	t.Cleanup(svc.Stop)

	return &env{ctx: context.Background(), clock: mock, ledger: l, vault: v, svc: svc, log: logger}
}

type memConversions struct {
	mu      sync.Mutex
	records []*models.ConversionRecord
}

func (m *memConversions) Create(_ context.Context, r *models.ConversionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memConversions) Recent(_ context.Context, assetIn string, limit int) ([]*models.ConversionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ConversionRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if assetIn == "" || m.records[i].AssetIn == assetIn {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memConversions) LastSuccess(ctx context.Context, assetIn string) (*models.ConversionRecord, error) {
	recent, _ := m.Recent(ctx, assetIn, len(m.records))
	for _, r := range recent {
		if r.Status == models.ConversionStatusSuccess {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memConversions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps []*models.VaultSnapshot
}

func (m *memSnapshots) Create(_ context.Context, s *models.VaultSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uint64(len(m.snaps) + 1)
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *memSnapshots) Latest(_ context.Context, _ string) (*models.VaultSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snaps) == 0 {
		return nil, nil
	}
	return m.snaps[len(m.snaps)-1], nil
}

func (m *memSnapshots) FindRange(_ context.Context, _ string, from, to time.Time, limit int) ([]*models.VaultSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VaultSnapshot
	for _, s := range m.snaps {
		if !s.CreatedAt.Before(from) && !s.CreatedAt.After(to) && len(out) < limit {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSnapshots) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.snaps[:0]
	var removed int64
	for _, s := range m.snaps {
		if s.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.snaps = kept
	sort.Slice(m.snaps, func(i, j int) bool { return m.snaps[i].ID < m.snaps[j].ID })
	return removed, nil
}

func (m *memSnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}
