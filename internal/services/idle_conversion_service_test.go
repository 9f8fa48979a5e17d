package services_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/models"
	"vault-backend/internal/services"
	"vault-backend/internal/vault"
)

func newKeeper(e *env, repo *memConversions, assets ...common.Address) *services.IdleConversionService {
	return services.NewIdleConversionService(e.svc, repo, services.IdleConversionConfig{
		Keeper:   keeper,
		Assets:   assets,
		Interval: time.Hour,
	}, e.clock, e.log)
}

func TestIdleKeeperConvertsOneAssetPerInterval(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Grant(e.ctx, admin, vault.CapStrategy, keeper))
	repo := &memConversions{}
	k := newKeeper(e, repo, dai, weth)

	recs := k.RunOnce(e.ctx)
	require.Len(t, recs, 2)
	assert.Equal(t, models.ConversionStatusFailed, recs[0].Status)
	assert.Equal(t, dai.Hex(), recs[0].AssetIn)
	assert.Equal(t, string(vault.KindStateConflict), recs[0].ErrorKind)

	assert.Equal(t, models.ConversionStatusSuccess, recs[1].Status)
	assert.Equal(t, "60", recs[1].AmountIn)
	assert.Equal(t, "59", recs[1].Quote)
	assert.Equal(t, "58", recs[1].MinOut)
	assert.Equal(t, "59", recs[1].AmountOut)

	// interval not elapsed: weth is skipped without a record
	recs = k.RunOnce(e.ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, dai.Hex(), recs[0].AssetIn)

	e.clock.Add(time.Hour)
	recs = k.RunOnce(e.ctx)
	require.Len(t, recs, 2)
	assert.Equal(t, models.ConversionStatusSuccess, recs[1].Status)
	assert.Equal(t, "40", recs[1].AmountIn)
	assert.Equal(t, 5, repo.count())

	sum, err := e.svc.Summary()
	require.NoError(t, err)
	assert.Equal(t, sum.Custody.String(), sum.Available.String())
	assert.True(t, sum.Custody.GTE(sum.PendingReserve))
}

func TestIdleKeeperRecordsUnauthorized(t *testing.T) {
	e := newEnv(t)
	repo := &memConversions{}
	k := newKeeper(e, repo, weth)

	recs := k.RunOnce(e.ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ConversionStatusFailed, recs[0].Status)
	assert.Equal(t, string(vault.KindUnauthorized), recs[0].ErrorKind)
	assert.Equal(t, "0", recs[0].AmountOut)
}

func TestIdleKeeperRunsOnTicker(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Grant(e.ctx, admin, vault.CapStrategy, keeper))
	repo := &memConversions{}
	k := newKeeper(e, repo, weth)
	k.Start()
	defer k.Stop()

	assert.Zero(t, repo.count())
	e.clock.Add(time.Hour)
	require.Eventually(t, func() bool { return repo.count() == 1 }, time.Second, 5*time.Millisecond)

	last, err := repo.LastSuccess(e.ctx, weth.Hex())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "60", last.AmountIn)
}

func TestIdleKeeperWithoutAssetsIsNoop(t *testing.T) {
	e := newEnv(t)
	k := newKeeper(e, &memConversions{})
	assert.Empty(t, k.RunOnce(e.ctx))
}
