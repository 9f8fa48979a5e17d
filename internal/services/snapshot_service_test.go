package services_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-backend/internal/services"
)

func TestSnapshotServiceRecordsTotals(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.svc.Approve(e.ctx, alice, usdc, vaddr, sdkmath.NewInt(4_000)))
	_, err := e.svc.Deposit(e.ctx, alice, usdc, sdkmath.NewInt(4_000), alice, sdkmath.ZeroInt())
	require.NoError(t, err)

	repo := &memSnapshots{}
	s := services.NewSnapshotService(e.svc, repo, time.Hour, 0, e.clock, e.log)
	snap, err := s.RunOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, vaddr.Hex(), snap.VaultAddress)
	assert.Equal(t, "4000000", snap.TotalSupply)
	assert.Equal(t, "4000", snap.Custody)
	assert.Equal(t, "4000", snap.Available)
	assert.True(t, genesis.Equal(snap.CreatedAt))
}

func TestSnapshotServicePrunesAndTicks(t *testing.T) {
	e := newEnv(t)
	repo := &memSnapshots{}
	s := services.NewSnapshotService(e.svc, repo, time.Hour, 2*time.Hour, e.clock, e.log)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return repo.count() == 1 }, time.Second, 5*time.Millisecond)
	for i := 1; i <= 3; i++ {
		e.clock.Add(time.Hour)
		want := genesis.Add(time.Duration(i) * time.Hour)
		require.Eventually(t, func() bool {
			latest, err := repo.Latest(e.ctx, vaddr.Hex())
			return err == nil && latest != nil && want.Equal(latest.CreatedAt)
		}, time.Second, 5*time.Millisecond)
	}
	// the genesis snapshot fell out of the two hour window
	require.Eventually(t, func() bool { return repo.count() == 3 }, time.Second, 5*time.Millisecond)
}
