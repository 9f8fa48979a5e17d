// Package exchange provides exchange adapters the vault can swap through.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"vault-backend/internal/ledger"
	"vault-backend/internal/vault"
)

const bpsDenominator = 10_000

var (
	ErrNoPool        = errors.New("no pool for pair")
	ErrPoolExists    = errors.New("pool already exists")
	ErrPoolMismatch  = errors.New("route hint pool does not trade this pair")
	ErrEmptyReserves = errors.New("pool has no liquidity")
	ErrInvalidPool   = errors.New("invalid pool definition")
)

// Pool is a constant-product pool whose reserves are the ledger balances
// held at Address.
type Pool struct {
	ID      string         `json:"id"`
	AssetA  common.Address `json:"asset_a"`
	AssetB  common.Address `json:"asset_b"`
	FeeBps  uint32         `json:"fee_bps"`
	Address common.Address `json:"address"`
}

func (p Pool) trades(in, out common.Address) bool {
	return (p.AssetA == in && p.AssetB == out) || (p.AssetB == in && p.AssetA == out)
}

// PoolAddress derives the ledger address holding a pool's reserves.
func PoolAddress(id string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("vault-pool:" + id))[12:])
}

type pairKey struct{ a, b common.Address }

func newPairKey(x, y common.Address) pairKey {
	if x.Cmp(y) > 0 {
		x, y = y, x
	}
	return pairKey{x, y}
}

// PoolAdapter routes swaps through constant-product pools. The vault
// approves the router address; the adapter then pulls the input into the
// pool and pays the output from the pool's reserves.
type PoolAdapter struct {
	name   string
	router common.Address

	mu     sync.RWMutex
	pools  map[string]Pool
	byPair map[pairKey]string
}

// NewPoolAdapter creates an adapter with no pools.
func NewPoolAdapter(name string, router common.Address) *PoolAdapter {
	return &PoolAdapter{
		name:   name,
		router: router,
		pools:  make(map[string]Pool),
		byPair: make(map[pairKey]string),
	}
}

func (a *PoolAdapter) Name() string            { return a.name }
func (a *PoolAdapter) Address() common.Address { return a.router }

// AddPool registers a pool. The first pool added for a pair becomes the
// default route for that pair.
func (a *PoolAdapter) AddPool(id string, assetA, assetB common.Address, feeBps uint32) (Pool, error) {
	if id == "" || assetA == assetB || feeBps >= bpsDenominator {
		return Pool{}, fmt.Errorf("%w: id=%q fee=%d", ErrInvalidPool, id, feeBps)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[id]; ok {
		return Pool{}, fmt.Errorf("%w: %s", ErrPoolExists, id)
	}
	p := Pool{ID: id, AssetA: assetA, AssetB: assetB, FeeBps: feeBps, Address: PoolAddress(id)}
	a.pools[id] = p
	k := newPairKey(assetA, assetB)
	if _, ok := a.byPair[k]; !ok {
		a.byPair[k] = id
	}
	return p, nil
}

// Pools lists registered pools by id.
func (a *PoolAdapter) Pools() []Pool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Pool, 0, len(a.pools))
	for _, p := range a.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pool looks up a pool by id.
func (a *PoolAdapter) Pool(id string) (Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[id]
	return p, ok
}

func (a *PoolAdapter) route(in, out common.Address, hint string) (Pool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if hint != "" {
		p, ok := a.pools[hint]
		if !ok {
			return Pool{}, fmt.Errorf("%w: unknown pool %q", ErrNoPool, hint)
		}
		if !p.trades(in, out) {
			return Pool{}, fmt.Errorf("%w: %s", ErrPoolMismatch, hint)
		}
		return p, nil
	}
	id, ok := a.byPair[newPairKey(in, out)]
	if !ok {
		return Pool{}, fmt.Errorf("%w: %s/%s", ErrNoPool, in.Hex(), out.Hex())
	}
	return a.pools[id], nil
}

// amountOut is the constant-product output for amountIn after the pool fee.
func amountOut(amountIn, reserveIn, reserveOut sdkmath.Int, feeBps uint32) sdkmath.Int {
	inWithFee := amountIn.MulRaw(int64(bpsDenominator - feeBps))
	num := inWithFee.Mul(reserveOut)
	den := reserveIn.MulRaw(bpsDenominator).Add(inWithFee)
	if den.IsZero() {
		return sdkmath.ZeroInt()
	}
	return num.Quo(den)
}

// Quote prices amountIn of in against the current reserves.
func (a *PoolAdapter) Quote(r ledger.Reader, in, out common.Address, amountIn sdkmath.Int, routeHint string) (sdkmath.Int, error) {
	p, err := a.route(in, out, routeHint)
	if err != nil {
		return sdkmath.Int{}, err
	}
	reserveIn := r.BalanceOf(in, p.Address)
	reserveOut := r.BalanceOf(out, p.Address)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrEmptyReserves, p.ID)
	}
	return amountOut(amountIn, reserveIn, reserveOut, p.FeeBps), nil
}

// SwapExactInput pulls the input into the pool, prices it on what the pool
// actually received and pays the output to the recipient.
func (a *PoolAdapter) SwapExactInput(ctx context.Context, bank vault.Bank, req vault.SwapRequest) (sdkmath.Int, error) {
	if err := ctx.Err(); err != nil {
		return sdkmath.Int{}, err
	}
	p, err := a.route(req.AssetIn, req.AssetOut, req.RouteHint)
	if err != nil {
		return sdkmath.Int{}, err
	}
	reserveIn := bank.BalanceOf(req.AssetIn, p.Address)
	reserveOut := bank.BalanceOf(req.AssetOut, p.Address)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrEmptyReserves, p.ID)
	}

	if err := bank.TransferFrom(req.AssetIn, a.router, req.Payer, p.Address, req.AmountIn); err != nil {
		return sdkmath.Int{}, fmt.Errorf("pull input into pool %s: %w", p.ID, err)
	}
	received := bank.BalanceOf(req.AssetIn, p.Address).Sub(reserveIn)

	out := amountOut(received, reserveIn, reserveOut, p.FeeBps)
	if !req.MinAmountOut.IsNil() && out.LT(req.MinAmountOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: pool %s quotes %s, minimum %s", vault.ErrOutputBelowMinimum, p.ID, out, req.MinAmountOut)
	}
	if !out.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: pool %s returns nothing for %s", ErrEmptyReserves, p.ID, received)
	}
	if err := bank.Transfer(req.AssetOut, p.Address, req.Recipient, out); err != nil {
		return sdkmath.Int{}, fmt.Errorf("pay output from pool %s: %w", p.ID, err)
	}
	return out, nil
}

// AddLiquidity moves reserves from provider into a pool.
func (a *PoolAdapter) AddLiquidity(bank vault.Bank, provider common.Address, poolID string, amountA, amountB sdkmath.Int) error {
	p, ok := a.Pool(poolID)
	if !ok {
		return fmt.Errorf("%w: unknown pool %q", ErrNoPool, poolID)
	}
	if err := bank.Transfer(p.AssetA, provider, p.Address, amountA); err != nil {
		return fmt.Errorf("add liquidity %s: %w", poolID, err)
	}
	if err := bank.Transfer(p.AssetB, provider, p.Address, amountB); err != nil {
		return fmt.Errorf("add liquidity %s: %w", poolID, err)
	}
	return nil
}
