package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/ledger"
	"vault-backend/internal/metrics"
	"vault-backend/internal/repository"
	"vault-backend/internal/utils"
	"vault-backend/internal/vault"
)

var (
	ErrServiceStopped = errors.New("vault service is not running")
	ErrFaucetDisabled = errors.New("faucet is disabled")
	ErrFaucetAsset    = errors.New("asset cannot be minted through the faucet")
)

const defaultQueueSize = 256

// LedgerJournal persists ledger-only operations. Nil disables journaling.
type LedgerJournal interface {
	RecordLedger(ctx context.Context, e repository.LedgerEntry) error
}

// job one queued operation
type job struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// VaultService runs every state-changing call against the vault and the
// host ledger on a single worker goroutine, in submission order.
type VaultService struct {
	vault   *vault.Vault
	ledger  *ledger.Ledger
	journal LedgerJournal
	clock   clock.Clock
	log     logrus.FieldLogger
	faucet  bool

	jobs    chan job
	stopCh  chan struct{}
	exited  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// VaultServiceOption customises a VaultService.
type VaultServiceOption func(*VaultService)

func WithLedgerJournal(j LedgerJournal) VaultServiceOption {
	return func(s *VaultService) { s.journal = j }
}

func WithServiceClock(c clock.Clock) VaultServiceOption {
	return func(s *VaultService) { s.clock = c }
}

func WithFaucet(enabled bool) VaultServiceOption {
	return func(s *VaultService) { s.faucet = enabled }
}

func WithQueueSize(n int) VaultServiceOption {
	return func(s *VaultService) {
		if n > 0 {
			s.jobs = make(chan job, n)
		}
	}
}

// NewVaultService creates the sequencer. Start must be called before any
// operation is submitted.
func NewVaultService(v *vault.Vault, l *ledger.Ledger, logger logrus.FieldLogger, opts ...VaultServiceOption) *VaultService {
	s := &VaultService{
		vault:  v,
		ledger: l,
		clock:  clock.New(),
		log:    logger.WithField("component", "vault_service"),
		jobs:   make(chan job, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker.
func (s *VaultService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.exited = make(chan struct{})
	s.failQueued()
	s.wg.Add(1)
	go s.worker(s.stopCh, s.exited)
	s.log.WithField("queue_size", cap(s.jobs)).Info("vault service started")
}

// Stop waits for the running operation and fails the queued ones.
func (s *VaultService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("vault service stopped")
}

func (s *VaultService) worker(stop, exited chan struct{}) {
	defer s.wg.Done()
	defer close(exited)
	for {
		select {
		case j := <-s.jobs:
			metrics.VaultQueueDepth.Dec()
			j.done <- s.execute(j)
		case <-stop:
			s.failQueued()
			return
		}
	}
}

// failQueued answers every job still in the queue without running it.
func (s *VaultService) failQueued() {
	for {
		select {
		case j := <-s.jobs:
			metrics.VaultQueueDepth.Dec()
			j.done <- ErrServiceStopped
		default:
			return
		}
	}
}

func (s *VaultService) execute(j job) error {
	start := time.Now()
	err := j.fn(j.ctx)
	metrics.VaultOperationDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = string(vault.KindOf(err))
	}
	metrics.VaultOperations.WithLabelValues(j.name, result).Inc()

	entry := s.log.WithFields(logrus.Fields{"op": j.name, "duration_ms": time.Since(start).Milliseconds()})
	if err != nil {
		entry.WithField("kind", result).WithError(err).Warn("operation failed")
	} else {
		entry.Debug("operation committed")
	}
	return err
}

// submit queues fn and waits for its result. A job whose context is done
// before the worker reaches it fails without touching the vault. Once
// queued, the job's own result is returned even if ctx ends meanwhile, so
// a nil error always means the operation committed.
func (s *VaultService) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	running, stop, exited := s.running, s.stopCh, s.exited
	s.mu.Unlock()
	if !running {
		return ErrServiceStopped
	}

	j := job{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}
	select {
	case s.jobs <- j:
		metrics.VaultQueueDepth.Inc()
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrServiceStopped
	}

	select {
	case err := <-j.done:
		return err
	case <-exited:
		// the worker answers every job it dequeued before closing exited
		select {
		case err := <-j.done:
			return err
		default:
			return ErrServiceStopped
		}
	}
}

// ---- vault operations ----

func (s *VaultService) Deposit(ctx context.Context, caller, asset common.Address, amount sdkmath.Int, receiver common.Address, minOut sdkmath.Int) (vault.DepositResult, error) {
	var res vault.DepositResult
	err := s.submit(ctx, "deposit", func(ctx context.Context) error {
		var err error
		res, err = s.vault.Deposit(ctx, caller, asset, amount, receiver, minOut)
		return err
	})
	return res, err
}

func (s *VaultService) RequestWithdrawal(ctx context.Context, caller common.Address, shares sdkmath.Int, target common.Address, minOut sdkmath.Int) (vault.WithdrawalRequest, error) {
	var req vault.WithdrawalRequest
	err := s.submit(ctx, "request_withdrawal", func(ctx context.Context) error {
		var err error
		req, err = s.vault.RequestWithdrawal(ctx, caller, shares, target, minOut)
		return err
	})
	return req, err
}

func (s *VaultService) CompleteWithdrawal(ctx context.Context, caller common.Address, id uint64) (vault.Payout, error) {
	var out vault.Payout
	err := s.submit(ctx, "complete_withdrawal", func(ctx context.Context) error {
		var err error
		out, err = s.vault.CompleteWithdrawal(ctx, caller, id)
		return err
	})
	return out, err
}

func (s *VaultService) CancelWithdrawal(ctx context.Context, caller common.Address, id uint64) (vault.WithdrawalRequest, error) {
	var req vault.WithdrawalRequest
	err := s.submit(ctx, "cancel_withdrawal", func(ctx context.Context) error {
		var err error
		req, err = s.vault.CancelWithdrawal(ctx, caller, id)
		return err
	})
	return req, err
}

func (s *VaultService) EmergencyWithdraw(ctx context.Context, caller common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	var paid sdkmath.Int
	err := s.submit(ctx, "emergency_withdraw", func(ctx context.Context) error {
		var err error
		paid, err = s.vault.EmergencyWithdraw(ctx, caller, shares)
		return err
	})
	return paid, err
}

func (s *VaultService) UpdateConfig(ctx context.Context, caller common.Address, u vault.ConfigUpdate) (vault.State, error) {
	var st vault.State
	err := s.submit(ctx, "update_config", func(ctx context.Context) error {
		var err error
		st, err = s.vault.UpdateConfig(ctx, caller, u)
		return err
	})
	return st, err
}

func (s *VaultService) Halt(ctx context.Context, caller common.Address) error {
	return s.submit(ctx, "halt", func(ctx context.Context) error {
		return s.vault.Halt(ctx, caller)
	})
}

func (s *VaultService) Resume(ctx context.Context, caller common.Address) error {
	return s.submit(ctx, "resume", func(ctx context.Context) error {
		return s.vault.Resume(ctx, caller)
	})
}

func (s *VaultService) Grant(ctx context.Context, caller common.Address, c vault.Capability, who common.Address) error {
	return s.submit(ctx, "grant", func(ctx context.Context) error {
		return s.vault.Grant(ctx, caller, c, who)
	})
}

func (s *VaultService) Revoke(ctx context.Context, caller common.Address, c vault.Capability, who common.Address) error {
	return s.submit(ctx, "revoke", func(ctx context.Context) error {
		return s.vault.Revoke(ctx, caller, c, who)
	})
}

func (s *VaultService) SetIdlePolicy(ctx context.Context, caller common.Address, p vault.IdlePolicy) error {
	return s.submit(ctx, "set_idle_policy", func(ctx context.Context) error {
		return s.vault.SetIdlePolicy(ctx, caller, p)
	})
}

func (s *VaultService) ExecuteIdleConversion(ctx context.Context, caller, assetIn common.Address, amount, minOut sdkmath.Int, routeHint string) (vault.IdleConversion, error) {
	var out vault.IdleConversion
	err := s.submit(ctx, "idle_conversion", func(ctx context.Context) error {
		var err error
		out, err = s.vault.ExecuteIdleConversion(ctx, caller, assetIn, amount, minOut, routeHint)
		return err
	})
	return out, err
}

// ---- ledger-only operations ----

// Approve sets owner's allowance for spender.
func (s *VaultService) Approve(ctx context.Context, owner, asset, spender common.Address, amount sdkmath.Int) error {
	detail := map[string]string{"asset": asset.Hex(), "spender": spender.Hex(), "amount": amount.String()}
	return s.submit(ctx, "approve", func(ctx context.Context) error {
		return s.ledgerOp(ctx, "approve", owner, detail, func(tx *ledger.Tx) error {
			return tx.Approve(asset, owner, spender, amount)
		})
	})
}

// Transfer moves amount of asset from one holder to another.
func (s *VaultService) Transfer(ctx context.Context, from, asset, to common.Address, amount sdkmath.Int) error {
	detail := map[string]string{"asset": asset.Hex(), "to": to.Hex(), "amount": amount.String()}
	return s.submit(ctx, "transfer", func(ctx context.Context) error {
		return s.ledgerOp(ctx, "transfer", from, detail, func(tx *ledger.Tx) error {
			return tx.Transfer(asset, from, to, amount)
		})
	})
}

// Mint credits test funds using the asset's own minter. The share asset
// is never mintable here.
func (s *VaultService) Mint(ctx context.Context, asset, to common.Address, amount sdkmath.Int) error {
	if !s.faucet {
		return ErrFaucetDisabled
	}
	if asset == s.vault.ShareAsset() {
		return fmt.Errorf("%w: %s", ErrFaucetAsset, asset.Hex())
	}
	detail := map[string]string{"asset": asset.Hex(), "to": to.Hex(), "amount": amount.String()}
	return s.submit(ctx, "faucet_mint", func(ctx context.Context) error {
		var minter common.Address
		if err := s.ledger.View(func(r ledger.Reader) error {
			a, ok := r.Asset(asset)
			if !ok {
				return fmt.Errorf("%w: %s", ledger.ErrUnknownAsset, asset.Hex())
			}
			minter = a.Minter
			return nil
		}); err != nil {
			return err
		}
		return s.ledgerOp(ctx, "faucet_mint", minter, detail, func(tx *ledger.Tx) error {
			return tx.Mint(asset, minter, to, amount)
		})
	})
}

// ledgerOp runs fn in a ledger transaction and journals the touched rows
// before committing.
func (s *VaultService) ledgerOp(ctx context.Context, op string, caller common.Address, detail map[string]string, fn func(tx *ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.ledger.Begin()
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	if s.journal != nil {
		balances, supplies := tx.Changes()
		entry := repository.LedgerEntry{
			ID:         uuid.NewString(),
			Op:         op,
			Caller:     caller,
			At:         s.clock.Now().UTC(),
			Detail:     detail,
			Balances:   balances,
			Supplies:   supplies,
			Allowances: tx.AllowanceChanges(),
		}
		if err := s.journal.RecordLedger(ctx, entry); err != nil {
			tx.Discard()
			return fmt.Errorf("%w: %v", vault.ErrJournal, err)
		}
	}
	return tx.Commit()
}

// ---- reads ----

func (s *VaultService) Vault() *vault.Vault { return s.vault }

func (s *VaultService) Summary() (vault.Summary, error) { return s.vault.Summary() }

func (s *VaultService) Request(id uint64) (vault.WithdrawalRequest, error) {
	return s.vault.Request(id)
}

func (s *VaultService) SharesOf(holder common.Address) (sdkmath.Int, error) {
	return s.vault.SharesOf(holder)
}

func (s *VaultService) QuoteIdleConversion(assetIn common.Address, routeHint string) (vault.IdleQuote, error) {
	return s.vault.QuoteIdleConversion(assetIn, routeHint)
}

// AssetBalance one balance row for API responses
type AssetBalance struct {
	Asset    common.Address `json:"asset"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Amount   string         `json:"amount"`
	Display  string         `json:"display"`
}

// Balances lists holder's balance of every registered asset.
func (s *VaultService) Balances(holder common.Address) ([]AssetBalance, error) {
	assets := s.ledger.Assets()
	out := make([]AssetBalance, 0, len(assets))
	err := s.ledger.View(func(r ledger.Reader) error {
		for _, a := range assets {
			amt := r.BalanceOf(a.Address, holder)
			out = append(out, AssetBalance{
				Asset:    a.Address,
				Symbol:   a.Symbol,
				Decimals: a.Decimals,
				Amount:   amt.String(),
				Display:  utils.FromMinorUnits(amt, a.Decimals),
			})
		}
		return nil
	})
	return out, err
}

// Allowance reads a committed allowance.
func (s *VaultService) Allowance(asset, owner, spender common.Address) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := s.ledger.View(func(r ledger.Reader) error {
		out = r.Allowance(asset, owner, spender)
		return nil
	})
	return out, err
}

// Asset looks up a registered asset.
func (s *VaultService) Asset(addr common.Address) (ledger.Asset, bool) {
	for _, a := range s.ledger.Assets() {
		if a.Address == addr {
			return a, true
		}
	}
	return ledger.Asset{}, false
}

// Conversion previews shares for an asset amount and assets for a share
// amount at the current price.
type Conversion struct {
	Assets        string `json:"assets"`
	Shares        string `json:"shares"`
	PricePerShare string `json:"price_per_share"`
}

func (s *VaultService) ConvertToShares(assets sdkmath.Int) (Conversion, error) {
	sum, err := s.vault.Summary()
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		Assets:        assets.String(),
		Shares:        sum.Totals().ConvertToShares(assets).String(),
		PricePerShare: sum.PricePerShare.String(),
	}, nil
}

func (s *VaultService) ConvertToAssets(shares sdkmath.Int) (Conversion, error) {
	sum, err := s.vault.Summary()
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		Assets:        sum.Totals().ConvertToAssets(shares).String(),
		Shares:        shares.String(),
		PricePerShare: sum.PricePerShare.String(),
	}, nil
}

// ObserveMetrics is a vault.Observer that mirrors committed totals to the
// state gauges.
func ObserveMetrics(cs *vault.Changeset) {
	RecordSummaryMetrics(cs.Summary)
}

// RecordSummaryMetrics sets the vault state gauges from s.
func RecordSummaryMetrics(s vault.Summary) {
	if !s.PricePerShare.IsNil() {
		if f, err := s.PricePerShare.Float64(); err == nil {
			metrics.VaultPricePerShare.Set(f)
		}
	}
	metrics.VaultTotalSupply.Set(intFloat(s.TotalSupply))
	metrics.VaultCustody.Set(intFloat(s.Custody))
	metrics.VaultAvailable.Set(intFloat(s.Available))
	metrics.VaultPendingReserve.Set(intFloat(s.PendingReserve))
	if s.Halted {
		metrics.VaultHalted.Set(1)
	} else {
		metrics.VaultHalted.Set(0)
	}
}

func intFloat(i sdkmath.Int) float64 {
	if i.IsNil() {
		return 0
	}
	f, _ := new(big.Float).SetInt(i.BigInt()).Float64()
	return f
}
