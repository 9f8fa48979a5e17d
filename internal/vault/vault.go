// Package vault implements the pooled-asset vault: share accounting with
// virtual offsets, two-phase withdrawals behind a timelock, management-fee
// dilution and a slippage-checked swap gateway. Every entry point runs as a
// single host-ledger transaction that commits fully or not at all.
package vault

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/ledger"
)

// Config fixes the vault identity and its initial settings.
type Config struct {
	Address         common.Address
	ReferenceAsset  common.Address
	ShareAsset      common.Address
	SupportedAssets []common.Address
	Fees            FeeConfig
	Timelock        time.Duration
	Adapter         string
	// Admin receives every capability at creation.
	Admin common.Address
	Idle  IdlePolicy
}

// Option customises a Vault.
type Option func(*Vault)

func WithClock(c clock.Clock) Option {
	return func(v *Vault) { v.clock = c }
}

func WithJournal(j Journal) Option {
	return func(v *Vault) { v.journal = j }
}

func WithObserver(o Observer) Option {
	return func(v *Vault) { v.observers = append(v.observers, o) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Vault) { v.log = l }
}

// Vault owns the bookkeeping for one pool. state and requests are only
// read or written while the host ledger is held.
type Vault struct {
	address   common.Address
	reference common.Address
	shares    common.Address
	supported map[common.Address]struct{}
	assets    []common.Address

	host      Host
	adapters  map[string]ExchangeAdapter
	clock     clock.Clock
	journal   Journal
	observers []Observer
	log       logrus.FieldLogger

	entered  atomic.Bool
	state    State
	requests map[uint64]WithdrawalRequest
}

// New validates cfg against the host ledger and creates the vault.
func New(host Host, cfg Config, adapters []ExchangeAdapter, opts ...Option) (*Vault, error) {
	v := &Vault{
		address:   cfg.Address,
		reference: cfg.ReferenceAsset,
		shares:    cfg.ShareAsset,
		supported: make(map[common.Address]struct{}),
		host:      host,
		adapters:  make(map[string]ExchangeAdapter),
		clock:     clock.New(),
		log:       logrus.StandardLogger(),
		requests:  make(map[uint64]WithdrawalRequest),
	}
	for _, o := range opts {
		o(v)
	}
	for _, a := range adapters {
		v.adapters[a.Name()] = a
	}

	if cfg.Address == (common.Address{}) || cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("vault address and admin: %w", ErrZeroAddress)
	}
	if err := host.View(func(r ledger.Reader) error {
		share, ok := r.Asset(cfg.ShareAsset)
		if !ok {
			return fmt.Errorf("share asset %s: %w", cfg.ShareAsset.Hex(), ErrUnsupportedAsset)
		}
		if share.Minter != cfg.Address {
			return fmt.Errorf("%w: share asset %s is not minted by the vault", ErrInvalidInput, share.Symbol)
		}
		for _, a := range append([]common.Address{cfg.ReferenceAsset}, cfg.SupportedAssets...) {
			if _, ok := r.Asset(a); !ok {
				return fmt.Errorf("asset %s: %w", a.Hex(), ErrUnsupportedAsset)
			}
			if a == cfg.ShareAsset {
				return fmt.Errorf("%w: share asset cannot be deposited", ErrInvalidInput)
			}
			if _, dup := v.supported[a]; !dup {
				v.supported[a] = struct{}{}
				v.assets = append(v.assets, a)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	for _, bps := range []uint32{cfg.Fees.DepositFeeBps, cfg.Fees.WithdrawalFeeBps, cfg.Fees.ManagementFeeBps} {
		if err := validateFeeBps(bps); err != nil {
			return nil, err
		}
	}
	if err := cfg.Fees.checkRecipient(); err != nil {
		return nil, err
	}
	if cfg.Timelock < 0 || cfg.Timelock > MaxTimelock {
		return nil, ErrTimelockTooLong
	}
	if _, ok := v.adapters[cfg.Adapter]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, cfg.Adapter)
	}
	if !cfg.Idle.IsZero() {
		if err := cfg.Idle.Validate(); err != nil {
			return nil, err
		}
	}

	fees := cfg.Fees
	fees.LastAccrual = v.clock.Now()
	perms := make(Permissions)
	for _, c := range capabilities {
		perms.grant(c, cfg.Admin)
	}
	v.state = State{
		Fees:           fees,
		PendingReserve: sdkmath.ZeroInt(),
		Timelock:       cfg.Timelock,
		Adapter:        cfg.Adapter,
		NextRequestID:  1,
		Permissions:    perms,
		Idle:           cfg.Idle,
	}
	return v, nil
}

// Restore replaces bookkeeping with journaled state. Call before serving.
func (v *Vault) Restore(state State, requests []WithdrawalRequest) error {
	if _, ok := v.adapters[state.Adapter]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, state.Adapter)
	}
	if state.Permissions == nil {
		state.Permissions = make(Permissions)
	}
	if state.PendingReserve.IsNil() {
		state.PendingReserve = sdkmath.ZeroInt()
	}
	byID := make(map[uint64]WithdrawalRequest, len(requests))
	for _, r := range requests {
		if r.ID >= state.NextRequestID {
			return fmt.Errorf("%w: request %d at or above next id %d", ErrStateConflict, r.ID, state.NextRequestID)
		}
		byID[r.ID] = r
	}
	return v.host.View(func(ledger.Reader) error {
		v.state = state.clone()
		v.requests = byID
		return nil
	})
}

func (v *Vault) Address() common.Address        { return v.address }
func (v *Vault) ReferenceAsset() common.Address { return v.reference }
func (v *Vault) ShareAsset() common.Address     { return v.shares }

// SupportedAssets lists the accepted deposit and target assets, reference
// asset first.
func (v *Vault) SupportedAssets() []common.Address {
	return append([]common.Address(nil), v.assets...)
}

func (v *Vault) supports(asset common.Address) bool {
	_, ok := v.supported[asset]
	return ok
}

// operation is the staging area for one transaction.
type operation struct {
	ctx      context.Context
	v        *Vault
	tx       *ledger.Tx
	id       string
	name     string
	caller   common.Address
	now      time.Time
	state    State
	requests map[uint64]WithdrawalRequest
	events   []Event
}

func (op *operation) emit(name string, fields map[string]string) {
	op.events = append(op.events, Event{Name: name, Vault: op.v.address, OpID: op.id, At: op.now, Fields: fields})
}

func (op *operation) gateway() Gateway {
	return Gateway{adapter: op.v.adapters[op.state.Adapter], self: op.v.address}
}

func (op *operation) totals() Totals {
	custody := op.tx.BalanceOf(op.v.reference, op.v.address)
	return Totals{Supply: op.tx.TotalSupply(op.v.shares), Available: custody.Sub(op.state.PendingReserve)}
}

func (op *operation) requireActive() error {
	if op.state.Halted {
		return ErrHalted
	}
	return nil
}

// run executes fn as one transaction. It returns only after observers have
// seen the committed changeset.
func (v *Vault) run(ctx context.Context, name string, caller common.Address, fn func(op *operation) error) error {
	cs, err := v.execute(ctx, name, caller, fn)
	if err != nil {
		return err
	}
	for _, o := range v.observers {
		o(cs)
	}
	return nil
}

func (v *Vault) execute(ctx context.Context, name string, caller common.Address, fn func(op *operation) error) (*Changeset, error) {
	if !v.entered.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: %w", name, ErrReentrantCall)
	}
	defer v.entered.Store(false)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	tx := v.host.Begin()
	defer tx.Discard()

	op := &operation{
		ctx:      ctx,
		v:        v,
		tx:       tx,
		id:       uuid.New().String(),
		name:     name,
		caller:   caller,
		now:      v.clock.Now(),
		state:    v.state.clone(),
		requests: make(map[uint64]WithdrawalRequest),
	}
	logger := v.log.WithFields(logrus.Fields{"op": name, "op_id": op.id, "caller": caller.Hex()})

	err := fn(op)
	if err == nil {
		err = op.checkSolvency()
	}
	if err != nil {
		logger.WithFields(logrus.Fields{"kind": KindOf(err), "error": err.Error()}).Warn("vault operation rejected")
		return nil, err
	}

	cs := op.changeset()
	if v.journal != nil {
		if err := v.journal.Record(ctx, cs); err != nil {
			logger.WithError(err).Error("journal write failed, discarding operation")
			return nil, wrap(ErrJournal, err)
		}
	}

	v.state = op.state
	for id, r := range op.requests {
		v.requests[id] = r
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"events":   len(cs.Events),
		"duration": time.Since(start).String(),
	}).Info("vault operation committed")
	return cs, nil
}

func (op *operation) checkSolvency() error {
	custody := op.tx.BalanceOf(op.v.reference, op.v.address)
	if custody.LT(op.state.PendingReserve) {
		return fmt.Errorf("%w: custody %s, reserve %s", ErrReserveExceedsCustody, custody, op.state.PendingReserve)
	}
	return nil
}

func (op *operation) changeset() *Changeset {
	balances, supplies := op.tx.Changes()
	requests := make([]WithdrawalRequest, 0, len(op.requests))
	for _, r := range op.requests {
		requests = append(requests, r)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return &Changeset{
		ID:         op.id,
		Op:         op.name,
		Caller:     op.caller,
		Vault:      op.v.address,
		At:         op.now,
		State:      op.state.clone(),
		Requests:   requests,
		Balances:   balances,
		Supplies:   supplies,
		Allowances: op.tx.AllowanceChanges(),
		Events:     op.events,
		Summary:    op.v.summarize(op.tx, op.state),
	}
}

// DepositResult reports the amounts of one deposit.
type DepositResult struct {
	Received  sdkmath.Int `json:"received"`
	Fee       sdkmath.Int `json:"fee"`
	Converted sdkmath.Int `json:"converted"`
	Shares    sdkmath.Int `json:"shares"`
}

// Deposit pulls amount of asset from caller (the vault must hold an
// allowance), takes the deposit fee, converts the rest into the reference
// asset and mints shares to receiver. minOut bounds the converted amount.
func (v *Vault) Deposit(ctx context.Context, caller, asset common.Address, amount sdkmath.Int, receiver common.Address, minOut sdkmath.Int) (DepositResult, error) {
	var res DepositResult
	err := v.run(ctx, "deposit", caller, func(op *operation) error {
		if err := op.requireActive(); err != nil {
			return err
		}
		if amount.IsNil() || !amount.IsPositive() {
			return ErrZeroAmount
		}
		if caller == (common.Address{}) || receiver == (common.Address{}) {
			return ErrZeroAddress
		}
		if !v.supports(asset) {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
		}
		if err := op.accrue(); err != nil {
			return err
		}

		before := op.tx.BalanceOf(asset, v.address)
		if err := op.tx.TransferFrom(asset, v.address, caller, v.address, amount); err != nil {
			return wrap(ErrPullFailed, err)
		}
		received := op.tx.BalanceOf(asset, v.address).Sub(before)
		if !received.IsPositive() {
			return fmt.Errorf("%w: nothing received", ErrZeroAmount)
		}

		fee := bps(received, op.state.Fees.DepositFeeBps)
		if fee.IsPositive() {
			if err := op.tx.Transfer(asset, v.address, op.state.Fees.Recipient, fee); err != nil {
				return wrap(ErrPayoutFailed, err)
			}
		}
		net := received.Sub(fee)
		if !net.IsPositive() {
			return fmt.Errorf("%w: nothing left after fee", ErrZeroAmount)
		}

		converted := net
		if asset != v.reference {
			out, err := op.gateway().Convert(ctx, op.tx, asset, v.reference, net, minOut, "")
			if err != nil {
				return err
			}
			converted = out
		} else if !minOut.IsNil() && converted.LT(minOut) {
			return fmt.Errorf("%w: received %s, minimum %s", ErrOutputBelowMinimum, converted, minOut)
		}

		shares := op.totals().SharesForDeposit(converted)
		if !shares.IsPositive() {
			return ErrZeroShares
		}
		if err := op.tx.Mint(v.shares, v.address, receiver, shares); err != nil {
			return wrap(ErrShareLedger, err)
		}

		res = DepositResult{Received: received, Fee: fee, Converted: converted, Shares: shares}
		op.emit(EventDeposited, map[string]string{
			"caller":    caller.Hex(),
			"receiver":  receiver.Hex(),
			"asset":     asset.Hex(),
			"received":  received.String(),
			"fee":       fee.String(),
			"converted": converted.String(),
			"shares":    shares.String(),
		})
		return nil
	})
	return res, err
}

// RequestWithdrawal burns shares now, reserves their reference value and
// opens a request that can be completed once the timelock has passed.
func (v *Vault) RequestWithdrawal(ctx context.Context, caller common.Address, shares sdkmath.Int, target common.Address, minOut sdkmath.Int) (WithdrawalRequest, error) {
	var req WithdrawalRequest
	err := v.run(ctx, "request_withdrawal", caller, func(op *operation) error {
		if err := op.requireActive(); err != nil {
			return err
		}
		if shares.IsNil() || !shares.IsPositive() {
			return ErrZeroAmount
		}
		if caller == (common.Address{}) {
			return ErrZeroAddress
		}
		if !v.supports(target) {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, target.Hex())
		}
		if minOut.IsNil() || minOut.IsNegative() {
			minOut = sdkmath.ZeroInt()
		}
		if err := op.accrue(); err != nil {
			return err
		}

		owed := op.totals().ConvertToAssets(shares)
		if !owed.IsPositive() {
			return ErrZeroAssets
		}
		r, err := op.createRequest(shares, owed, target, minOut)
		if err != nil {
			return err
		}
		req = r
		op.emit(EventWithdrawalRequested, map[string]string{
			"request_id": fmt.Sprint(r.ID),
			"owner":      caller.Hex(),
			"shares":     shares.String(),
			"reserved":   owed.String(),
			"target":     target.Hex(),
			"unlocks_at": r.CreatedAt.Add(op.state.Timelock).UTC().Format(time.RFC3339),
		})
		return nil
	})
	return req, err
}

// CompleteWithdrawal pays out a pending request after its timelock. The
// withdrawal fee is taken in the reference asset before any conversion.
func (v *Vault) CompleteWithdrawal(ctx context.Context, caller common.Address, id uint64) (Payout, error) {
	var payout Payout
	err := v.run(ctx, "complete_withdrawal", caller, func(op *operation) error {
		r, err := op.pendingRequest(id)
		if err != nil {
			return err
		}
		if err := op.requireActive(); err != nil {
			return err
		}
		if op.now.Before(r.CreatedAt.Add(op.state.Timelock)) {
			return fmt.Errorf("%w: request %d unlocks at %s", ErrTimelockActive, id, r.CreatedAt.Add(op.state.Timelock).UTC().Format(time.RFC3339))
		}
		if err := op.accrue(); err != nil {
			return err
		}
		if err := op.finalize(&r, StatusCompleted); err != nil {
			return err
		}

		fee := bps(r.Reserved, op.state.Fees.WithdrawalFeeBps)
		if fee.IsPositive() {
			if err := op.tx.Transfer(v.reference, v.address, op.state.Fees.Recipient, fee); err != nil {
				return wrap(ErrPayoutFailed, err)
			}
		}
		net := r.Reserved.Sub(fee)

		paid, err := op.pay(r.Owner, r.TargetAsset, net, r.MinOut)
		if err != nil {
			return err
		}
		r.FeeAmount = fee
		r.PaidAmount = paid
		op.putRequest(r)

		payout = Payout{RequestID: id, Owner: r.Owner, TargetAsset: r.TargetAsset, Gross: r.Reserved, Fee: fee, Paid: paid}
		op.emit(EventWithdrawalCompleted, map[string]string{
			"request_id": fmt.Sprint(id),
			"owner":      r.Owner.Hex(),
			"target":     r.TargetAsset.Hex(),
			"gross":      r.Reserved.String(),
			"fee":        fee.String(),
			"paid":       paid.String(),
		})
		return nil
	})
	return payout, err
}

// pay sends amount of the reference asset to owner, converting into target
// first when target differs. It returns the owner's measured receipt.
func (op *operation) pay(owner, target common.Address, amount, minOut sdkmath.Int) (sdkmath.Int, error) {
	if !amount.IsPositive() {
		if minOut.IsPositive() {
			return sdkmath.Int{}, fmt.Errorf("%w: nothing to pay, minimum %s", ErrOutputBelowMinimum, minOut)
		}
		return sdkmath.ZeroInt(), nil
	}
	out := amount
	if target != op.v.reference {
		converted, err := op.gateway().Convert(op.ctx, op.tx, op.v.reference, target, amount, minOut, "")
		if err != nil {
			return sdkmath.Int{}, err
		}
		out = converted
	} else if amount.LT(minOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: payout %s, minimum %s", ErrOutputBelowMinimum, amount, minOut)
	}
	before := op.tx.BalanceOf(target, owner)
	if err := op.tx.Transfer(target, op.v.address, owner, out); err != nil {
		return sdkmath.Int{}, wrap(ErrPayoutFailed, err)
	}
	return op.tx.BalanceOf(target, owner).Sub(before), nil
}

// CancelWithdrawal releases a pending request's reserve and re-mints the
// share amount originally burned, regardless of the current price.
func (v *Vault) CancelWithdrawal(ctx context.Context, caller common.Address, id uint64) (WithdrawalRequest, error) {
	var req WithdrawalRequest
	err := v.run(ctx, "cancel_withdrawal", caller, func(op *operation) error {
		r, err := op.pendingRequest(id)
		if err != nil {
			return err
		}
		if err := op.accrue(); err != nil {
			return err
		}
		if err := op.finalize(&r, StatusCancelled); err != nil {
			return err
		}
		if err := op.tx.Mint(v.shares, v.address, r.Owner, r.Shares); err != nil {
			return wrap(ErrShareLedger, err)
		}
		req = r
		op.emit(EventWithdrawalCancelled, map[string]string{
			"request_id": fmt.Sprint(id),
			"owner":      r.Owner.Hex(),
			"shares":     r.Shares.String(),
			"released":   r.Reserved.String(),
		})
		return nil
	})
	return req, err
}

// EmergencyWithdraw is only open while the vault is halted. It skips the
// timelock and conversion and pays the pro-rata reference amount.
func (v *Vault) EmergencyWithdraw(ctx context.Context, caller common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	var paid sdkmath.Int
	err := v.run(ctx, "emergency_withdraw", caller, func(op *operation) error {
		if !op.state.Halted {
			return ErrNotHalted
		}
		if shares.IsNil() || !shares.IsPositive() {
			return ErrZeroAmount
		}
		if caller == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := op.accrue(); err != nil {
			return err
		}
		owed := op.totals().ConvertToAssets(shares)
		if !owed.IsPositive() {
			return ErrZeroAssets
		}
		if err := op.tx.Burn(v.shares, v.address, caller, shares); err != nil {
			return wrap(ErrShareLedger, err)
		}
		if err := op.tx.Transfer(v.reference, v.address, caller, owed); err != nil {
			return wrap(ErrPayoutFailed, err)
		}
		paid = owed
		op.emit(EventEmergencyWithdrawn, map[string]string{
			"owner":  caller.Hex(),
			"shares": shares.String(),
			"paid":   owed.String(),
		})
		return nil
	})
	return paid, err
}

// Summary reads committed totals.
func (v *Vault) Summary() (Summary, error) {
	var s Summary
	err := v.host.View(func(r ledger.Reader) error {
		s = v.summarize(r, v.state)
		return nil
	})
	return s, err
}

func (v *Vault) summarize(r ledger.Reader, st State) Summary {
	supply := r.TotalSupply(v.shares)
	custody := r.BalanceOf(v.reference, v.address)
	available := custody.Sub(st.PendingReserve)
	if available.IsNegative() {
		available = sdkmath.ZeroInt()
	}
	totals := Totals{Supply: supply, Available: available}
	return Summary{
		Address:         v.address,
		ReferenceAsset:  v.reference,
		ShareAsset:      v.shares,
		SupportedAssets: v.SupportedAssets(),
		TotalSupply:     supply,
		Custody:         custody,
		PendingReserve:  st.PendingReserve,
		Available:       available,
		PricePerShare:   totals.PricePerShare(),
		Halted:          st.Halted,
		Fees:            st.Fees,
		Timelock:        st.Timelock,
		Adapter:         st.Adapter,
		NextRequestID:   st.NextRequestID,
		Idle:            st.Idle,
		LastIdleRun:     st.LastIdleConversion,
	}
}

// Request returns a withdrawal request by id.
func (v *Vault) Request(id uint64) (WithdrawalRequest, error) {
	var out WithdrawalRequest
	err := v.host.View(func(ledger.Reader) error {
		r, ok := v.requests[id]
		if !ok {
			return fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
		}
		out = r
		return nil
	})
	return out, err
}

// SharesOf returns holder's committed share balance.
func (v *Vault) SharesOf(holder common.Address) (sdkmath.Int, error) {
	var out sdkmath.Int
	err := v.host.View(func(r ledger.Reader) error {
		out = r.BalanceOf(v.shares, holder)
		return nil
	})
	return out, err
}

// State returns a copy of the committed bookkeeping.
func (v *Vault) State() (State, error) {
	var out State
	err := v.host.View(func(ledger.Reader) error {
		out = v.state.clone()
		return nil
	})
	return out, err
}

// HasCapability reports whether who holds c.
func (v *Vault) HasCapability(c Capability, who common.Address) bool {
	var ok bool
	_ = v.host.View(func(ledger.Reader) error {
		ok = v.state.Permissions.Has(c, who)
		return nil
	})
	return ok
}
