package vault

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// RequestStatus is the lifecycle state of a withdrawal request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// WithdrawalRequest is created by RequestWithdrawal and leaves Pending
// exactly once. Requests are never deleted.
type WithdrawalRequest struct {
	ID          uint64         `json:"id"`
	Owner       common.Address `json:"owner"`
	Shares      sdkmath.Int    `json:"shares_burned"`
	Reserved    sdkmath.Int    `json:"reserved_amount"`
	TargetAsset common.Address `json:"target_asset"`
	MinOut      sdkmath.Int    `json:"min_out"`
	CreatedAt   time.Time      `json:"created_at"`
	Status      RequestStatus  `json:"status"`
	FinalizedAt time.Time      `json:"finalized_at,omitempty"`
	FeeAmount   sdkmath.Int    `json:"fee_amount"`
	PaidAmount  sdkmath.Int    `json:"paid_amount"`
}

// Payout reports what a completed withdrawal paid.
type Payout struct {
	RequestID   uint64         `json:"request_id"`
	Owner       common.Address `json:"owner"`
	TargetAsset common.Address `json:"target_asset"`
	Gross       sdkmath.Int    `json:"gross"`
	Fee         sdkmath.Int    `json:"fee"`
	Paid        sdkmath.Int    `json:"paid"`
}

func (op *operation) request(id uint64) (WithdrawalRequest, error) {
	if r, ok := op.requests[id]; ok {
		return r, nil
	}
	r, ok := op.v.requests[id]
	if !ok {
		return WithdrawalRequest{}, fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	return r, nil
}

func (op *operation) putRequest(r WithdrawalRequest) {
	op.requests[r.ID] = r
}

// pendingRequest loads id and checks ownership before status, so a
// stranger never learns whether a request is still open.
func (op *operation) pendingRequest(id uint64) (WithdrawalRequest, error) {
	r, err := op.request(id)
	if err != nil {
		return WithdrawalRequest{}, err
	}
	if r.Owner != op.caller {
		return WithdrawalRequest{}, fmt.Errorf("%w: request %d", ErrNotRequestOwner, id)
	}
	if r.Status != StatusPending {
		return WithdrawalRequest{}, fmt.Errorf("%w: request %d is %s", ErrRequestFinalized, id, r.Status)
	}
	return r, nil
}

// createRequest burns shares, reserves owed and stores a new request.
func (op *operation) createRequest(shares, owed sdkmath.Int, target common.Address, minOut sdkmath.Int) (WithdrawalRequest, error) {
	if err := op.tx.Burn(op.v.shares, op.v.address, op.caller, shares); err != nil {
		return WithdrawalRequest{}, wrap(ErrShareLedger, err)
	}
	op.state.PendingReserve = op.state.PendingReserve.Add(owed)

	id := op.state.NextRequestID
	op.state.NextRequestID++
	r := WithdrawalRequest{
		ID:          id,
		Owner:       op.caller,
		Shares:      shares,
		Reserved:    owed,
		TargetAsset: target,
		MinOut:      minOut,
		CreatedAt:   op.now,
		Status:      StatusPending,
		FeeAmount:   sdkmath.ZeroInt(),
		PaidAmount:  sdkmath.ZeroInt(),
	}
	op.putRequest(r)
	return r, nil
}

// finalize moves r out of Pending and releases its reserve.
func (op *operation) finalize(r *WithdrawalRequest, status RequestStatus) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: request %d is %s", ErrRequestFinalized, r.ID, r.Status)
	}
	if op.state.PendingReserve.LT(r.Reserved) {
		return fmt.Errorf("%w: reserve %s below request %d amount %s", ErrStateConflict, op.state.PendingReserve, r.ID, r.Reserved)
	}
	r.Status = status
	r.FinalizedAt = op.now
	op.state.PendingReserve = op.state.PendingReserve.Sub(r.Reserved)
	op.putRequest(*r)
	return nil
}
