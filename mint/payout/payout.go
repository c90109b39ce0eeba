// Package payout defines the payout executor collaborator: an
// external service that moves funds out to a redeeming wallet's
// target address. Grounded on the teacher's mint/lightning.Client
// boundary (SendPayment), retyped from a Lightning payment to a
// generic on-chain transfer with a three-way settlement outcome.
package payout

import "context"

// Status is the settlement outcome of a Send call.
type Status int

const (
	Confirmed Status = iota
	Failed
	Uncertain
)

func (s Status) String() string {
	switch s {
	case Confirmed:
		return "CONFIRMED"
	case Failed:
		return "FAILED"
	case Uncertain:
		return "UNCERTAIN"
	default:
		return "unknown"
	}
}

// Outcome reports how a Send attempt settled. TxID is set only when
// Status == Confirmed; Reason is set only when Status == Failed.
type Outcome struct {
	Status Status
	TxID   string
	Reason string
}

// Executor is consumed by the mint's melt-quote state machine. The
// idempotency token is the melt quote id: a retried Send for the same
// token and target must not double-pay.
type Executor interface {
	Send(ctx context.Context, target string, amount uint64, idempotencyToken string) (Outcome, error)
}
