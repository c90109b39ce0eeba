// Package chain defines the boundary between the mint and the
// on-chain watcher: an external process that observes confirmed
// deposits and reports them back to the mint keyed by the reference
// memo a mint quote was created with. Unlike the teacher's
// mint/lightning.Client (which the mint calls into), deposit
// notification is watcher-initiated: the watcher calls the mint.
package chain

import "context"

// DepositNotifier is implemented by the mint's quote orchestrator and
// called by the external watcher. At-least-once delivery is expected:
// NotifyDeposit must be safe to call more than once for the same
// (reference, txID) — a repeat notification for an already-PAID quote
// is a no-op, not an error.
type DepositNotifier interface {
	NotifyDeposit(ctx context.Context, reference string, amount uint64, txID string) error
}
