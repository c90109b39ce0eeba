package chain

import (
	"context"
	"sync"
)

// FakeWatcher is a test double standing in for the external on-chain
// watcher process. Tests call Observe to simulate a confirmed
// deposit arriving, which forwards to the configured DepositNotifier
// (normally a *mint.Mint) exactly as a real watcher would. Grounded
// on the teacher's lightning.FakeBackend test-double pattern.
type FakeWatcher struct {
	mu       sync.Mutex
	notifier DepositNotifier
	observed []ObservedDeposit
}

type ObservedDeposit struct {
	Reference string
	Amount    uint64
	TxID      string
	Err       error
}

func NewFakeWatcher(notifier DepositNotifier) *FakeWatcher {
	return &FakeWatcher{notifier: notifier}
}

// Observe simulates the watcher seeing a confirmed deposit on-chain
// and relays it to the mint via NotifyDeposit.
func (w *FakeWatcher) Observe(ctx context.Context, reference string, amount uint64, txID string) error {
	err := w.notifier.NotifyDeposit(ctx, reference, amount, txID)

	w.mu.Lock()
	w.observed = append(w.observed, ObservedDeposit{Reference: reference, Amount: amount, TxID: txID, Err: err})
	w.mu.Unlock()

	return err
}

// History returns every deposit this fake watcher has relayed, in
// call order, for test assertions.
func (w *FakeWatcher) History() []ObservedDeposit {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ObservedDeposit, len(w.observed))
	copy(out, w.observed)
	return out
}
