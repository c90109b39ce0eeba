package mint

import (
	"context"
	"testing"

	"github.com/rnambaale/monexo-ecash/mint/payout"
	"github.com/rnambaale/monexo-ecash/mint/storage"
	"github.com/rnambaale/monexo-ecash/mint/storage/memory"
	"github.com/rnambaale/monexo-ecash/token"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		MintPath: t.TempDir(),
		Unit:     "usdc",
		MaxOrder: 8,
		LogLevel: Disable,
	}
}

func newTestMint(t *testing.T) (*Mint, *payout.FakeExecutor) {
	t.Helper()

	db := memory.New()
	executor := payout.NewFakeExecutor()

	m, err := LoadMint(testConfig(t), db, executor)
	if err != nil {
		t.Fatalf("LoadMint: %v", err)
	}
	return m, executor
}

func TestLoadMintBootstrapsActiveKeyset(t *testing.T) {
	m, _ := newTestMint(t)

	ks, err := m.ActiveFor("usdc")
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}
	if !ks.Active {
		t.Fatal("expected bootstrapped keyset to be active")
	}
	if len(ks.Keys) != 8 {
		t.Fatalf("expected 8 denominations, got %d", len(ks.Keys))
	}
}

func TestRotateDeactivatesPreviousKeyset(t *testing.T) {
	m, _ := newTestMint(t)

	first, _ := m.ActiveFor("usdc")
	second, err := m.Rotate("usdc")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if second.Id == first.Id {
		t.Fatal("expected a new keyset id after rotation")
	}
	if second.DerivationPathIdx != first.DerivationPathIdx+1 {
		t.Fatalf("expected derivation index to advance, got %d -> %d", first.DerivationPathIdx, second.DerivationPathIdx)
	}

	reloaded, err := m.GetKeyset(first.Id)
	if err != nil {
		t.Fatalf("GetKeyset(first): %v", err)
	}
	if reloaded.Active {
		t.Fatal("expected the old active keyset to be deactivated after rotation")
	}

	active, err := m.ActiveFor("usdc")
	if err != nil {
		t.Fatalf("ActiveFor after rotation: %v", err)
	}
	if active.Id != second.Id {
		t.Fatal("expected the rotated keyset to be the new active one")
	}
}

func TestCreateMintQuoteThenNotifyDepositIssues(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	quote, err := m.CreateMintQuote("usdc", 5)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}
	if quote.State != storage.MintQuoteUnpaid {
		t.Fatalf("expected fresh quote to be UNPAID, got %s", quote.State)
	}

	if err := m.NotifyDeposit(ctx, quote.Reference, 5, "0xdeadbeef"); err != nil {
		t.Fatalf("NotifyDeposit: %v", err)
	}

	paid, err := m.GetMintQuoteState(quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuoteState: %v", err)
	}
	if paid.State != storage.MintQuotePaid {
		t.Fatalf("expected PAID after deposit, got %s", paid.State)
	}

	ks, _ := m.ActiveFor("usdc")
	bms, _, _ := blindAmounts(t, ks.Id, []uint64{4, 1})

	sigs, err := m.Issue(quote.Id, bms)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}

	issued, err := m.GetMintQuoteState(quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuoteState: %v", err)
	}
	if issued.State != storage.MintQuoteIssued {
		t.Fatalf("expected ISSUED after issue, got %s", issued.State)
	}

	replay, err := m.Issue(quote.Id, bms)
	if err != nil {
		t.Fatalf("replayed Issue: %v", err)
	}
	if len(replay) != len(sigs) || replay[0].C_ != sigs[0].C_ {
		t.Fatal("expected replayed issue to return identical signatures")
	}
}

func TestNotifyDepositRejectsUnderpayment(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	quote, err := m.CreateMintQuote("usdc", 10)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}

	err = m.NotifyDeposit(ctx, quote.Reference, 5, "0xshort")
	if err == nil {
		t.Fatal("expected an error for an underpaid deposit")
	}

	state, _ := m.GetMintQuoteState(quote.Id)
	if state.State != storage.MintQuoteUnpaid {
		t.Fatalf("expected quote to remain UNPAID after underpayment, got %s", state.State)
	}
}

func TestNotifyDepositUnknownReference(t *testing.T) {
	m, _ := newTestMint(t)
	err := m.NotifyDeposit(context.Background(), "does-not-exist", 1, "0xabc")
	if err == nil {
		t.Fatal("expected an error for an unknown reference")
	}
}

func TestIssueRejectsAmountMismatch(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	quote, _ := m.CreateMintQuote("usdc", 5)
	_ = m.NotifyDeposit(ctx, quote.Reference, 5, "0xtx")

	ks, _ := m.ActiveFor("usdc")
	bms, _, _ := blindAmounts(t, ks.Id, []uint64{1, 1})

	if _, err := m.Issue(quote.Id, bms); err == nil {
		t.Fatal("expected amount mismatch error")
	}
}

func TestMeltHappyPath(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, 10)

	melt, err := m.CreateMeltQuote("usdc", "payout-target", 10)
	if err != nil {
		t.Fatalf("CreateMeltQuote: %v", err)
	}

	settled, err := m.Melt(ctx, melt.Id, proofs)
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if settled.State != storage.MeltQuotePaid {
		t.Fatalf("expected PAID after a confirmed payout, got %s", settled.State)
	}
	if settled.TxReference == "" {
		t.Fatal("expected a tx reference on a confirmed melt")
	}
}

func TestMeltDoubleSpendRejected(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, 10)

	meltA, _ := m.CreateMeltQuote("usdc", "payout-target", 10)
	meltB, _ := m.CreateMeltQuote("usdc", "payout-target", 10)

	if _, err := m.Melt(ctx, meltA.Id, proofs); err != nil {
		t.Fatalf("first Melt: %v", err)
	}

	if _, err := m.Melt(ctx, meltB.Id, proofs); err == nil {
		t.Fatal("expected the second melt of the same proofs to fail with a double-spend error")
	}
}

func TestMeltFailedPayoutReleasesProofs(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, 10)
	melt, _ := m.CreateMeltQuote("usdc", payout.FailTarget, 10)

	failed, err := m.Melt(ctx, melt.Id, proofs)
	if err == nil {
		t.Fatal("expected an error for a failed payout")
	}
	if failed.State != storage.MeltQuoteFailed {
		t.Fatalf("expected FAILED after a failed payout, got %s", failed.State)
	}

	retryQuote, _ := m.CreateMeltQuote("usdc", "payout-target", 10)
	if _, err := m.Melt(ctx, retryQuote.Id, proofs); err != nil {
		t.Fatalf("expected released proofs to be spendable again, got: %v", err)
	}
}

func TestMeltUncertainPayoutLeavesQuotePending(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, 10)
	melt, _ := m.CreateMeltQuote("usdc", payout.UncertainTarget, 10)

	pending, err := m.Melt(ctx, melt.Id, proofs)
	if err == nil {
		t.Fatal("expected an error surfacing the uncertain outcome")
	}
	if pending.State != storage.MeltQuotePending {
		t.Fatalf("expected quote to remain PENDING on an uncertain payout, got %s", pending.State)
	}

	// a second melt attempt against the same quote should be rejected,
	// not silently retried, while the outcome is still unresolved.
	if _, err := m.Melt(ctx, melt.Id, proofs); err == nil {
		t.Fatal("expected melting an already-pending quote to fail")
	}
}

func TestMeltRejectsAmountMismatch(t *testing.T) {
	m, _ := newTestMint(t)
	ctx := context.Background()

	proofs := mintProofs(t, m, 10)
	melt, _ := m.CreateMeltQuote("usdc", "payout-target", 50)

	if _, err := m.Melt(ctx, melt.Id, proofs); err == nil {
		t.Fatal("expected an amount mismatch error")
	}
}

// mintProofs mints a full set of proofs for amount via a mint quote,
// blinding/signing/unblinding roundtrip, used as melt-test fixtures.
func mintProofs(t *testing.T, m *Mint, amount uint64) token.Proofs {
	t.Helper()
	ctx := context.Background()

	quote, err := m.CreateMintQuote("usdc", amount)
	if err != nil {
		t.Fatalf("CreateMintQuote: %v", err)
	}
	if err := m.NotifyDeposit(ctx, quote.Reference, amount, "0xfixture"); err != nil {
		t.Fatalf("NotifyDeposit: %v", err)
	}

	ks, err := m.ActiveFor("usdc")
	if err != nil {
		t.Fatalf("ActiveFor: %v", err)
	}

	denoms := decomposeForTest(amount)
	bms, rs, secrets := blindAmounts(t, ks.Id, denoms)

	sigs, err := m.Issue(quote.Id, bms)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	return unblindAll(t, ks, sigs, rs, secrets)
}
