package mint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	cryptopkg "github.com/rnambaale/monexo-ecash/crypto"
	"github.com/rnambaale/monexo-ecash/ledger"
	"github.com/rnambaale/monexo-ecash/mint/payout"
	"github.com/rnambaale/monexo-ecash/mint/storage"
	"github.com/rnambaale/monexo-ecash/token"
)

// generateReference returns a fresh base58-encoded 32-byte deposit
// reference a wallet gives to its on-chain transfer's memo field.
func generateReference() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base58.Encode(buf), nil
}

// CreateMintQuote opens a deposit-backed mint quote: a fresh UUID and
// deposit reference, persisted UNPAID.
func (m *Mint) CreateMintQuote(unit string, amount uint64) (storage.MintQuote, error) {
	if unit != m.unit {
		return storage.MintQuote{}, buildError(ErrUnknownKeysetId.Detail, ErrUnknownKeysetId.Code)
	}

	reference, err := generateReference()
	if err != nil {
		return storage.MintQuote{}, buildError(ErrCryptoFatal.Detail, ErrCryptoFatal.Code)
	}

	quote := storage.MintQuote{
		Id:        uuid.NewString(),
		Unit:      unit,
		Amount:    amount,
		Reference: reference,
		FeeTotal:  0, // no fee on deposit
		State:     storage.MintQuoteUnpaid,
		Expiry:    time.Now().Add(QuoteExpiry).Unix(),
	}

	if err := m.db.SaveMintQuote(quote); err != nil {
		return storage.MintQuote{}, fmt.Errorf("saving mint quote: %w", err)
	}
	m.logInfof("created mint quote %s for %d %s, reference %s", quote.Id, amount, unit, reference)
	return quote, nil
}

// GetMintQuoteState returns the current persisted state of a mint
// quote, applying lazy expiry.
func (m *Mint) GetMintQuoteState(id string) (storage.MintQuote, error) {
	quote, err := m.db.GetMintQuote(id)
	if err != nil {
		return storage.MintQuote{}, buildError(ErrQuoteNotFound.Detail, ErrQuoteNotFound.Code)
	}
	return m.applyLazyExpiry(quote), nil
}

func (m *Mint) applyLazyExpiry(quote storage.MintQuote) storage.MintQuote {
	if quote.State == storage.MintQuoteIssued || quote.State == storage.MintQuoteExpired {
		return quote
	}
	if time.Now().Unix() > quote.Expiry {
		quote.State = storage.MintQuoteExpired
		_ = m.db.UpdateMintQuoteState(quote.Id, storage.MintQuoteExpired)
	}
	return quote
}

// NotifyDeposit is called by the external on-chain watcher when it
// observes a confirmed deposit. Idempotent: a repeated notification
// for an already-PAID (or later) quote is a no-op.
func (m *Mint) NotifyDeposit(ctx context.Context, reference string, amount uint64, txID string) error {
	quote, err := m.db.GetMintQuoteByReference(reference)
	if err != nil {
		return buildError(ErrUnknownReference.Detail, ErrUnknownReference.Code)
	}

	if quote.State != storage.MintQuoteUnpaid {
		// already PAID/ISSUED/EXPIRED: treat as a no-op duplicate delivery.
		return nil
	}

	if amount < quote.Amount {
		m.logInfof("deposit %d for reference %s is below quote amount %d", amount, reference, quote.Amount)
		return buildError(ErrAmountBelowQuote.Detail, ErrAmountBelowQuote.Code)
	}

	if err := m.db.UpdateMintQuoteState(quote.Id, storage.MintQuotePaid); err != nil {
		return fmt.Errorf("updating mint quote state: %w", err)
	}
	m.logInfof("mint quote %s marked PAID by deposit tx %s", quote.Id, txID)
	return nil
}

// Issue signs blinded messages for a PAID mint quote, transitioning
// it to ISSUED. Resubmitting the same (id, blinded_messages) after
// ISSUED replays the previously issued signatures byte-for-byte.
func (m *Mint) Issue(id string, blindedMessages token.BlindedMessages) (token.BlindedSignatures, error) {
	unlock := m.issueLocks.Lock(id)
	defer unlock()

	quote, err := m.db.GetMintQuote(id)
	if err != nil {
		return nil, buildError(ErrQuoteNotFound.Detail, ErrQuoteNotFound.Code)
	}
	quote = m.applyLazyExpiry(quote)

	switch quote.State {
	case storage.MintQuoteUnpaid:
		return nil, &QuoteWrongStateError{Expected: "PAID", Actual: quote.State.String()}
	case storage.MintQuoteExpired:
		return nil, buildError(ErrQuoteExpired.Detail, ErrQuoteExpired.Code)
	case storage.MintQuoteIssued:
		return m.replayIssuedSignatures(blindedMessages)
	}

	amounts := make([]uint64, len(blindedMessages))
	for i, bm := range blindedMessages {
		amounts[i] = bm.Amount
	}
	if err := ledger.ValidateDecomposition(amounts, quote.Amount, ledger.DefaultDecompositionCap); err != nil {
		return nil, buildError(ErrAmountMismatch.Detail, ErrAmountMismatch.Code)
	}

	sigs, err := m.signBlindedMessages(blindedMessages, id)
	if err != nil {
		return nil, err
	}

	if err := m.db.UpdateMintQuoteState(quote.Id, storage.MintQuoteIssued); err != nil {
		return nil, fmt.Errorf("updating mint quote state: %w", err)
	}
	m.logInfof("issued %d signatures for mint quote %s", len(sigs), quote.Id)
	return sigs, nil
}

func (m *Mint) replayIssuedSignatures(blindedMessages token.BlindedMessages) (token.BlindedSignatures, error) {
	B_s := make([]string, len(blindedMessages))
	for i, bm := range blindedMessages {
		B_s[i] = bm.B_
	}
	sigs, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		return nil, fmt.Errorf("replaying issued signatures: %w", err)
	}
	return sigs, nil
}

func (m *Mint) signBlindedMessages(blindedMessages token.BlindedMessages, quoteId string) (token.BlindedSignatures, error) {
	sigs := make(token.BlindedSignatures, len(blindedMessages))
	B_s := make([]string, len(blindedMessages))

	for i, bm := range blindedMessages {
		ks, err := m.keysets.GetKeyset(bm.Id)
		if err != nil {
			return nil, buildError(ErrUnknownKeysetId.Detail, ErrUnknownKeysetId.Code)
		}
		kp, ok := ks.Keys[bm.Amount]
		if !ok {
			return nil, buildError(ErrAmountMismatch.Detail, ErrAmountMismatch.Code)
		}

		B_bytes, err := hex.DecodeString(bm.B_)
		if err != nil {
			return nil, buildError(fmt.Sprintf("invalid B_: %v", err), StandardErrCode)
		}
		B_, err := btcec.ParsePubKey(B_bytes)
		if err != nil {
			return nil, buildError(ErrCryptoFatal.Detail, ErrCryptoFatal.Code)
		}

		C_ := cryptopkg.SignBlindedMessage(kp.PrivateKey, B_)
		e, s, err := cryptopkg.ProveDLEQ(kp.PrivateKey, B_, C_)
		if err != nil {
			return nil, buildError(ErrCryptoFatal.Detail, ErrCryptoFatal.Code)
		}

		sigs[i] = token.BlindedSignature{
			Amount:  bm.Amount,
			Id:      ks.Id,
			C_:      hex.EncodeToString(C_.SerializeCompressed()),
			QuoteId: quoteId,
			DLEQ: &token.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}
		B_s[i] = bm.B_
	}

	if err := m.db.SaveBlindSignatures(B_s, sigs); err != nil {
		return nil, fmt.Errorf("saving blind signatures: %w", err)
	}
	return sigs, nil
}

// CreateMeltQuote opens a redemption-backed melt quote for a payout
// target and amount. fee_total here is a single-input reserve estimate
// quoted up front, since the wallet hasn't chosen its input proofs yet;
// Melt recomputes the actual required fee from the proofs the wallet
// submits and enforces that figure, not this estimate.
func (m *Mint) CreateMeltQuote(unit, payoutTarget string, amount uint64) (storage.MeltQuote, error) {
	ks, err := m.ActiveFor(unit)
	if err != nil {
		return storage.MeltQuote{}, err
	}

	feeTotal := ledger.Fee(1, ks.InputFeePpk)

	quote := storage.MeltQuote{
		Id:           uuid.NewString(),
		Unit:         unit,
		Amount:       amount,
		FeeTotal:     feeTotal,
		PayoutTarget: payoutTarget,
		State:        storage.MeltQuoteUnpaid,
		Expiry:       time.Now().Add(QuoteExpiry).Unix(),
	}

	if err := m.db.SaveMeltQuote(quote); err != nil {
		return storage.MeltQuote{}, fmt.Errorf("saving melt quote: %w", err)
	}
	m.logInfof("created melt quote %s for %d %s to %s", quote.Id, amount, unit, payoutTarget)
	return quote, nil
}

func (m *Mint) GetMeltQuoteState(id string) (storage.MeltQuote, error) {
	quote, err := m.db.GetMeltQuote(id)
	if err != nil {
		return storage.MeltQuote{}, buildError(ErrQuoteNotFound.Detail, ErrQuoteNotFound.Code)
	}
	return m.applyLazyMeltExpiry(quote), nil
}

// applyLazyMeltExpiry mirrors applyLazyExpiry for melt quotes: PENDING
// quotes are left alone (a payout attempt is or was in flight and must
// be resolved by Reconcile, not silently expired out from under it),
// and every other non-terminal state expires once past its deadline.
func (m *Mint) applyLazyMeltExpiry(quote storage.MeltQuote) storage.MeltQuote {
	switch quote.State {
	case storage.MeltQuotePaid, storage.MeltQuoteFailed, storage.MeltQuoteExpired, storage.MeltQuotePending:
		return quote
	}
	if time.Now().Unix() > quote.Expiry {
		quote.State = storage.MeltQuoteExpired
		_ = m.db.UpdateMeltQuoteState(quote.Id, storage.MeltQuoteExpired, "")
	}
	return quote
}

// meltFee recomputes the required input fee from the proofs actually
// submitted to Melt, summing each proof's own keyset's input_fee_ppk
// and ceil-dividing once at the end, the way the teacher's
// TransactionFees does — not the flat single-input estimate quoted at
// CreateMeltQuote time.
func (m *Mint) meltFee(proofs token.Proofs) (uint64, error) {
	var total uint64
	for _, p := range proofs {
		ks, err := m.keysets.GetKeyset(p.Id)
		if err != nil {
			return 0, buildError(ErrUnknownKeysetId.Detail, ErrUnknownKeysetId.Code)
		}
		total += uint64(ks.InputFeePpk)
	}
	return (total + 999) / 1000, nil
}

// Melt verifies proofs against a melt quote, reserves them, calls the
// external payout executor, and settles or releases the reservation
// based on the outcome, per the melt state machine in §4.5.
func (m *Mint) Melt(ctx context.Context, quoteId string, proofs token.Proofs) (storage.MeltQuote, error) {
	quote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, buildError(ErrQuoteNotFound.Detail, ErrQuoteNotFound.Code)
	}
	quote = m.applyLazyMeltExpiry(quote)

	switch quote.State {
	case storage.MeltQuoteExpired:
		return storage.MeltQuote{}, buildError(ErrQuoteExpired.Detail, ErrQuoteExpired.Code)
	case storage.MeltQuoteUnpaid:
		// proceed
	default:
		return storage.MeltQuote{}, &QuoteWrongStateError{Expected: "UNPAID", Actual: quote.State.String()}
	}

	fee, err := m.meltFee(proofs)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	if proofs.Amount() != quote.Amount+fee {
		return storage.MeltQuote{}, buildError(ErrAmountMismatch.Detail, ErrAmountMismatch.Code)
	}

	if err := m.verifyProofs(proofs); err != nil {
		return storage.MeltQuote{}, err
	}

	if err := m.db.AddPendingProofs(proofs, quote.Id); err != nil {
		if dse, ok := err.(*storage.DoubleSpendError); ok {
			return storage.MeltQuote{}, &DoubleSpendError{Secret: dse.Secret}
		}
		return storage.MeltQuote{}, fmt.Errorf("reserving proofs: %w", err)
	}

	if err := m.db.UpdateMeltQuoteState(quote.Id, storage.MeltQuotePending, ""); err != nil {
		return storage.MeltQuote{}, fmt.Errorf("updating melt quote state: %w", err)
	}
	quote.State = storage.MeltQuotePending

	secrets := secretsOf(proofs)

	outcome, err := m.payoutExecutor.Send(ctx, quote.PayoutTarget, quote.Amount, quote.Id)
	if err != nil {
		m.logErrorf("payout executor error for melt quote %s: %v", quote.Id, err)
		return quote, buildError(ErrPayoutUncertain.Detail, ErrPayoutUncertain.Code)
	}

	switch outcome.Status {
	case payout.Confirmed:
		if err := m.settleProofs(secrets, proofs); err != nil {
			return storage.MeltQuote{}, err
		}
		if err := m.db.UpdateMeltQuoteState(quote.Id, storage.MeltQuotePaid, outcome.TxID); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("updating melt quote state: %w", err)
		}
		quote.State = storage.MeltQuotePaid
		quote.TxReference = outcome.TxID
		m.logInfof("melt quote %s settled, tx %s", quote.Id, outcome.TxID)
		return quote, nil

	case payout.Failed:
		if err := m.db.RemovePendingProofs(secrets); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("releasing pending proofs: %w", err)
		}
		if err := m.db.UpdateMeltQuoteState(quote.Id, storage.MeltQuoteFailed, ""); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("updating melt quote state: %w", err)
		}
		quote.State = storage.MeltQuoteFailed
		m.logInfof("melt quote %s payout failed: %s", quote.Id, outcome.Reason)
		return quote, buildError(ErrPayoutFailed.Detail, ErrPayoutFailed.Code)

	default: // payout.Uncertain
		m.logInfof("melt quote %s payout outcome uncertain, leaving PENDING", quote.Id)
		return quote, buildError(ErrPayoutUncertain.Detail, ErrPayoutUncertain.Code)
	}
}

// Reconcile resolves a PENDING melt quote left uncertain by a prior
// payout attempt: it re-polls the executor (here, re-invokes Send
// with the same idempotency token, which the executor must treat as
// a status check rather than a new transfer) and applies whichever
// terminal outcome is now known.
func (m *Mint) Reconcile(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	quote, err := m.db.GetMeltQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, buildError(ErrQuoteNotFound.Detail, ErrQuoteNotFound.Code)
	}
	if quote.State != storage.MeltQuotePending {
		return quote, nil
	}

	proofs, err := m.pendingProofsForQuote(quoteId)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	secrets := secretsOf(proofs)

	outcome, err := m.payoutExecutor.Send(ctx, quote.PayoutTarget, quote.Amount, quote.Id)
	if err != nil {
		return quote, buildError(ErrPayoutUncertain.Detail, ErrPayoutUncertain.Code)
	}

	switch outcome.Status {
	case payout.Confirmed:
		if err := m.settleProofs(secrets, proofs); err != nil {
			return storage.MeltQuote{}, err
		}
		if err := m.db.UpdateMeltQuoteState(quote.Id, storage.MeltQuotePaid, outcome.TxID); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("updating melt quote state: %w", err)
		}
		quote.State = storage.MeltQuotePaid
		quote.TxReference = outcome.TxID
		return quote, nil
	case payout.Failed:
		if err := m.db.RemovePendingProofs(secrets); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("releasing pending proofs: %w", err)
		}
		if err := m.db.UpdateMeltQuoteState(quote.Id, storage.MeltQuoteFailed, ""); err != nil {
			return storage.MeltQuote{}, fmt.Errorf("updating melt quote state: %w", err)
		}
		quote.State = storage.MeltQuoteFailed
		return quote, nil
	default:
		return quote, nil
	}
}

func (m *Mint) pendingProofsForQuote(quoteId string) (token.Proofs, error) {
	dbProofs, err := m.db.GetPendingProofsByQuote(quoteId)
	if err != nil {
		return nil, fmt.Errorf("reading pending proofs: %w", err)
	}
	proofs := make(token.Proofs, len(dbProofs))
	for i, p := range dbProofs {
		proofs[i] = token.Proof{Amount: p.Amount, Id: p.Id, Secret: p.Secret, C: p.C}
	}
	return proofs, nil
}

func (m *Mint) settleProofs(secrets []string, proofs token.Proofs) error {
	if err := m.db.RemovePendingProofs(secrets); err != nil {
		return fmt.Errorf("removing pending proofs: %w", err)
	}
	if err := m.db.SaveProofs(proofs); err != nil {
		return fmt.Errorf("committing spent proofs: %w", err)
	}
	return nil
}

func secretsOf(proofs token.Proofs) []string {
	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}
	return secrets
}

// verifyProofs checks, for each proof: no duplicates in the input
// set, the keyset/amount resolve to a known key, and the BDHKE
// signature verifies. It does not check the spent-set — that is
// handled atomically by AddPendingProofs's reservation.
func (m *Mint) verifyProofs(proofs token.Proofs) error {
	if len(proofs) == 0 {
		return buildError(ErrInvalidProof.Detail, ErrInvalidProof.Code)
	}
	if token.CheckDuplicateProofs(proofs) {
		return buildError(ErrInvalidProof.Detail, ErrInvalidProof.Code)
	}

	for _, proof := range proofs {
		ks, err := m.keysets.GetKeyset(proof.Id)
		if err != nil {
			return buildError(ErrUnknownKeysetId.Detail, ErrUnknownKeysetId.Code)
		}
		kp, ok := ks.Keys[proof.Amount]
		if !ok {
			return buildError(ErrInvalidProof.Detail, ErrInvalidProof.Code)
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return buildError(ErrInvalidProof.Detail, ErrInvalidProof.Code)
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return buildError(ErrInvalidProof.Detail, ErrInvalidProof.Code)
		}

		if !cryptopkg.Verify([]byte(proof.Secret), kp.PrivateKey, C) {
			return buildError(ErrInvalidProof.Detail, ErrInvalidProof.Code)
		}
	}
	return nil
}

// CheckProofStates reports, for each requested secret, whether it is
// already spent (ProofSpent) or not (ProofUnspent). Secrets reserved by
// a pending melt are reported as ProofUnspent; ProofPending is never
// returned.
func (m *Mint) CheckProofStates(secrets []string) (map[string]storage.ProofState, error) {
	used, err := m.db.GetProofsUsed(secrets)
	if err != nil {
		return nil, fmt.Errorf("reading used proofs: %w", err)
	}
	usedSet := make(map[string]bool, len(used))
	for _, p := range used {
		usedSet[p.Secret] = true
	}

	states := make(map[string]storage.ProofState, len(secrets))
	for _, secret := range secrets {
		if usedSet[secret] {
			states[secret] = storage.ProofSpent
		} else {
			states[secret] = storage.ProofUnspent
		}
	}
	return states, nil
}

// SweepExpiredQuotes walks every non-terminal mint and melt quote and
// applies lazy expiry to each, so a quote nobody ever polls again still
// gets marked EXPIRED instead of sitting UNPAID forever. Safe to call
// concurrently with normal request traffic: each quote's expiry check
// goes through the same applyLazyExpiry/applyLazyMeltExpiry path a
// regular access would.
func (m *Mint) SweepExpiredQuotes() {
	mintQuotes, err := m.db.GetOpenMintQuotes()
	if err != nil {
		m.logErrorf("sweep: reading open mint quotes: %v", err)
	} else {
		for _, q := range mintQuotes {
			m.applyLazyExpiry(q)
		}
	}

	meltQuotes, err := m.db.GetOpenMeltQuotes()
	if err != nil {
		m.logErrorf("sweep: reading open melt quotes: %v", err)
	} else {
		for _, q := range meltQuotes {
			m.applyLazyMeltExpiry(q)
		}
	}
}

// StartExpirySweeper runs SweepExpiredQuotes on a fixed interval until
// ctx is canceled, the way the teacher's websocket connection runs its
// ping loop off a time.Ticker.
func (m *Mint) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepExpiredQuotes()
			}
		}
	}()
}
