// Package storage defines the persistence boundary for the mint: the
// keyset registry, the spent/pending proof ledger, and the mint/melt
// quote tables. Grounded on the teacher's mint/storage.MintDB
// interface, retyped for the on-chain USDC domain (references and
// tx ids in place of Lightning payment hashes/requests).
package storage

import (
	"github.com/rnambaale/monexo-ecash/token"
)

// Store is the transactional persistence boundary the quote
// orchestrator (mint.Mint) is built against. Implementations must
// provide read-committed semantics with row-level (or equivalent)
// locking on the spent-set and quote tables — the only shared
// mutable state per the design's concurrency model.
type Store interface {
	SaveSeed(seed []byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	// SaveProofs commits proofs to the spent-set. Must only be
	// called after all downstream side effects (payout, issuance)
	// have been decided, per commit_spent's contract.
	SaveProofs(token.Proofs) error
	GetProofsUsed(secrets []string) ([]DBProof, error)

	// AddPendingProofs atomically reserves proofs against a melt
	// quote iff none of their secrets are already used or pending;
	// returns DoubleSpendError on conflict.
	AddPendingProofs(proofs token.Proofs, meltQuoteId string) error
	GetPendingProofsByQuote(meltQuoteId string) ([]DBProof, error)
	RemovePendingProofs(secrets []string) error

	SaveMintQuote(MintQuote) error
	GetMintQuote(id string) (MintQuote, error)
	GetMintQuoteByReference(reference string) (MintQuote, error)
	UpdateMintQuoteState(id string, state MintQuoteState) error
	// GetOpenMintQuotes returns every mint quote not yet in a terminal
	// state (ISSUED or EXPIRED), for the expiry sweeper.
	GetOpenMintQuotes() ([]MintQuote, error)

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(id string) (MeltQuote, error)
	UpdateMeltQuoteState(id string, state MeltQuoteState, txReference string) error
	// GetOpenMeltQuotes returns every melt quote not yet in a terminal
	// state (PAID, FAILED, or EXPIRED), for the expiry sweeper.
	GetOpenMeltQuotes() ([]MeltQuote, error)

	SaveBlindSignatures(B_s []string, sigs token.BlindedSignatures) error
	GetBlindSignatures(B_s []string) (token.BlindedSignatures, error)

	GetIssuedEcash() (map[string]uint64, error)
	GetRedeemedEcash() (map[string]uint64, error)

	Close() error
}

// DoubleSpendError is returned by AddPendingProofs when one of the
// submitted secrets is already used or already pending; the mint
// package translates it into the tagged mint.Error at the boundary.
type DoubleSpendError struct {
	Secret string
}

func (e *DoubleSpendError) Error() string {
	return "storage: secret already spent or reserved: " + e.Secret
}

// DBKeyset is the persisted form of a crypto.Keyset: enough metadata
// to re-derive every amount key from the master seed at startup.
type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	MaxOrder          int
	InputFeePpk       uint
}

// DBProof is the persisted form of a spent or pending token.Proof.
type DBProof struct {
	Amount      uint64
	Id          string
	Secret      string
	C           string
	MeltQuoteId string // set only for rows in the pending table
}

// MintQuote is the persisted state of a deposit-backed mint quote.
// FeeTotal is always 0 today (no fee on deposit, per the issue
// operation's contract) but is carried on the struct for symmetry
// with MeltQuote and so a future deposit fee has somewhere to live
// without a schema change.
type MintQuote struct {
	Id        string
	Unit      string
	Amount    uint64
	Reference string
	FeeTotal  uint64
	State     MintQuoteState
	Expiry    int64
}

// MeltQuote is the persisted state of a redemption-backed melt quote.
type MeltQuote struct {
	Id            string
	Unit          string
	Amount        uint64
	FeeTotal      uint64
	PayoutTarget  string
	State         MeltQuoteState
	Expiry        int64
	TxReference   string
}
