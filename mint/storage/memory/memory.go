// Package memory is an in-memory storage.Store used by tests and by
// any mint process willing to trade durability for simplicity. All
// state transitions run inside a single sync.RWMutex-guarded critical
// section, matching the design's in-memory reference store.
package memory

import (
	"errors"
	"sync"

	"github.com/rnambaale/monexo-ecash/mint/storage"
	"github.com/rnambaale/monexo-ecash/token"
)

var ErrNotFound = errors.New("memory: not found")

type Store struct {
	mu sync.RWMutex

	seed []byte

	keysets map[string]storage.DBKeyset

	usedProofs    map[string]storage.DBProof // keyed by secret
	pendingProofs map[string]storage.DBProof // keyed by secret

	mintQuotes       map[string]storage.MintQuote
	mintQuotesByRef  map[string]string // reference -> id

	meltQuotes map[string]storage.MeltQuote

	blindSignatures map[string]token.BlindedSignature // keyed by B_
}

func New() *Store {
	return &Store{
		keysets:         make(map[string]storage.DBKeyset),
		usedProofs:      make(map[string]storage.DBProof),
		pendingProofs:   make(map[string]storage.DBProof),
		mintQuotes:      make(map[string]storage.MintQuote),
		mintQuotesByRef: make(map[string]string),
		meltQuotes:      make(map[string]storage.MeltQuote),
		blindSignatures: make(map[string]token.BlindedSignature),
	}
}

func (s *Store) SaveSeed(seed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = append([]byte(nil), seed...)
	return nil
}

func (s *Store) GetSeed() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.seed == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.seed...), nil
}

func (s *Store) SaveKeyset(ks storage.DBKeyset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysets[ks.Id] = ks
	return nil
}

func (s *Store) GetKeysets() ([]storage.DBKeyset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.DBKeyset, 0, len(s.keysets))
	for _, ks := range s.keysets {
		out = append(out, ks)
	}
	return out, nil
}

func (s *Store) UpdateKeysetActive(keysetId string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keysets[keysetId]
	if !ok {
		return ErrNotFound
	}
	ks.Active = active
	s.keysets[keysetId] = ks
	return nil
}

func (s *Store) SaveProofs(proofs token.Proofs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range proofs {
		s.usedProofs[p.Secret] = storage.DBProof{Amount: p.Amount, Id: p.Id, Secret: p.Secret, C: p.C}
	}
	return nil
}

func (s *Store) GetProofsUsed(secrets []string) ([]storage.DBProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.DBProof, 0)
	for _, secret := range secrets {
		if p, ok := s.usedProofs[secret]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// AddPendingProofs atomically checks that none of the proofs' secrets
// are already used or pending, then reserves all of them in one step
// under the store's single lock — satisfying check_fresh+reserve as
// one critical section per the design's ordering guarantees.
func (s *Store) AddPendingProofs(proofs token.Proofs, meltQuoteId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(proofs))
	for _, p := range proofs {
		if seen[p.Secret] {
			return &storage.DoubleSpendError{Secret: p.Secret}
		}
		seen[p.Secret] = true
		if _, ok := s.usedProofs[p.Secret]; ok {
			return &storage.DoubleSpendError{Secret: p.Secret}
		}
		if _, ok := s.pendingProofs[p.Secret]; ok {
			return &storage.DoubleSpendError{Secret: p.Secret}
		}
	}

	for _, p := range proofs {
		s.pendingProofs[p.Secret] = storage.DBProof{
			Amount: p.Amount, Id: p.Id, Secret: p.Secret, C: p.C, MeltQuoteId: meltQuoteId,
		}
	}
	return nil
}

func (s *Store) GetPendingProofsByQuote(meltQuoteId string) ([]storage.DBProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.DBProof, 0)
	for _, p := range s.pendingProofs {
		if p.MeltQuoteId == meltQuoteId {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) RemovePendingProofs(secrets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, secret := range secrets {
		delete(s.pendingProofs, secret)
	}
	return nil
}

func (s *Store) SaveMintQuote(q storage.MintQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mintQuotes[q.Id] = q
	s.mintQuotesByRef[q.Reference] = q.Id
	return nil
}

func (s *Store) GetMintQuote(id string) (storage.MintQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.mintQuotes[id]
	if !ok {
		return storage.MintQuote{}, ErrNotFound
	}
	return q, nil
}

func (s *Store) GetMintQuoteByReference(reference string) (storage.MintQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.mintQuotesByRef[reference]
	if !ok {
		return storage.MintQuote{}, ErrNotFound
	}
	return s.mintQuotes[id], nil
}

func (s *Store) UpdateMintQuoteState(id string, state storage.MintQuoteState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.mintQuotes[id]
	if !ok {
		return ErrNotFound
	}
	q.State = state
	s.mintQuotes[id] = q
	return nil
}

func (s *Store) GetOpenMintQuotes() ([]storage.MintQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.MintQuote, 0)
	for _, q := range s.mintQuotes {
		if q.State != storage.MintQuoteIssued && q.State != storage.MintQuoteExpired {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *Store) SaveMeltQuote(q storage.MeltQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meltQuotes[q.Id] = q
	return nil
}

func (s *Store) GetMeltQuote(id string) (storage.MeltQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.meltQuotes[id]
	if !ok {
		return storage.MeltQuote{}, ErrNotFound
	}
	return q, nil
}

func (s *Store) UpdateMeltQuoteState(id string, state storage.MeltQuoteState, txReference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.meltQuotes[id]
	if !ok {
		return ErrNotFound
	}
	q.State = state
	if txReference != "" {
		q.TxReference = txReference
	}
	s.meltQuotes[id] = q
	return nil
}

func (s *Store) GetOpenMeltQuotes() ([]storage.MeltQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.MeltQuote, 0)
	for _, q := range s.meltQuotes {
		switch q.State {
		case storage.MeltQuotePaid, storage.MeltQuoteFailed, storage.MeltQuoteExpired:
		default:
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *Store) SaveBlindSignatures(B_s []string, sigs token.BlindedSignatures) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range B_s {
		s.blindSignatures[b] = sigs[i]
	}
	return nil
}

func (s *Store) GetBlindSignatures(B_s []string) (token.BlindedSignatures, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(token.BlindedSignatures, 0, len(B_s))
	for _, b := range B_s {
		if sig, ok := s.blindSignatures[b]; ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *Store) GetIssuedEcash() (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64)
	for _, sig := range s.blindSignatures {
		out[sig.Id] += sig.Amount
	}
	return out, nil
}

func (s *Store) GetRedeemedEcash() (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64)
	for _, p := range s.usedProofs {
		out[p.Id] += p.Amount
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

var _ storage.Store = (*Store)(nil)
