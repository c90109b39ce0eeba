package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// DefaultMaxOrder is the number of power-of-two denominations derived
// per keyset by default: amounts 2^0 .. 2^(DefaultMaxOrder-1), which
// covers every representable uint64 amount up to 2^63.
const DefaultMaxOrder = 64

var (
	ErrKeysetNotFound  = errors.New("crypto: keyset not found")
	ErrNoActiveKeyset  = errors.New("crypto: no active keyset for unit")
	ErrInvalidMaxOrder = errors.New("crypto: max_order must be between 1 and 64")
)

// KeyPair is one amount's signing key and its public counterpart.
type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// Keyset is an immutable set of per-amount keypairs scoped to a unit.
// Only the Active flag may change after construction (see Manager.Rotate).
type Keyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	MaxOrder          int
	InputFeePpk       uint
	Keys              map[uint64]KeyPair
}

// PublicKeys returns the amount -> K_A map for this keyset.
func (ks *Keyset) PublicKeys() map[uint64]*secp256k1.PublicKey {
	pubs := make(map[uint64]*secp256k1.PublicKey, len(ks.Keys))
	for amount, kp := range ks.Keys {
		pubs[amount] = kp.PublicKey
	}
	return pubs
}

// unitChildIndex derives a stable, hardened-safe child index from a
// unit tag so that distinct units occupy distinct branches of the
// same master seed without needing a registry of unit -> index.
func unitChildIndex(unit string) uint32 {
	h := sha256.Sum256([]byte(unit))
	idx := uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 | uint32(h[3])
	return idx % hdkeychain.HardenedKeyStart
}

// derivePath walks master -> m/0' -> m/0'/unit' -> m/0'/unit'/index',
// mirroring the teacher's single-unit m/0'/0'/index' path but keyed
// on the unit so one seed can back many units.
func derivePath(master *hdkeychain.ExtendedKey, unit string, index uint32) (*hdkeychain.ExtendedKey, error) {
	root, err := master.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	unitKey, err := root.Derive(hdkeychain.HardenedKeyStart + unitChildIndex(unit))
	if err != nil {
		return nil, err
	}

	return unitKey.Derive(hdkeychain.HardenedKeyStart + index)
}

// GenerateKeyset derives a full keyset for (unit, index) from a BIP32
// master extended key: one hardened child per representable amount.
func GenerateKeyset(master *hdkeychain.ExtendedKey, unit string, index uint32, maxOrder int, inputFeePpk uint) (*Keyset, error) {
	if maxOrder <= 0 || maxOrder > 64 {
		return nil, ErrInvalidMaxOrder
	}

	keysetPath, err := derivePath(master, unit, index)
	if err != nil {
		return nil, err
	}

	keys := make(map[uint64]KeyPair, maxOrder)
	pubs := make(map[uint64]*secp256k1.PublicKey, maxOrder)
	for i := 0; i < maxOrder; i++ {
		amount := uint64(1) << uint(i)

		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, fmt.Errorf("deriving key for amount %d: %w", amount, err)
		}
		priv, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, err
		}
		pub, err := amountPath.ECPubKey()
		if err != nil {
			return nil, err
		}

		keys[amount] = KeyPair{PrivateKey: priv, PublicKey: pub}
		pubs[amount] = pub
	}

	return &Keyset{
		Id:                DeriveKeysetId(pubs),
		Unit:              unit,
		Active:            true,
		DerivationPathIdx: index,
		MaxOrder:          maxOrder,
		InputFeePpk:       inputFeePpk,
		Keys:              keys,
	}, nil
}

// DeriveKeysetId computes the 16-hex-character fingerprint of a
// keyset's public points: sort by amount ascending, concatenate
// compressed serializations, SHA-256, take the first 7 bytes and
// prefix the 0x00 version byte.
func DeriveKeysetId(pubs map[uint64]*secp256k1.PublicKey) string {
	type entry struct {
		amount uint64
		pub    *secp256k1.PublicKey
	}
	entries := make([]entry, 0, len(pubs))
	for amount, pub := range pubs {
		entries = append(entries, entry{amount, pub})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].amount < entries[j].amount })

	h := sha256.New()
	for _, e := range entries {
		h.Write(e.pub.SerializeCompressed())
	}
	sum := h.Sum(nil)

	return "00" + hex.EncodeToString(sum[:7])
}

// MasterFromSeed builds a BIP32 master extended key from a 64-byte
// seed. The network params only gate version bytes used nowhere in
// this protocol, so mainnet params are used unconditionally.
func MasterFromSeed(seed []byte) (*hdkeychain.ExtendedKey, error) {
	return hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
}

// Manager keeps the set of keysets known to a mint process: one
// active keyset per unit plus any number of retired (inactive) ones
// still needed to verify outstanding tokens.
type Manager struct {
	master  *hdkeychain.ExtendedKey
	keysets map[string]*Keyset // keyset id -> keyset
	active  map[string]string  // unit -> active keyset id
}

// NewManager builds an empty Manager over the given master seed.
// Keysets are added via Load (restoring from storage) or Rotate
// (minting a brand-new one).
func NewManager(master *hdkeychain.ExtendedKey) *Manager {
	return &Manager{
		master:  master,
		keysets: make(map[string]*Keyset),
		active:  make(map[string]string),
	}
}

// Load registers a keyset the caller has already derived (typically
// reconstructed from persisted (unit, index, maxOrder, feePpk)
// metadata at startup). If active is true it becomes that unit's
// active keyset, deactivating any previous one.
func (m *Manager) Load(ks *Keyset, active bool) {
	ks.Active = active
	m.keysets[ks.Id] = ks
	if active {
		if prevId, ok := m.active[ks.Unit]; ok && prevId != ks.Id {
			if prev, ok := m.keysets[prevId]; ok {
				prev.Active = false
			}
		}
		m.active[ks.Unit] = ks.Id
	}
}

// Master returns the BIP32 master extended key this manager derives
// all keysets from, so callers can regenerate a keyset from persisted
// (unit, index, maxOrder, feePpk) metadata.
func (m *Manager) Master() *hdkeychain.ExtendedKey {
	return m.master
}

// GetKeyset returns the keyset with the given id, active or not.
func (m *Manager) GetKeyset(id string) (*Keyset, error) {
	ks, ok := m.keysets[id]
	if !ok {
		return nil, ErrKeysetNotFound
	}
	return ks, nil
}

// ActiveFor returns the single active keyset for unit.
func (m *Manager) ActiveFor(unit string) (*Keyset, error) {
	id, ok := m.active[unit]
	if !ok {
		return nil, ErrNoActiveKeyset
	}
	return m.keysets[id], nil
}

// All returns every keyset known to the manager, active and retired.
func (m *Manager) All() []*Keyset {
	all := make([]*Keyset, 0, len(m.keysets))
	for _, ks := range m.keysets {
		all = append(all, ks)
	}
	return all
}

// Rotate deactivates the current active keyset for unit (if any) and
// derives + activates a fresh one at the next derivation index. Old
// keysets remain registered and queryable via GetKeyset so that
// proofs signed under them keep verifying.
func (m *Manager) Rotate(unit string, maxOrder int, inputFeePpk uint) (*Keyset, error) {
	nextIndex := uint32(0)
	if current, err := m.ActiveFor(unit); err == nil {
		nextIndex = current.DerivationPathIdx + 1
		current.Active = false
	}

	ks, err := GenerateKeyset(m.master, unit, nextIndex, maxOrder, inputFeePpk)
	if err != nil {
		return nil, err
	}

	m.keysets[ks.Id] = ks
	m.active[unit] = ks.Id
	return ks, nil
}
