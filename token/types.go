// Package token defines the wire representation of blinded messages,
// blinded signatures, and unblinded proofs, and the token envelope
// that bundles proofs for transport between wallet and mint.
package token

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrInvalidUnit = errors.New("token: invalid unit")

// Unit identifies the smallest-subunit denomination a keyset and its
// tokens are scoped to. Unlike the teacher's single hardcoded Sat
// unit, this is an open string so the mint can serve more than one
// on-chain asset (e.g. "usdc", "eurc").
type Unit string

// BlindedMessage is a wallet's request for a blind signature over one
// output amount: B_ = Y + r*G for a keyset-scoped amount.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	B_     string `json:"B_"`
}

func NewBlindedMessage(id string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	return BlindedMessage{Amount: amount, Id: id, B_: hex.EncodeToString(B_.SerializeCompressed())}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var total uint64
	for _, m := range bm {
		total += m.Amount
	}
	return total
}

// DLEQProof is the hex-encoded non-interactive DLEQ proof attached to
// a blinded signature (mint -> wallet) or, once unblinded, to a proof
// spent back to the mint.
type DLEQProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// BlindedSignature is the mint's response to a BlindedMessage:
// C_ = k*B_, optionally accompanied by a DLEQ proof binding it to the
// advertised public key K for the amount. QuoteId binds the signature
// back to the mint quote that authorized issuing it.
type BlindedSignature struct {
	Amount  uint64     `json:"amount"`
	Id      string     `json:"id"`
	C_      string     `json:"C_"`
	QuoteId string     `json:"quote_id"`
	DLEQ    *DLEQProof `json:"dleq,omitempty"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var total uint64
	for _, s := range bs {
		total += s.Amount
	}
	return total
}

// Proof is an unblinded ecash proof: the wallet's claim to a
// particular amount under a keyset, redeemable exactly once.
type Proof struct {
	Amount uint64     `json:"amount"`
	Id     string     `json:"id"`
	Secret string     `json:"secret"`
	C      string     `json:"C"`
	DLEQ   *DLEQProof `json:"dleq,omitempty"`
}

type Proofs []Proof

func (proofs Proofs) Amount() uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// CheckDuplicateProofs reports whether proofs contains the same
// (amount, id, secret, C) combination more than once.
func CheckDuplicateProofs(proofs Proofs) bool {
	type proofKey struct {
		amount        uint64
		id, secret, c string
	}
	seen := make(map[proofKey]bool, len(proofs))
	for _, p := range proofs {
		k := proofKey{amount: p.Amount, id: p.Id, secret: p.Secret, c: p.C}
		if seen[k] {
			return true
		}
		seen[k] = true
	}
	return false
}
