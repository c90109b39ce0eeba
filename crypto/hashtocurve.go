// Package crypto implements the secp256k1 primitives and BDHKE engine
// used to issue and redeem blind-signed ecash tokens.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domainSeparator scopes HashToCurve to this protocol so that a point
// derived here can never collide with a point derived for some other
// hash-to-curve use of the same secret bytes.
const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// maxHashToCurveIterations bounds the counter search. Finding a valid
// point fails with probability ~2^-256 per iteration, so this is
// reached only in adversarial or broken inputs.
const maxHashToCurveIterations = 1 << 16

var ErrNoCurvePoint = errors.New("crypto: no valid curve point found for message")

// HashToCurve deterministically maps arbitrary bytes to a secp256k1
// point. Both mint and wallet must compute the same Y for a given
// secret, so the algorithm is fixed: domain-separate, then probe
// increasing counters until 0x02 || h parses as a point on the curve.
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(append([]byte(domainSeparator), message...))

	var counterBytes [4]byte
	for counter := uint32(0); counter < maxHashToCurveIterations; counter++ {
		binary.LittleEndian.PutUint32(counterBytes[:], counter)

		h := sha256.New()
		h.Write(msgHash[:])
		h.Write(counterBytes[:])
		hash := h.Sum(nil)

		candidate := append([]byte{0x02}, hash...)
		point, err := secp256k1.ParsePubKey(candidate)
		if err != nil {
			continue
		}
		return point, nil
	}

	return nil, ErrNoCurvePoint
}
