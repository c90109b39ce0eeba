package crypto

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrZeroBlindingFactor = errors.New("crypto: blinding factor cannot be zero")

// BlindMessage computes B' = Y + r*G, where Y = HashToCurve(secret) and
// r is a blinding scalar chosen by the wallet and never sent to the mint.
func BlindMessage(secret []byte, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, error) {
	if r.Key.IsZero() {
		return nil, ErrZeroBlindingFactor
	}

	Y, err := HashToCurve(secret)
	if err != nil {
		return nil, err
	}

	var yPoint, rPoint, blinded secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)
	r.PubKey().AsJacobian(&rPoint)

	secp256k1.AddNonConst(&yPoint, &rPoint, &blinded)
	blinded.ToAffine()
	return secp256k1.NewPublicKey(&blinded.X, &blinded.Y), nil
}

// SignBlindedMessage computes C' = k*B', the mint's blind signature
// over the wallet-supplied blinded point, using the amount-indexed
// private key k from the active keyset.
func SignBlindedMessage(k *secp256k1.PrivateKey, B_ *secp256k1.PublicKey) *secp256k1.PublicKey {
	var bPoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bPoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// UnblindSignature computes C = C' - r*K, removing the mint's blinding
// contribution so the wallet is left with an unblinded proof signature.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) *secp256k1.PublicKey {
	var kPoint, rkPoint, c_Point, result secp256k1.JacobianPoint
	K.AsJacobian(&kPoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)
	secp256k1.ScalarMultNonConst(&rNeg, &kPoint, &rkPoint)

	C_.AsJacobian(&c_Point)
	secp256k1.AddNonConst(&c_Point, &rkPoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// Verify checks that k*HashToCurve(secret) == C, i.e. that C is a
// genuine unblinded signature over secret under private key k.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	Y, err := HashToCurve(secret)
	if err != nil {
		return false
	}

	var yPoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)
	secp256k1.ScalarMultNonConst(&k.Key, &yPoint, &result)
	result.ToAffine()

	candidate := secp256k1.NewPublicKey(&result.X, &result.Y)
	return C.IsEqual(candidate)
}
