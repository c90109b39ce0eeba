package crypto

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// hashDLEQ is H_dleq(R1, R2, K, C'): SHA-256 over the concatenated
// uncompressed serializations of the four points, reduced mod the
// curve order. It binds a proof to the exact key and blinded
// signature it was produced for.
func hashDLEQ(R1, R2, K, C_ *secp256k1.PublicKey) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write(R1.SerializeUncompressed())
	h.Write(R2.SerializeUncompressed())
	h.Write(K.SerializeUncompressed())
	h.Write(C_.SerializeUncompressed())
	digest := h.Sum(nil)

	var e secp256k1.ModNScalar
	e.SetByteSlice(digest)
	return &e
}

// ProveDLEQ produces a non-interactive proof that C' = k*B' for the
// same k such that K = k*G, without revealing k. The mint calls this
// right after signing so the wallet can verify the advertised key was
// actually used.
func ProveDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (e, s *secp256k1.PrivateKey, err error) {
	p, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	var bPoint, r2Point secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)

	R1 := p.PubKey() // R1 = p*G
	secp256k1.ScalarMultNonConst(&p.Key, &bPoint, &r2Point)
	r2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2Point.X, &r2Point.Y) // R2 = p*B'

	K := k.PubKey()
	eScalar := hashDLEQ(R1, R2, K, C_)

	var esk secp256k1.ModNScalar
	esk.Mul2(eScalar, &k.Key)
	var sScalar secp256k1.ModNScalar
	sScalar.Add2(&p.Key, &esk)

	eKey := secp256k1.NewPrivateKey(eScalar)
	sKey := secp256k1.NewPrivateKey(&sScalar)
	return eKey, sKey, nil
}

// VerifyDLEQ reconstructs R1 = s*G - e*K and R2 = s*B' - e*C' and
// checks that e == H_dleq(R1, R2, K, C').
func VerifyDLEQ(e, s *secp256k1.PrivateKey, K, B_, C_ *secp256k1.PublicKey) bool {
	var sG, eK, r1 secp256k1.JacobianPoint
	sG = scalarMultG(&s.Key)

	var kPoint secp256k1.JacobianPoint
	K.AsJacobian(&kPoint)
	secp256k1.ScalarMultNonConst(&e.Key, &kPoint, &eK)

	var eKNeg secp256k1.JacobianPoint
	negate(&eK, &eKNeg)
	secp256k1.AddNonConst(&sG, &eKNeg, &r1)
	r1.ToAffine()
	R1 := secp256k1.NewPublicKey(&r1.X, &r1.Y)

	var sB, eC, r2 secp256k1.JacobianPoint
	var bPoint secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&s.Key, &bPoint, &sB)

	var cPoint secp256k1.JacobianPoint
	C_.AsJacobian(&cPoint)
	secp256k1.ScalarMultNonConst(&e.Key, &cPoint, &eC)

	var eCNeg secp256k1.JacobianPoint
	negate(&eC, &eCNeg)
	secp256k1.AddNonConst(&sB, &eCNeg, &r2)
	r2.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2.X, &r2.Y)

	expected := hashDLEQ(R1, R2, K, C_)
	return expected.Equals(&e.Key)
}

func scalarMultG(scalar *secp256k1.ModNScalar) secp256k1.JacobianPoint {
	priv := secp256k1.NewPrivateKey(scalar)
	var p secp256k1.JacobianPoint
	priv.PubKey().AsJacobian(&p)
	return p
}

func negate(in, out *secp256k1.JacobianPoint) {
	*out = *in
	out.Y.Negate(1)
	out.Y.Normalize()
}

// GenerateBlindingFactor returns a fresh, non-zero scalar suitable for
// use as the wallet-side blinding factor r in BlindMessage.
func GenerateBlindingFactor() (*secp256k1.PrivateKey, error) {
	for {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		k := secp256k1.PrivKeyFromBytes(buf)
		if !k.Key.IsZero() {
			return k, nil
		}
	}
}
