package mint

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	cryptopkg "github.com/rnambaale/monexo-ecash/crypto"
	"github.com/rnambaale/monexo-ecash/ledger"
	"github.com/rnambaale/monexo-ecash/token"
)

// decomposeForTest exposes ledger.Decompose under a test-local name so
// callers in this file read like the wallet-side split helper they are
// grounded on.
func decomposeForTest(amount uint64) []uint64 {
	return ledger.Decompose(amount)
}

// blindAmounts builds one blinded message per amount in amounts, the
// way a wallet's CreateBlindedMessages does: random secret, random
// blinding factor, B_ = HashToCurve(secret) + r*G.
func blindAmounts(t *testing.T, keysetId string, amounts []uint64) (token.BlindedMessages, []*secp256k1.PrivateKey, []string) {
	t.Helper()

	bms := make(token.BlindedMessages, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))
	secrets := make([]string, len(amounts))

	for i, amt := range amounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			t.Fatalf("generating secret: %v", err)
		}
		secret := hex.EncodeToString(secretBytes)

		r, err := cryptopkg.GenerateBlindingFactor()
		if err != nil {
			t.Fatalf("generating blinding factor: %v", err)
		}

		B_, err := cryptopkg.BlindMessage([]byte(secret), r)
		if err != nil {
			t.Fatalf("blinding message: %v", err)
		}

		bms[i] = token.NewBlindedMessage(keysetId, amt, B_)
		rs[i] = r
		secrets[i] = secret
	}

	return bms, rs, secrets
}

// unblindAll turns the mint's blinded signatures back into spendable
// proofs, the way a wallet's ConstructProofs does.
func unblindAll(t *testing.T, ks *cryptopkg.Keyset, sigs token.BlindedSignatures, rs []*secp256k1.PrivateKey, secrets []string) token.Proofs {
	t.Helper()

	if len(sigs) != len(rs) || len(sigs) != len(secrets) {
		t.Fatalf("mismatched lengths: sigs=%d rs=%d secrets=%d", len(sigs), len(rs), len(secrets))
	}

	proofs := make(token.Proofs, len(sigs))
	for i, sig := range sigs {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			t.Fatalf("decoding C_: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			t.Fatalf("parsing C_: %v", err)
		}

		kp, ok := ks.Keys[sig.Amount]
		if !ok {
			t.Fatalf("no key for amount %d in keyset %s", sig.Amount, ks.Id)
		}

		C := cryptopkg.UnblindSignature(C_, rs[i], kp.PublicKey)
		proofs[i] = token.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}

	return proofs
}
