package crypto

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestProveAndVerifyDLEQ(t *testing.T) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey error: %v", err)
	}
	K := k.PubKey()

	r, err := GenerateBlindingFactor()
	if err != nil {
		t.Fatalf("GenerateBlindingFactor error: %v", err)
	}

	B_, err := BlindMessage([]byte("dleq_test_secret"), r)
	if err != nil {
		t.Fatalf("BlindMessage error: %v", err)
	}
	C_ := SignBlindedMessage(k, B_)

	e, s, err := ProveDLEQ(k, B_, C_)
	if err != nil {
		t.Fatalf("ProveDLEQ error: %v", err)
	}

	if !VerifyDLEQ(e, s, K, B_, C_) {
		t.Errorf("expected DLEQ proof to verify")
	}
}

func TestVerifyDLEQRejectsWrongSignature(t *testing.T) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey error: %v", err)
	}
	K := k.PubKey()

	r, err := GenerateBlindingFactor()
	if err != nil {
		t.Fatalf("GenerateBlindingFactor error: %v", err)
	}

	B_, err := BlindMessage([]byte("dleq_test_secret"), r)
	if err != nil {
		t.Fatalf("BlindMessage error: %v", err)
	}
	C_ := SignBlindedMessage(k, B_)

	e, s, err := ProveDLEQ(k, B_, C_)
	if err != nil {
		t.Fatalf("ProveDLEQ error: %v", err)
	}

	otherK, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey error: %v", err)
	}
	forgedC_ := SignBlindedMessage(otherK, B_)

	if VerifyDLEQ(e, s, K, B_, forgedC_) {
		t.Errorf("expected DLEQ proof over a forged signature to fail verification")
	}
}

func TestGenerateBlindingFactorNonZero(t *testing.T) {
	for i := 0; i < 10; i++ {
		r, err := GenerateBlindingFactor()
		if err != nil {
			t.Fatalf("GenerateBlindingFactor error: %v", err)
		}
		if r.Key.IsZero() {
			t.Errorf("expected non-zero blinding factor")
		}
	}
}
