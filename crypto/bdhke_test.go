package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "024cce997d3b518f739663b757deaec95bcd9473c30a14ac2fd04023a739d1a725"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "022e7158e11c9506f1aa4248bf531298daa7febd6194f003edcd9b93ade6253acf"},
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "02076c988b353fcbb748178ecb286bc9d0b4acf474d4ba31ba62334e46c97c416a"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Fatalf("error decoding msg: %v", err)
		}

		pk, err := HashToCurve(msgBytes)
		if err != nil {
			t.Fatalf("HashToCurve returned error: %v", err)
		}

		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, hexStr)
		}
	}
}

func privKeyFromHex(t *testing.T, hexStr string) *secp256k1.PrivateKey {
	t.Helper()
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("error decoding key: %v", err)
	}
	return secp256k1.PrivKeyFromBytes(b)
}

func TestBlindMessage(t *testing.T) {
	tests := []struct {
		secret         []byte
		blindingFactor string
		expected       string
	}{
		{secret: []byte("test_message"),
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			expected:       "02a9acc1e48c25eeeb9289b5031cc57da9fe72f3fe2861d264bdc074209b107ba2",
		},
		{secret: []byte("hello"),
			blindingFactor: "6d7e0abffc83267de28ed8ecc8760f17697e51252e13333ba69b4ddad1f95d05",
			expected:       "0249eb5dbb4fac2750991cf18083388c6ef76cde9537a6ac6f3e6679d35cdf4b0c",
		},
	}

	for _, test := range tests {
		r := privKeyFromHex(t, test.blindingFactor)

		B_, err := BlindMessage(test.secret, r)
		if err != nil {
			t.Fatalf("BlindMessage returned error: %v", err)
		}

		B_Hex := hex.EncodeToString(B_.SerializeCompressed())
		if B_Hex != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, B_Hex)
		}
	}
}

func TestSignBlindedMessage(t *testing.T) {
	r := privKeyFromHex(t, "0000000000000000000000000000000000000000000000000000000000000001")
	k := privKeyFromHex(t, "0000000000000000000000000000000000000000000000000000000000000001")

	B_, err := BlindMessage([]byte("test_message"), r)
	if err != nil {
		t.Fatalf("BlindMessage returned error: %v", err)
	}

	C_ := SignBlindedMessage(k, B_)
	if C_ == nil {
		t.Fatalf("SignBlindedMessage returned nil")
	}
}

func TestUnblindAndVerifyRoundtrip(t *testing.T) {
	secret := []byte("test_secret_message")

	r, err := GenerateBlindingFactor()
	if err != nil {
		t.Fatalf("GenerateBlindingFactor error: %v", err)
	}

	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey error: %v", err)
	}
	K := k.PubKey()

	B_, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("BlindMessage error: %v", err)
	}

	C_ := SignBlindedMessage(k, B_)
	C := UnblindSignature(C_, r, K)

	if !Verify(secret, k, C) {
		t.Errorf("expected unblinded signature to verify")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	secret := []byte("another_secret")

	r, err := GenerateBlindingFactor()
	if err != nil {
		t.Fatalf("GenerateBlindingFactor error: %v", err)
	}
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey error: %v", err)
	}
	otherKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey error: %v", err)
	}

	B_, err := BlindMessage(secret, r)
	if err != nil {
		t.Fatalf("BlindMessage error: %v", err)
	}
	C_ := SignBlindedMessage(k, B_)
	C := UnblindSignature(C_, r, k.PubKey())

	if Verify(secret, otherKey, C) {
		t.Errorf("expected verification under the wrong key to fail")
	}
}

func TestBlindMessageRejectsZeroFactor(t *testing.T) {
	zero := privKeyFromHex(t, "0000000000000000000000000000000000000000000000000000000000000000")

	if _, err := BlindMessage([]byte("secret"), zero); err != ErrZeroBlindingFactor {
		t.Errorf("expected ErrZeroBlindingFactor, got %v", err)
	}
}
