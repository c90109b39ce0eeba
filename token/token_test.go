package token

import "testing"

func sampleProofs() Proofs {
	return Proofs{
		{Amount: 4, Id: "00aabbccddeeff00", Secret: "s1", C: "02" + "11223344556677889900aabbccddeeff00112233445566778899aabbccddee"},
		{Amount: 1, Id: "00aabbccddeeff00", Secret: "s2", C: "03" + "11223344556677889900aabbccddeeff00112233445566778899aabbccddee"},
	}
}

func TestNewTokenAndSerializeRoundtrip(t *testing.T) {
	proofs := sampleProofs()

	tok, err := NewToken(proofs, "https://mint.example", Unit("usdc"), false)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	wire, err := tok.Serialize()
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}
	if len(wire) < len(versionPrefix) || wire[:len(versionPrefix)] != versionPrefix {
		t.Fatalf("expected wire token to start with %q, got %q", versionPrefix, wire[:len(versionPrefix)])
	}

	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if decoded.Amount() != proofs.Amount() {
		t.Errorf("expected amount %d, got %d", proofs.Amount(), decoded.Amount())
	}
	if decoded.MintURL != "https://mint.example" {
		t.Errorf("expected mint url to round-trip, got %q", decoded.MintURL)
	}
	if decoded.Unit != "usdc" {
		t.Errorf("expected unit to round-trip, got %q", decoded.Unit)
	}

	gotProofs := decoded.Proofs()
	if len(gotProofs) != len(proofs) {
		t.Fatalf("expected %d proofs, got %d", len(proofs), len(gotProofs))
	}
}

func TestNewTokenRejectsEmptyUnit(t *testing.T) {
	if _, err := NewToken(sampleProofs(), "https://mint.example", Unit(""), false); err != ErrInvalidUnit {
		t.Errorf("expected ErrInvalidUnit, got %v", err)
	}
}

func TestDecodeRejectsBadPrefix(t *testing.T) {
	if _, err := Decode("notatoken"); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	proofs := sampleProofs()
	if CheckDuplicateProofs(proofs) {
		t.Errorf("expected no duplicates among distinct proofs")
	}

	dup := append(Proofs{}, proofs...)
	dup = append(dup, proofs[0])
	if !CheckDuplicateProofs(dup) {
		t.Errorf("expected duplicate to be detected")
	}
}
