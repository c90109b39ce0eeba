package crypto

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func testMaster(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i)
	}
	master, err := MasterFromSeed(seed)
	if err != nil {
		t.Fatalf("MasterFromSeed error: %v", err)
	}
	return master
}

func TestGenerateKeysetDerivesMaxOrderAmounts(t *testing.T) {
	master := testMaster(t)

	ks, err := GenerateKeyset(master, "usdc", 0, 10, 100)
	if err != nil {
		t.Fatalf("GenerateKeyset error: %v", err)
	}

	if len(ks.Keys) != 10 {
		t.Fatalf("expected 10 keys, got %d", len(ks.Keys))
	}
	for i := 0; i < 10; i++ {
		amount := uint64(1) << uint(i)
		if _, ok := ks.Keys[amount]; !ok {
			t.Errorf("expected key for amount %d", amount)
		}
	}
}

func TestDeriveKeysetIdFormat(t *testing.T) {
	master := testMaster(t)

	ks, err := GenerateKeyset(master, "usdc", 0, 8, 0)
	if err != nil {
		t.Fatalf("GenerateKeyset error: %v", err)
	}

	if len(ks.Id) != 16 {
		t.Fatalf("expected 16-char keyset id, got %d chars: %s", len(ks.Id), ks.Id)
	}
	if ks.Id[:2] != "00" {
		t.Errorf("expected keyset id to start with version byte 00, got %s", ks.Id)
	}
}

func TestDeriveKeysetIdDiffersOnAmountSwap(t *testing.T) {
	master := testMaster(t)

	ks1, err := GenerateKeyset(master, "usdc", 0, 4, 0)
	if err != nil {
		t.Fatalf("GenerateKeyset error: %v", err)
	}

	swapped := map[uint64]*secp256k1.PublicKey{}
	pubs := ks1.PublicKeys()
	amounts := []uint64{1, 2, 4, 8}
	swapped[amounts[0]] = pubs[amounts[1]]
	swapped[amounts[1]] = pubs[amounts[0]]
	swapped[amounts[2]] = pubs[amounts[2]]
	swapped[amounts[3]] = pubs[amounts[3]]

	swappedId := DeriveKeysetId(swapped)
	if swappedId == ks1.Id {
		t.Errorf("expected swapping two amounts' keys to change the keyset id")
	}
}

func TestGenerateKeysetDifferentUnitsDiffer(t *testing.T) {
	master := testMaster(t)

	ksA, err := GenerateKeyset(master, "usdc", 0, 4, 0)
	if err != nil {
		t.Fatalf("GenerateKeyset error: %v", err)
	}
	ksB, err := GenerateKeyset(master, "eurc", 0, 4, 0)
	if err != nil {
		t.Fatalf("GenerateKeyset error: %v", err)
	}

	if ksA.Id == ksB.Id {
		t.Errorf("expected different units to derive different keysets")
	}
}

func TestManagerRotate(t *testing.T) {
	master := testMaster(t)
	mgr := NewManager(master)

	first, err := mgr.Rotate("usdc", 4, 0)
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if !first.Active {
		t.Fatalf("expected first keyset to be active")
	}

	second, err := mgr.Rotate("usdc", 4, 0)
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if !second.Active {
		t.Fatalf("expected rotated keyset to be active")
	}

	active, err := mgr.ActiveFor("usdc")
	if err != nil {
		t.Fatalf("ActiveFor error: %v", err)
	}
	if active.Id != second.Id {
		t.Errorf("expected active keyset to be the most recently rotated one")
	}

	oldStored, err := mgr.GetKeyset(first.Id)
	if err != nil {
		t.Fatalf("expected retired keyset to remain queryable: %v", err)
	}
	if oldStored.Active {
		t.Errorf("expected retired keyset to be inactive")
	}
}

func TestManagerActiveForUnknownUnit(t *testing.T) {
	master := testMaster(t)
	mgr := NewManager(master)

	if _, err := mgr.ActiveFor("usdc"); err != ErrNoActiveKeyset {
		t.Errorf("expected ErrNoActiveKeyset, got %v", err)
	}
}
