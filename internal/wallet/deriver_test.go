package wallet

import "testing"

func TestDerive_Deterministic(t *testing.T) {
	a, err := Derive("42_momentum")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	b, err := Derive("42_momentum")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	if a.Address != b.Address {
		t.Errorf("same seed produced different addresses: %s vs %s", a.Address.Hex(), b.Address.Hex())
	}
	if a.Key.D.Cmp(b.Key.D) != 0 {
		t.Error("same seed produced different private keys")
	}
}

func TestDerive_DistinctSeeds(t *testing.T) {
	a, err := Derive("42_momentum")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	b, err := Derive("42_swing")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	if a.Address == b.Address {
		t.Errorf("distinct seeds produced the same address %s", a.Address.Hex())
	}
}

func TestSeeds(t *testing.T) {
	if got := ActorSeed(7, "alpha"); got != "7_alpha" {
		t.Errorf("unexpected actor seed %q", got)
	}
	if got := EscrowSeed("master", 7, "alpha"); got != "master_7_alpha" {
		t.Errorf("unexpected escrow seed %q", got)
	}
	if ActorSeed(7, "alpha") == EscrowSeed("master", 7, "alpha") {
		t.Error("actor and escrow seeds must differ")
	}
}
