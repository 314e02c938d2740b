package xcrypto

import "testing"

func TestKeyDerivationIsSymmetric(t *testing.T) {
	txSecret, txPublic := GenerateKeyPair()
	viewSecret, viewPublic := GenerateKeyPair()

	d1 := KeyDerivation(txPublic, viewSecret)
	d2 := KeyDerivation(viewPublic, txSecret)
	if d1 != d2 {
		t.Fatalf("key derivation not symmetric: %x != %x", d1, d2)
	}
}

func TestDerivePublicKeyMatchesSecret(t *testing.T) {
	txSecret, txPublic := GenerateKeyPair()
	viewSecret, viewPublic := GenerateKeyPair()
	spendSecret, spendPublic := GenerateKeyPair()

	dRecv := KeyDerivation(txPublic, viewSecret)
	dSend := KeyDerivation(viewPublic, txSecret)
	if dRecv != dSend {
		t.Fatalf("precondition failed: derivations differ")
	}

	for _, idx := range []uint64{0, 1, 7, 1000} {
		oneTimeSecret := DeriveSecretKey(dRecv, idx, spendSecret)
		expectedPub := oneTimeSecret.PublicKey()
		gotPub := DerivePublicKey(dSend, idx, spendPublic)
		if expectedPub != gotPub {
			t.Fatalf("idx=%d: derived secret's public key %x != derived public key %x", idx, expectedPub, gotPub)
		}
	}
}

func TestKeyImageDeterministicAndDistinct(t *testing.T) {
	_, pub1 := GenerateKeyPair()
	sec1, _ := GenerateKeyPair()
	sec2, _ := GenerateKeyPair()

	ki1a := GenerateKeyImage(pub1, sec1)
	ki1b := GenerateKeyImage(pub1, sec1)
	if ki1a != ki1b {
		t.Fatalf("key image not deterministic")
	}

	ki2 := GenerateKeyImage(pub1, sec2)
	if ki1a == ki2 {
		t.Fatalf("key images for distinct secrets collided")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sk, _ := GenerateKeyPair()
	msg := []byte("spend proof for output #42")
	sig := Sign(sk, msg)
	pub := Ed25519PublicKey(sk)
	if err := VerifyWithEd25519PublicKey(pub, msg, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifyWithEd25519PublicKey(pub, []byte("tampered"), sig); err == nil {
		t.Fatalf("tampered message accepted")
	}
}

func TestGenerateKeyPairDeterministicIsStable(t *testing.T) {
	var entropy [32]byte
	copy(entropy[:], []byte("deterministic-seed-for-addr-0"))
	sk1, pk1 := GenerateKeyPairDeterministic(entropy)
	sk2, pk2 := GenerateKeyPairDeterministic(entropy)
	if sk1 != sk2 || pk1 != pk2 {
		t.Fatalf("deterministic key generation is not stable")
	}
}
