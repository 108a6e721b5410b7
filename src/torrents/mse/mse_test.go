package mse

import "testing"

func TestDHRoundTrip(t *testing.T) {
	aPub, aPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair (a): %v", err)
	}

	bPub, bPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair (b): %v", err)
	}

	sharedA, err := ComputeShared(bPub, aPriv)
	if err != nil {
		t.Fatalf("ComputeShared (a): %v", err)
	}

	sharedB, err := ComputeShared(aPub, bPriv)
	if err != nil {
		t.Fatalf("ComputeShared (b): %v", err)
	}

	if sharedA != sharedB {
		t.Fatalf("shared secrets disagree: %x != %x", sharedA, sharedB)
	}
}

func TestComputeSharedRejectsOutOfRange(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	var zero [KeyLen]byte
	if _, err := ComputeShared(zero, priv); err == nil {
		t.Fatalf("expected error for zero public key")
	}

	var ones [KeyLen]byte
	for i := range ones {
		ones[i] = 0xff
	}
	if _, err := ComputeShared(ones, priv); err == nil {
		t.Fatalf("expected error for public key >= P")
	}
}

func TestReqHashesDiffer(t *testing.T) {
	var s [KeyLen]byte
	for i := range s {
		s[i] = byte(i)
	}

	r1 := Req1(s)
	r3 := Req3(s)

	if r1 == r3 {
		t.Fatalf("req1 and req3 must differ for the same S")
	}

	var skey [ShaLen]byte
	for i := range skey {
		skey[i] = byte(i + 1)
	}
	r2 := Req2(skey)

	x := XorDigest(r2, r3)
	if XorDigest(x, r3) != r2 {
		t.Fatalf("XorDigest is not self-inverse")
	}
}

func TestRC4StreamsAgree(t *testing.T) {
	var s [KeyLen]byte
	for i := range s {
		s[i] = byte(i * 3)
	}
	var skey [ShaLen]byte
	for i := range skey {
		skey[i] = byte(i * 7)
	}

	a, err := NewRC4Stream("keyA", s, skey)
	if err != nil {
		t.Fatalf("NewRC4Stream (a): %v", err)
	}
	b, err := NewRC4Stream("keyA", s, skey)
	if err != nil {
		t.Fatalf("NewRC4Stream (b): %v", err)
	}

	plain := []byte("hello, peer")
	ctA := make([]byte, len(plain))
	a.XORKeyStream(ctA, plain)

	ptB := make([]byte, len(ctA))
	b.XORKeyStream(ptB, ctA)

	if string(ptB) != string(plain) {
		t.Fatalf("RC4 streams derived from identical inputs disagree")
	}
}

func TestSelectForPriority(t *testing.T) {
	cases := []struct {
		mode     Mode
		provided uint32
		want     uint32
		ok       bool
	}{
		{Required, CryptoProvideCrypto | CryptoProvidePlaintext, CryptoProvideCrypto, true},
		{Required, CryptoProvidePlaintext, 0, false},
		{Preferred, CryptoProvideCrypto | CryptoProvidePlaintext, CryptoProvideCrypto, true},
		{Preferred, CryptoProvidePlaintext, CryptoProvidePlaintext, true},
		{ClearPreferred, CryptoProvideCrypto | CryptoProvidePlaintext, CryptoProvidePlaintext, true},
		{ClearPreferred, CryptoProvideCrypto, CryptoProvideCrypto, true},
	}

	for _, c := range cases {
		got, ok := SelectFor(c.mode, c.provided)
		if ok != c.ok || got != c.want {
			t.Errorf("SelectFor(%s, %d) = (%d, %v), want (%d, %v)", c.mode, c.provided, got, ok, c.want, c.ok)
		}
	}
}
