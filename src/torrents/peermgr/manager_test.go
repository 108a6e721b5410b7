package peermgr

import "testing"

func TestUTPUnsupportedBookkeeping(t *testing.T) {
	m := New()

	if m.IsUTPUnsupported("1.2.3.4:6881") {
		t.Fatal("fresh manager should not report any address as UTP-unsupported")
	}

	m.MarkUTPUnsupported("1.2.3.4:6881")

	if !m.IsUTPUnsupported("1.2.3.4:6881") {
		t.Fatal("expected address to be marked UTP-unsupported")
	}
	if m.IsUTPUnsupported("5.6.7.8:6881") {
		t.Fatal("marking one address must not affect another")
	}
}

func TestKnownSeedBookkeeping(t *testing.T) {
	m := New()

	if m.IsKnownSeed("1.2.3.4:6881") {
		t.Fatal("fresh manager should not report any address as a known seed")
	}

	m.MarkSeed("1.2.3.4:6881")

	if !m.IsKnownSeed("1.2.3.4:6881") {
		t.Fatal("expected address to be marked as a known seed")
	}
}
