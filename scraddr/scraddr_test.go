package scraddr

import "testing"

func TestFromHash160RoundTrip(t *testing.T) {
	var h [20]byte
	h[0] = 0xAB
	s := FromHash160(TypeP2PKH, h)
	if s.Type() != TypeP2PKH {
		t.Fatalf("expected TypeP2PKH, got %v", s.Type())
	}
	if s.Bytes()[1] != 0xAB {
		t.Fatalf("expected hash160 bytes to follow the type discriminator")
	}
}

func TestSetAddRemoveContains(t *testing.T) {
	set := NewSet()
	var h [20]byte
	addr := FromHash160(TypeP2SH, h)

	if set.Contains(addr) {
		t.Fatalf("expected empty set to not contain addr")
	}
	set.Add(addr)
	if !set.Contains(addr) || set.Len() != 1 {
		t.Fatalf("expected set to contain addr after Add")
	}
	set.Remove(addr)
	if set.Contains(addr) {
		t.Fatalf("expected set to not contain addr after Remove")
	}
}
