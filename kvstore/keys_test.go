package kvstore

import "testing"

func TestSubSSHKeyPacksHeightAndDup(t *testing.T) {
	scrAddr := []byte{0xAA, 0xBB}
	key := SubSSHKey(scrAddr, 0x010203, 0x07)

	if key[0] != PrefixSubSSH {
		t.Fatalf("unexpected prefix byte: %x", key[0])
	}
	heightX := key[len(key)-4:]
	if got := Height3BE(heightX[:3]); got != 0x010203 {
		t.Fatalf("height mismatch: got %x want %x", got, 0x010203)
	}
	if heightX[3] != 0x07 {
		t.Fatalf("dupId mismatch: got %x want %x", heightX[3], 0x07)
	}
}

func TestTxKeyIsSixBytes(t *testing.T) {
	key := TxKey(42, 3, 17)
	if len(key) != 6 {
		t.Fatalf("expected 6-byte tx key, got %d bytes", len(key))
	}
	if Height3BE(key[:3]) != 42 {
		t.Fatalf("height mismatch")
	}
	if key[3] != 3 {
		t.Fatalf("dupId mismatch")
	}
}

func TestZCTxKeyUsesReservedPrefix(t *testing.T) {
	key := ZCTxKey(9)
	if key[0] != 0xFF || key[1] != 0xFF {
		t.Fatalf("expected 0xFFFF reserved prefix, got %x%x", key[0], key[1])
	}
}

func TestDBInfoRoundTrip(t *testing.T) {
	info := &DBInfo{
		Magic:          [4]byte{0xF9, 0xBE, 0xB4, 0xD9},
		Type:           DBTypeFull,
		TopBlockHeight: 123456,
	}
	info.Trailer.HighestUID = 777

	encoded := info.Encode()
	decoded, err := DecodeDBInfo(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if decoded.Magic != info.Magic {
		t.Fatalf("magic mismatch")
	}
	if decoded.Type != info.Type {
		t.Fatalf("type mismatch")
	}
	if decoded.TopBlockHeight != info.TopBlockHeight {
		t.Fatalf("height mismatch")
	}
	if decoded.Trailer.HighestUID != 777 {
		t.Fatalf("trailer mismatch: got %d", decoded.Trailer.HighestUID)
	}
}

func TestVerifyOpenDetectsMismatch(t *testing.T) {
	persisted := &DBInfo{Magic: [4]byte{1, 2, 3, 4}, Type: DBTypeFull}

	if err := VerifyOpen(persisted, [4]byte{1, 2, 3, 4}, DBTypeFull); err != nil {
		t.Fatalf("expected match, got %s", err)
	}
	if err := VerifyOpen(persisted, [4]byte{9, 9, 9, 9}, DBTypeFull); err == nil {
		t.Fatalf("expected magic mismatch error")
	}
	if err := VerifyOpen(persisted, [4]byte{1, 2, 3, 4}, DBTypeSuper); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}
