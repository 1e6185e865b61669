package sshscan

import "testing"

func TestEncodeDecodeSummaryRoundTrip(t *testing.T) {
	s := Summary{TotalValue: 123456789, TxCount: 42}
	decoded := decodeSummary(encodeSummary(s))
	if decoded != s {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, s)
	}
}

func TestEncodeTxioEntryPacksFields(t *testing.T) {
	u := TxioUpdate{
		DupID:    3,
		TxKey:    []byte{1, 2, 3, 4, 5, 6},
		OutIndex: 7,
		Value:    1000,
		IsSpend:  true,
	}
	entry := encodeTxioEntry(u)
	if len(entry) != 1+6+2+8+1 {
		t.Fatalf("unexpected entry length: %d", len(entry))
	}
	if entry[0] != 3 {
		t.Fatalf("dupId mismatch")
	}
	if entry[len(entry)-1] != 1 {
		t.Fatalf("expected isSpend flag set")
	}
}
