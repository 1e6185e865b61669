package sshscan

import "encoding/binary"

// encodeTxioEntry packs one TxioUpdate into the fixed-width record
// appended to a Sub-SSH bucket: dupId(1B) | txKey(6B) | outIndex(2B) |
// value(8B) | isSpend(1B).
func encodeTxioEntry(u TxioUpdate) []byte {
	b := make([]byte, 1+6+2+8+1)
	b[0] = u.DupID
	copy(b[1:7], u.TxKey)
	binary.BigEndian.PutUint16(b[7:9], u.OutIndex)
	binary.BigEndian.PutUint64(b[9:17], u.Value)
	if u.IsSpend {
		b[17] = 1
	}
	return b
}

const summaryRecordLen = 8 + 8

// encodeSummary packs a Summary into its fixed-width SSH-table value.
func encodeSummary(s Summary) []byte {
	b := make([]byte, summaryRecordLen)
	binary.BigEndian.PutUint64(b[0:8], s.TotalValue)
	binary.BigEndian.PutUint64(b[8:16], s.TxCount)
	return b
}

// decodeSummary unpacks a Summary previously packed by encodeSummary.
func decodeSummary(b []byte) Summary {
	if len(b) < summaryRecordLen {
		return Summary{}
	}
	return Summary{
		TotalValue: binary.BigEndian.Uint64(b[0:8]),
		TxCount:    binary.BigEndian.Uint64(b[8:16]),
	}
}
