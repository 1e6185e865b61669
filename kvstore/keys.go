package kvstore

import "encoding/binary"

// Table-within-table discriminator bytes (spec.md §6). Every key in the
// HEADERS/BLKDATA/TXHINTS/SSH/SUBSSH/ZERO_CONF tables is prefixed by
// one of these; STXO and SPENTNESS keys carry no discriminator byte.
const (
	PrefixHeaderByHash   byte = 0x01
	PrefixHeaderByHeight byte = 0x06
	PrefixTxHints        byte = 0x02
	PrefixSSH            byte = 0x03
	PrefixSubSSH         byte = 0x03 // Sub-SSH shares the SSH prefix, keyed by the longer form.
	PrefixZCData         byte = 0x04
	PrefixDBInfo         byte = 0x05
	PrefixSTXO           byte = 0x07
	PrefixSpentness      byte = 0x08
)

// Named tables (spec.md §4.1).
const (
	TableHeaders     = "HEADERS"
	TableBlkData     = "BLKDATA"
	TableTxHints     = "TXHINTS"
	TableSSH         = "SSH"
	TableSubSSH      = "SUBSSH"
	TableSubSSHMeta  = "SUBSSH_META"
	TableSTXO        = "STXO"
	TableZeroConf    = "ZERO_CONF"
	TableTxFilters   = "TXFILTERS"
	TableSpentness   = "SPENTNESS"
)

// AllTables lists every named table the KV store must expose.
var AllTables = []string{
	TableHeaders, TableBlkData, TableTxHints, TableSSH, TableSubSSH,
	TableSubSSHMeta, TableSTXO, TableZeroConf, TableTxFilters, TableSpentness,
}

// DBInfoKey is the fixed key holding a table's DB-info record.
func DBInfoKey() []byte {
	return []byte{PrefixDBInfo}
}

// HeaderByHashKey builds the HEADHASH-style lookup key for a block hash.
func HeaderByHashKey(hash []byte) []byte {
	k := make([]byte, 0, 1+len(hash))
	k = append(k, PrefixHeaderByHash)
	return append(k, hash...)
}

// HeaderByHeightKey builds the HEADHGT-style lookup key for (height, dupId).
func HeaderByHeightKey(height uint32, dupID byte) []byte {
	k := make([]byte, 6)
	k[0] = PrefixHeaderByHeight
	putHeight3BE(k[1:4], height)
	k[4] = dupID
	return k[:5]
}

// SSHKey builds the SSH summary key: 0x03 || scrAddr.
func SSHKey(scrAddr []byte) []byte {
	k := make([]byte, 0, 1+len(scrAddr))
	k = append(k, PrefixSSH)
	return append(k, scrAddr...)
}

// SubSSHKey builds the Sub-SSH bucket key: 0x03 || scrAddr || heightX(4B),
// where heightX packs height(3B BE) | dupId(1B).
func SubSSHKey(scrAddr []byte, height uint32, dupID byte) []byte {
	k := make([]byte, 0, 1+len(scrAddr)+4)
	k = append(k, PrefixSubSSH)
	k = append(k, scrAddr...)
	var heightX [4]byte
	putHeight3BE(heightX[:3], height)
	heightX[3] = dupID
	return append(k, heightX[:]...)
}

// TxKey builds the 6-byte mined-tx key: height(3B BE) | dupId(1B) | txIndex(2B BE).
func TxKey(height uint32, dupID byte, txIndex uint16) []byte {
	k := make([]byte, 6)
	putHeight3BE(k[0:3], height)
	k[3] = dupID
	binary.BigEndian.PutUint16(k[4:6], txIndex)
	return k
}

// STXOKey builds the STXO key: txKey(6B) || outIndex(2B BE).
func STXOKey(txKey []byte, outIndex uint16) []byte {
	k := make([]byte, 0, 6+2)
	k = append(k, txKey...)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], outIndex)
	return append(k, idx[:]...)
}

// ZCTxKey builds the ephemeral ZC tx key: 0xFFFF || zcId(4B BE).
func ZCTxKey(zcID uint32) []byte {
	k := make([]byte, 6)
	k[0], k[1] = 0xFF, 0xFF
	binary.BigEndian.PutUint32(k[2:6], zcID)
	return k
}

// ZCDBTxKey builds the ZC DB record key for the tx itself: 0x04 || zcKey.
func ZCDBTxKey(zcKey []byte) []byte {
	k := make([]byte, 0, 1+len(zcKey))
	k = append(k, PrefixZCData)
	return append(k, zcKey...)
}

// ZCDBOutputKey builds the ZC DB record key for one output:
// 0x04 || zcKey || outIdx(2B BE).
func ZCDBOutputKey(zcKey []byte, outIdx uint16) []byte {
	k := ZCDBTxKey(zcKey)
	var idx [2]byte
	binary.BigEndian.PutUint16(idx[:], outIdx)
	return append(k, idx[:]...)
}

// TxHintsKey builds the TXHINTS key: 0x02 || first4(txhash).
func TxHintsKey(txHash []byte) []byte {
	k := make([]byte, 5)
	k[0] = PrefixTxHints
	copy(k[1:5], txHash[:4])
	return k
}

// FilterPoolKey builds the per-file transaction-hash filter key.
func FilterPoolKey(fileNum uint32) []byte {
	k := make([]byte, 5)
	k[0] = 'F'
	binary.BigEndian.PutUint32(k[1:5], fileNum)
	return k
}

// SpentnessKey builds the supernode spentness key:
// hgtx(4B) || txIndex(2B) || outIndex(2B).
func SpentnessKey(height uint32, txIndex, outIndex uint16) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint32(k[0:4], height)
	binary.BigEndian.PutUint16(k[4:6], txIndex)
	binary.BigEndian.PutUint16(k[6:8], outIndex)
	return k
}

func putHeight3BE(dst []byte, height uint32) {
	dst[0] = byte(height >> 16)
	dst[1] = byte(height >> 8)
	dst[2] = byte(height)
}

// Height3BE decodes a 3-byte big-endian height back into a uint32.
func Height3BE(src []byte) uint32 {
	return uint32(src[0])<<16 | uint32(src[1])<<8 | uint32(src[2])
}
