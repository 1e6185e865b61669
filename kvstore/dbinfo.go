package kvstore

import (
	"encoding/binary"

	"github.com/blocksettledb/bdv-server/kvstore/recordpb"
	"github.com/pkg/errors"
)

// DBType identifies the schema a table's DB-info record was written
// against (spec.md §4.1: "Opening a DB whose DB-type does not match the
// configured type for table HEADERS is fatal").
type DBType byte

// Supported DB types.
const (
	DBTypeFull  DBType = 0x01
	DBTypeSuper DBType = 0x02
)

// DBInfo is the fixed, byte-exact record every table carries at
// DBInfoKey(): magic bytes, DB type, top-block height, top-scanned
// hash, plus a schema-specific trailer (spec.md §6).
type DBInfo struct {
	Magic           [4]byte
	Type            DBType
	TopBlockHeight  uint32
	TopScannedHash  [32]byte
	Trailer         recordpb.DBInfoTrailer
}

// Encode serializes the record to its on-disk byte-exact layout.
func (i *DBInfo) Encode() []byte {
	b := make([]byte, 0, 4+1+4+32)
	b = append(b, i.Magic[:]...)
	b = append(b, byte(i.Type))
	var height [4]byte
	binary.BigEndian.PutUint32(height[:], i.TopBlockHeight)
	b = append(b, height[:]...)
	b = append(b, i.TopScannedHash[:]...)
	b = append(b, i.Trailer.Marshal()...)
	return b
}

// DecodeDBInfo parses a record previously produced by Encode.
func DecodeDBInfo(b []byte) (*DBInfo, error) {
	const fixedLen = 4 + 1 + 4 + 32
	if len(b) < fixedLen {
		return nil, errors.New("dbinfo: record too short")
	}
	i := &DBInfo{}
	copy(i.Magic[:], b[0:4])
	i.Type = DBType(b[4])
	i.TopBlockHeight = binary.BigEndian.Uint32(b[5:9])
	copy(i.TopScannedHash[:], b[9:41])
	if len(b) > fixedLen {
		if err := i.Trailer.Unmarshal(b[fixedLen:]); err != nil {
			return nil, errors.Wrap(err, "dbinfo: malformed trailer")
		}
	}
	return i, nil
}

// VerifyOpen checks the persisted record against the configured magic
// and DB type, per the fatal-on-mismatch contract of spec.md §4.1.
func VerifyOpen(persisted *DBInfo, wantMagic [4]byte, wantType DBType) error {
	if persisted.Magic != wantMagic {
		return errors.Wrapf(ErrMagicMismatch, "persisted %x, configured %x", persisted.Magic, wantMagic)
	}
	if persisted.Type != wantType {
		return errors.Wrapf(ErrDBTypeMismatch, "persisted %v, configured %v", persisted.Type, wantType)
	}
	return nil
}
