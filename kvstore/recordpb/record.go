// Package recordpb holds the handful of persisted records that are not
// byte-exact per spec.md §6 (those are encoded directly by kvstore) but
// still benefit from a self-describing wire format: the DB-info
// schema-specific trailer and the per-output metadata cached alongside
// a ZC's raw bytes in the ZERO_CONF table. Both are encoded with
// protobuf's wire format via protowire, following the teacher's use of
// golang/protobuf-generated records in blockheaderstore.go — there is
// no .proto/protoc toolchain available here, so the field layout below
// is hand-written against the same wire encoding protoc would produce.
package recordpb

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ZCOutputRecord is the per-output metadata cached next to a ZC's raw
// transaction bytes in the ZERO_CONF table (scrAddr + value, the same
// fields the preprocess stage resolves for each output).
type ZCOutputRecord struct {
	ScrAddr []byte
	Value   uint64
}

const (
	fieldZCOutputScrAddr = 1
	fieldZCOutputValue   = 2
)

// Marshal encodes r using protobuf wire format.
func (r *ZCOutputRecord) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldZCOutputScrAddr, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ScrAddr)
	b = protowire.AppendTag(b, fieldZCOutputValue, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Value)
	return b
}

// Unmarshal decodes b produced by Marshal into r.
func (r *ZCOutputRecord) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.New("recordpb: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldZCOutputScrAddr:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errors.New("recordpb: malformed scrAddr field")
			}
			r.ScrAddr = append([]byte(nil), v...)
			b = b[n:]
		case fieldZCOutputValue:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.New("recordpb: malformed value field")
			}
			r.Value = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.New("recordpb: malformed unknown field")
			}
			b = b[n:]
		}
	}
	return nil
}

// DBInfoTrailer is the schema-specific trailer appended after a table's
// fixed DB-info prefix (spec.md §6). For HEADERS it records the highest
// assigned header uid; for SSH/SUBSSH it records the scan generation.
type DBInfoTrailer struct {
	HighestUID     uint64
	ScanGeneration uint64
}

const (
	fieldTrailerHighestUID     = 1
	fieldTrailerScanGeneration = 2
)

// Marshal encodes t using protobuf wire format.
func (t *DBInfoTrailer) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTrailerHighestUID, protowire.VarintType)
	b = protowire.AppendVarint(b, t.HighestUID)
	b = protowire.AppendTag(b, fieldTrailerScanGeneration, protowire.VarintType)
	b = protowire.AppendVarint(b, t.ScanGeneration)
	return b
}

// Unmarshal decodes b produced by Marshal into t.
func (t *DBInfoTrailer) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.New("recordpb: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldTrailerHighestUID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.New("recordpb: malformed highestUid field")
			}
			t.HighestUID = v
			b = b[n:]
		case fieldTrailerScanGeneration:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errors.New("recordpb: malformed scanGeneration field")
			}
			t.ScanGeneration = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.New("recordpb: malformed unknown field")
			}
			b = b[n:]
		}
	}
	return nil
}
