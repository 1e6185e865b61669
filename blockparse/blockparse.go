// Package blockparse deserializes raw block bytes read off disk by
// blockfile into the dbbuilder.BlockData shape. Varint framing follows
// the teacher's wire.ReadVarInt (wire/common.go); the single-prev-hash
// header layout matches headerindex.Header rather than the teacher's
// multi-parent BlockHeader, since spec.md's chain model is a linear
// Bitcoin-style header chain rather than a DAG.
package blockparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/big"

	"github.com/blocksettledb/bdv-server/dbbuilder"
	"github.com/blocksettledb/bdv-server/headerindex"
	"github.com/pkg/errors"
)

// headerSize is the fixed-width portion of a classic block header:
// version(4) + prevHash(32) + merkleRoot(32) + time(4) + bits(4) + nonce(4).
const headerSize = 4 + 32 + 32 + 4 + 4 + 4

func readVarInt(r *bytes.Reader) (uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0xfd:
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xfe:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xff:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return v, nil
	default:
		return uint64(b), nil
	}
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// difficultyFromBits expands a compact nBits target into its work
// value, 2**256 / (target+1), the same quantity headerindex sums to
// pick the best chain.
func difficultyFromBits(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	target := new(big.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
	} else {
		target.Lsh(target, uint(8*(exponent-3)))
	}
	if target.Sign() == 0 {
		return big.NewInt(1)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	maxWork := new(big.Int).Lsh(big.NewInt(1), 256)
	return new(big.Int).Div(maxWork, denom)
}

// HeightResolver looks up the height of an already-indexed header by
// hash, so NewParseFunc can assign each newly parsed header's height as
// parent height + 1 without re-deriving the whole chain itself.
type HeightResolver func(hash [32]byte) (uint32, bool)

// NewParseFunc builds a dbbuilder.ParseBlockFunc bound to resolve,
// which the builder's streamLoadHeaders calls against headerindex.Index
// as headers are added one at a time, so every parent is already
// indexed by the time its children are parsed.
func NewParseFunc(resolve HeightResolver) dbbuilder.ParseBlockFunc {
	return func(raw []byte, fileID uint32, offset uint64) (dbbuilder.BlockData, error) {
		return parse(raw, fileID, offset, resolve)
	}
}

func parse(raw []byte, fileID uint32, offset uint64, resolve HeightResolver) (dbbuilder.BlockData, error) {
	if len(raw) < headerSize {
		return dbbuilder.BlockData{}, errors.New("blockparse: truncated header")
	}
	r := bytes.NewReader(raw)

	headerRaw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerRaw); err != nil {
		return dbbuilder.BlockData{}, err
	}

	var prevHash, merkleRoot [32]byte
	copy(prevHash[:], headerRaw[4:36])
	copy(merkleRoot[:], headerRaw[36:68])
	_ = merkleRoot
	bits := binary.LittleEndian.Uint32(headerRaw[72:76])

	hash := doubleSHA256(headerRaw)

	height := uint32(0)
	if parentHeight, ok := resolve(prevHash); ok {
		height = parentHeight + 1
	}

	txCount, err := readVarInt(r)
	if err != nil {
		return dbbuilder.BlockData{}, errors.Wrap(err, "blockparse: reading tx count")
	}

	txs := make([]dbbuilder.TxData, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		txStart := len(raw) - r.Len()

		outCount, err := readVarInt(r)
		if err != nil {
			return dbbuilder.BlockData{}, errors.Wrap(err, "blockparse: reading output count")
		}
		outputs := make([]dbbuilder.OutputData, 0, outCount)
		for o := uint64(0); o < outCount; o++ {
			var value uint64
			if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
				return dbbuilder.BlockData{}, errors.Wrap(err, "blockparse: reading output value")
			}
			scriptLen, err := readVarInt(r)
			if err != nil {
				return dbbuilder.BlockData{}, errors.Wrap(err, "blockparse: reading script length")
			}
			script := make([]byte, scriptLen)
			if _, err := io.ReadFull(r, script); err != nil {
				return dbbuilder.BlockData{}, errors.Wrap(err, "blockparse: reading script")
			}
			outputs = append(outputs, dbbuilder.OutputData{ScrAddr: script, Value: value})
		}

		txEnd := len(raw) - r.Len()
		txHash := doubleSHA256(raw[txStart:txEnd])

		txs = append(txs, dbbuilder.TxData{Hash: txHash, TxIndex: uint16(i), Outputs: outputs})
	}

	return dbbuilder.BlockData{
		Header: headerindex.Header{
			Hash:       hash,
			PrevHash:   prevHash,
			Difficulty: difficultyFromBits(bits),
			Height:     height,
		},
		FileID: fileID,
		Offset: offset,
		Size:   uint32(len(raw)),
		Txs:    txs,
	}, nil
}
