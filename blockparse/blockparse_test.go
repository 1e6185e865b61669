package blockparse

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func writeVarInt(buf *bytes.Buffer, v uint64) {
	buf.WriteByte(byte(v))
}

func buildTestBlock(prevHash [32]byte) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.LittleEndian, int32(1))
	buf.Write(prevHash[:])
	buf.Write(make([]byte, 32)) // merkle root
	binary.Write(buf, binary.LittleEndian, uint32(0))
	binary.Write(buf, binary.LittleEndian, uint32(0x1d00ffff))
	binary.Write(buf, binary.LittleEndian, uint32(0))

	writeVarInt(buf, 1) // tx count
	writeVarInt(buf, 1) // output count
	binary.Write(buf, binary.LittleEndian, uint64(5000000000))
	writeVarInt(buf, 3)
	buf.Write([]byte{0xAA, 0xBB, 0xCC})

	return buf.Bytes()
}

func TestParseAssignsHeightFromParent(t *testing.T) {
	var genesisHash [32]byte
	heights := map[[32]byte]uint32{genesisHash: 100}
	resolve := func(h [32]byte) (uint32, bool) {
		v, ok := heights[h]
		return v, ok
	}

	raw := buildTestBlock(genesisHash)
	block, err := parse(raw, 0, 0, resolve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if block.Header.Height != 101 {
		t.Fatalf("expected height 101, got %d", block.Header.Height)
	}
	if len(block.Txs) != 1 || len(block.Txs[0].Outputs) != 1 {
		t.Fatalf("expected one tx with one output, got %+v", block.Txs)
	}
	if block.Txs[0].Outputs[0].Value != 5000000000 {
		t.Fatalf("unexpected output value: %d", block.Txs[0].Outputs[0].Value)
	}
}

func TestParseDefaultsHeightZeroForUnknownParent(t *testing.T) {
	resolve := func(h [32]byte) (uint32, bool) { return 0, false }
	var prevHash [32]byte
	prevHash[0] = 0xFF

	raw := buildTestBlock(prevHash)
	block, err := parse(raw, 0, 0, resolve)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if block.Header.Height != 0 {
		t.Fatalf("expected height 0 for genesis-like block, got %d", block.Header.Height)
	}
}
