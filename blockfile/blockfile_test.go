package blockfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

var testMagic = [4]byte{0xF9, 0xBE, 0xB4, 0xD9}

func writeTestFile(t *testing.T, dir string, fileID uint32, blocks [][]byte, corruptTail bool) {
	t.Helper()
	var buf []byte
	for _, b := range blocks {
		buf = append(buf, testMagic[:]...)
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(b)))
		buf = append(buf, size[:]...)
		buf = append(buf, b...)
	}
	if corruptTail {
		buf = append(buf, testMagic[:]...)
		buf = append(buf, 0x01, 0x00, 0x00, 0x00) // declares 1 byte, none follows
	}
	path := filepath.Join(dir, blockFileName(fileID))
	if err := os.WriteFile(path, buf, 0600); err != nil {
		t.Fatalf("failed to write test block file: %s", err)
	}
}

func TestScanYieldsEachBlockInOrder(t *testing.T) {
	dir := t.TempDir()
	blocks := [][]byte{[]byte("block-one"), []byte("block-two"), []byte("block-three")}
	writeTestFile(t, dir, 0, blocks, false)

	r, err := Open(dir, 0, testMagic)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var got [][]byte
	_, err = r.Scan(0, func(e Entry) error {
		got = append(got, append([]byte(nil), e.Raw...))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected scan error: %s", err)
	}
	if len(got) != len(blocks) {
		t.Fatalf("expected %d blocks, got %d", len(blocks), len(got))
	}
	for i, b := range blocks {
		if string(got[i]) != string(b) {
			t.Fatalf("block %d mismatch: got %q want %q", i, got[i], b)
		}
	}
}

func TestScanSkipsTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, 1, [][]byte{[]byte("ok")}, true)

	r, err := Open(dir, 1, testMagic)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	count := 0
	_, err = r.Scan(0, func(e Entry) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected scan error: %s", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 valid block before the truncated tail, got %d", count)
	}
}

func TestEnumerateFilesOrdersByNumber(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, 2, [][]byte{[]byte("a")}, false)
	writeTestFile(t, dir, 0, [][]byte{[]byte("b")}, false)
	writeTestFile(t, dir, 1, [][]byte{[]byte("c")}, false)

	ids, err := EnumerateFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	want := []uint32{0, 1, 2}
	if len(ids) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %d want %d", i, ids[i], want[i])
		}
	}
}
