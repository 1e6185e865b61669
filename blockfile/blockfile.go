// Package blockfile reads the raw block .dat files the database
// builder scans (spec.md §6): magic bytes (4B), length (4B LE), raw
// block, repeated, files numbered consecutively. This is pure framed
// file I/O with no protocol logic worth pulling a dependency in for, so
// it is built directly on the standard library (see DESIGN.md).
package blockfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	magicLen  = 4
	lengthLen = 4
	headerLen = magicLen + lengthLen
)

// Entry describes one block located within a file: its byte offset
// (start of the magic marker) and the size of the raw block payload.
type Entry struct {
	FileID uint32
	Offset uint64
	Size   uint32
	Raw    []byte
}

// Reader scans a single numbered block file.
type Reader struct {
	fileID uint32
	magic  [4]byte
	data   []byte
}

// Open reads the entire block file denoted by fileID from dir into
// memory (block files are bounded in size by the original node's own
// rotation policy, so a full read is safe and matches the teacher's
// flat-file store access pattern).
func Open(dir string, fileID uint32, magic [4]byte) (*Reader, error) {
	path := filepath.Join(dir, blockFileName(fileID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read block file %s", path)
	}
	return &Reader{fileID: fileID, magic: magic, data: data}, nil
}

func blockFileName(fileID uint32) string {
	return "blk" + padFileID(fileID) + ".dat"
}

func padFileID(fileID uint32) string {
	const width = 5
	s := []byte{'0', '0', '0', '0', '0'}
	for i := width - 1; i >= 0 && fileID > 0; i-- {
		s[i] = byte('0' + fileID%10)
		fileID /= 10
	}
	return string(s)
}

// Scan walks the file from offset startOffset, yielding one Entry per
// located block via yield. A short tail with no magic is skipped
// silently; a missing magic within the middle of the file triggers a
// forward scan for the next occurrence of the magic bytes rather than
// aborting the whole file.
func (r *Reader) Scan(startOffset uint64, yield func(Entry) error) (maxOffset uint64, err error) {
	pos := startOffset
	maxOffset = startOffset

	for pos+headerLen <= uint64(len(r.data)) {
		if !bytes.Equal(r.data[pos:pos+magicLen], r.magic[:]) {
			next := bytes.Index(r.data[pos+1:], r.magic[:])
			if next < 0 {
				// No further magic in this file; treat the remainder as a
				// short, unwritten tail.
				break
			}
			pos = pos + 1 + uint64(next)
			continue
		}

		size := binary.LittleEndian.Uint32(r.data[pos+magicLen : pos+headerLen])
		blockStart := pos + headerLen
		blockEnd := blockStart + uint64(size)
		if blockEnd > uint64(len(r.data)) {
			// Truncated block at tail: stop, do not error the whole file.
			break
		}

		raw := r.data[blockStart:blockEnd]
		entry := Entry{FileID: r.fileID, Offset: pos, Size: size, Raw: raw}
		if err := yield(entry); err != nil {
			return maxOffset, err
		}

		pos = blockEnd
		maxOffset = pos
	}

	return maxOffset, nil
}

// ReadAt returns the raw block bytes at (fileID, offset) for lazy
// deserialization, re-opening the file if necessary.
func ReadAt(dir string, fileID uint32, offset uint64, magic [4]byte) ([]byte, error) {
	r, err := Open(dir, fileID, magic)
	if err != nil {
		return nil, err
	}
	if offset+headerLen > uint64(len(r.data)) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "offset %d out of range in file %d", offset, fileID)
	}
	if !bytes.Equal(r.data[offset:offset+magicLen], magic[:]) {
		return nil, errors.Errorf("blockfile: no magic at offset %d in file %d", offset, fileID)
	}
	size := binary.LittleEndian.Uint32(r.data[offset+magicLen : offset+headerLen])
	start := offset + headerLen
	end := start + uint64(size)
	if end > uint64(len(r.data)) {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "block at offset %d truncated in file %d", offset, fileID)
	}
	return r.data[start:end], nil
}

// EnumerateFiles lists the numbered block files present in dir, ordered
// by file number (spec.md §4.3 step 1).
func EnumerateFiles(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to enumerate block files in %s", dir)
	}
	var ids []uint32
	for _, e := range entries {
		name := e.Name()
		if len(name) != len("blk00000.dat") || name[:3] != "blk" || filepath.Ext(name) != ".dat" {
			continue
		}
		var id uint32
		for i := 3; i < 8; i++ {
			if name[i] < '0' || name[i] > '9' {
				id = 0
				continue
			}
			id = id*10 + uint32(name[i]-'0')
		}
		ids = append(ids, id)
	}
	sortUint32s(ids)
	return ids, nil
}

func sortUint32s(ids []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
