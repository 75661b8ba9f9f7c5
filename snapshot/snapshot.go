// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package snapshot exports a point-in-time, read-only copy of a filehash
// Map or Set: a single mmap'd file combining a minimal-perfect-hash index
// (internal/mph) with a datafile-style record blob, adapted from the
// teacher's Builder/Table/indexfile.Table machinery (builder.go, table.go,
// indexfile/mph.go, datafile/*.go). Unlike the mutable engine, a snapshot
// is built once over a fixed key set and never edited in place -- exactly
// the restriction the teacher's own Table always had.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgryski/go-farm"
	"golang.org/x/exp/mmap"

	"github.com/kvstore/filehash/internal/mph"
)

const (
	magic             = uint32(0xC0FFEE03)
	formatVersion     = uint32(1)
	outerHeaderSize   = 64
	recordHeaderSize  = 4 + 4 + 4 // value checksum + key length + value length
	defaultBufferSize = 4 * 1024 * 1024
)

// rawEntry is one exported (key, value) pair in the order it will be
// written to the record blob.
type rawEntry struct {
	key   []byte
	value []byte
}

// Source is anything a snapshot can be built from: Map.All and Set.All
// both satisfy this once adapted by the filehash package's export helpers.
type Source interface {
	// Entries yields every (key, value) pair to export, in any order.
	// Set sources yield a nil value for every entry.
	Entries(yield func(key, value []byte) bool) error
}

// Export writes a complete snapshot file to w: the header, the
// minimal-perfect-hash index, and the record blob, in that order.
func Export(w io.Writer, src Source, signature [16]byte) error {
	var entries []rawEntry
	if err := src.Entries(func(key, value []byte) bool {
		entries = append(entries, rawEntry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
		return true
	}); err != nil {
		return fmt.Errorf("snapshot: collect entries: %w", err)
	}

	keys := make([][]byte, len(entries))
	localOffsets := make([]int64, len(entries))
	var off int64
	for i, e := range entries {
		keys[i] = e.key
		localOffsets[i] = off
		off += int64(recordHeaderSize + len(e.key) + len(e.value))
	}
	blobLen := off

	idx, err := mph.Build(keys, localOffsets)
	if err != nil {
		return fmt.Errorf("snapshot: mph.Build: %w", err)
	}
	dataBase := int64(outerHeaderSize) + idx.Size()
	idx.AddBase(dataBase)

	bw := bufio.NewWriterSize(w, defaultBufferSize)

	var header [outerHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], formatVersion)
	copy(header[8:24], signature[:])
	binary.LittleEndian.PutUint64(header[24:32], uint64(len(entries)))
	binary.LittleEndian.PutUint64(header[32:40], uint64(dataBase))
	binary.LittleEndian.PutUint64(header[40:48], uint64(blobLen))
	if _, err := bw.Write(header[:]); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	if err := idx.Write(bw); err != nil {
		return fmt.Errorf("snapshot: write index: %w", err)
	}

	recHeader := make([]byte, recordHeaderSize)
	for _, e := range entries {
		checksum := uint32(farm.Hash64(e.value))
		binary.LittleEndian.PutUint32(recHeader[0:4], checksum)
		binary.LittleEndian.PutUint32(recHeader[4:8], uint32(len(e.key)))
		binary.LittleEndian.PutUint32(recHeader[8:12], uint32(len(e.value)))
		if _, err := bw.Write(recHeader); err != nil {
			return fmt.Errorf("snapshot: write record header: %w", err)
		}
		if _, err := bw.Write(e.key); err != nil {
			return fmt.Errorf("snapshot: write record key: %w", err)
		}
		if len(e.value) > 0 {
			if _, err := bw.Write(e.value); err != nil {
				return fmt.Errorf("snapshot: write record value: %w", err)
			}
		}
	}

	return bw.Flush()
}

// Reader is a read-only, mmap'd view of an exported snapshot file.
type Reader struct {
	mm        *mmap.ReaderAt
	idx       *mph.Table
	count     int64
	dataBase  int64
	blobLen   int64
	signature [16]byte
}

// Open mmaps the snapshot file at path and parses its header and index.
func Open(path string) (*Reader, error) {
	mm, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: mmap.Open(%s): %w", path, err)
	}

	var header [outerHeaderSize]byte
	if _, err := mm.ReadAt(header[:], 0); err != nil {
		_ = mm.Close()
		return nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		_ = mm.Close()
		return nil, fmt.Errorf("snapshot: bad magic %x", got)
	}
	if got := binary.LittleEndian.Uint32(header[4:8]); got != formatVersion {
		_ = mm.Close()
		return nil, fmt.Errorf("snapshot: unsupported format version %d", got)
	}
	var signature [16]byte
	copy(signature[:], header[8:24])
	count := int64(binary.LittleEndian.Uint64(header[24:32]))
	dataBase := int64(binary.LittleEndian.Uint64(header[32:40]))
	blobLen := int64(binary.LittleEndian.Uint64(header[40:48]))

	idx, err := mph.OpenTable(mm, outerHeaderSize)
	if err != nil {
		_ = mm.Close()
		return nil, fmt.Errorf("snapshot: mph.OpenTable: %w", err)
	}

	return &Reader{mm: mm, idx: idx, count: count, dataBase: dataBase, blobLen: blobLen, signature: signature}, nil
}

// Signature returns the source container's 16-byte file-kind tag.
func (r *Reader) Signature() [16]byte { return r.signature }

// Len is the number of entries in the snapshot.
func (r *Reader) Len() int64 { return r.count }

// Get looks up key and returns its value (nil for a set-derived snapshot),
// reporting whether key was present at export time.
func (r *Reader) Get(key []byte) (value []byte, found bool, err error) {
	if r.count == 0 {
		return nil, false, nil
	}
	off, err := r.idx.MaybeLookup(key)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: MaybeLookup: %w", err)
	}
	if off < r.dataBase || off+recordHeaderSize > r.dataBase+r.blobLen {
		// expected: a non-member key can hash to a bogus-looking offset.
		return nil, false, nil
	}
	var recHeader [recordHeaderSize]byte
	if _, err := r.mm.ReadAt(recHeader[:], off); err != nil {
		return nil, false, nil
	}
	checksum := binary.LittleEndian.Uint32(recHeader[0:4])
	keyLen := int64(binary.LittleEndian.Uint32(recHeader[4:8]))
	valueLen := int64(binary.LittleEndian.Uint32(recHeader[8:12]))
	if off+recordHeaderSize+keyLen+valueLen > r.dataBase+r.blobLen {
		return nil, false, nil
	}

	gotKey := make([]byte, keyLen)
	if _, err := r.mm.ReadAt(gotKey, off+recordHeaderSize); err != nil {
		return nil, false, fmt.Errorf("snapshot: read key: %w", err)
	}
	if string(gotKey) != string(key) {
		// expected: the MPH gives a *potential* index for any lookup,
		// member or not.
		return nil, false, nil
	}
	gotValue := make([]byte, valueLen)
	if valueLen > 0 {
		if _, err := r.mm.ReadAt(gotValue, off+recordHeaderSize+keyLen); err != nil {
			return nil, false, fmt.Errorf("snapshot: read value: %w", err)
		}
	}
	if uint32(farm.Hash64(gotValue)) != checksum {
		return nil, false, fmt.Errorf("snapshot: checksum mismatch at offset %d: corrupted snapshot", off)
	}
	return gotValue, true, nil
}

// Close unmaps the snapshot file.
func (r *Reader) Close() error { return r.mm.Close() }
