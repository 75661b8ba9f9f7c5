// Copyright 2021 The bit Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mph builds and reads the two-level minimal perfect hash index
// used by the snapshot package, adapted from the teacher's
// indexfile/in_memory_builder.go and indexfile/mph.go. Unlike the mutable
// engine's probe sequence (internal/hash), this index is built once over a
// fixed key set and never updated in place -- exactly the "hash, displace,
// and compress" algorithm from http://cmph.sourceforge.net/papers/esa09.pdf
// that the teacher's Builder/Table pair used for its own static files.
package mph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sort"

	"github.com/dgryski/go-farm"

	"github.com/kvstore/filehash/internal/bitset"
)

// ErrTooManyEntries is returned by Build if the key set is too large for a
// 32-bit level-1 table.
var ErrTooManyEntries = errors.New("mph: too many entries for a 32-bit index")

// ErrNoSeed is returned by Build if no seed could separate a bucket's keys,
// which would require an astronomically unlucky hash family.
var ErrNoSeed = errors.New("mph: couldn't find a displacement seed for a bucket")

const (
	magic          = uint32(0xC0FFEE02)
	formatVersion  = uint32(1)
	fileHeaderSize = 64
)

// Index is the in-memory result of Build: a minimal perfect hash over a
// fixed key set, mapping each key to the int64 offset supplied for it.
type Index struct {
	offsets []int64
	level0  []uint32
	level1  []uint32
}

// nextPow2 returns the next power of two >= n, or 1 if n <= 0.
func nextPow2(n int64) int64 {
	if n <= 0 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(uint64(n-1)))
}

type bucket struct {
	n      int64
	values []uint32
}

type byOccupancy []bucket

func (s byOccupancy) Len() int           { return len(s) }
func (s byOccupancy) Less(i, j int) bool { return len(s[i].values) > len(s[j].values) }
func (s byOccupancy) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Build constructs a minimal perfect hash over keys, where keys[i] maps to
// offsets[i]. keys must be distinct and len(keys) == len(offsets).
func Build(keys [][]byte, offsets []int64) (*Index, error) {
	if len(keys) != len(offsets) {
		return nil, fmt.Errorf("mph: len(keys)=%d != len(offsets)=%d", len(keys), len(offsets))
	}
	entryLen := int64(len(keys))
	level0Len := nextPow2(entryLen / 4)
	level1Len := nextPow2(entryLen)
	if level1Len >= (1<<32)-1 {
		return nil, ErrTooManyEntries
	}
	level0Mask := uint64(level0Len - 1)
	level1Mask := uint64(level1Len - 1)

	level0 := make([]uint32, level0Len)
	level1 := make([]uint32, level1Len)
	sparse := make([][]uint32, level0Len)
	for i, k := range keys {
		n := farm.Hash64WithSeed(k, 0) & level0Mask
		sparse[n] = append(sparse[n], uint32(i))
	}

	var buckets []bucket
	for n, vals := range sparse {
		if len(vals) > 0 {
			buckets = append(buckets, bucket{n: int64(n), values: vals})
		}
	}
	sort.Sort(byOccupancy(buckets))

	occ := bitset.New(level1Len)
	var tmpOcc []uint32
	for _, b := range buckets {
		seed := uint64(1)
	trySeed:
		if seed >= uint64(1)<<32 {
			return nil, ErrNoSeed
		}
		tmpOcc = tmpOcc[:0]
		for _, i := range b.values {
			n := uint32(farm.Hash64WithSeed(keys[i], seed) & level1Mask)
			if occ.IsSet(int64(n)) {
				for _, m := range tmpOcc {
					occ.Clear(int64(m))
				}
				seed++
				goto trySeed
			}
			occ.Set(int64(n))
			tmpOcc = append(tmpOcc, n)
			level1[n] = i
		}
		level0[b.n] = uint32(seed)
	}

	offsetsCopy := make([]int64, len(offsets))
	copy(offsetsCopy, offsets)

	return &Index{offsets: offsetsCopy, level0: level0, level1: level1}, nil
}

// Write serializes the index: a fixed-size header followed by the offsets,
// level0, and level1 arrays, each little-endian.
func (idx *Index) Write(w io.Writer) error {
	var header [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], formatVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(idx.offsets)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(idx.level0)))
	binary.LittleEndian.PutUint64(header[24:32], uint64(len(idx.level1)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("mph: write header: %w", err)
	}

	buf := make([]byte, 8)
	for _, o := range idx.offsets {
		binary.LittleEndian.PutUint64(buf, uint64(o))
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("mph: write offsets: %w", err)
		}
	}
	for _, v := range idx.level0 {
		binary.LittleEndian.PutUint32(buf[:4], v)
		if _, err := w.Write(buf[:4]); err != nil {
			return fmt.Errorf("mph: write level0: %w", err)
		}
	}
	for _, v := range idx.level1 {
		binary.LittleEndian.PutUint32(buf[:4], v)
		if _, err := w.Write(buf[:4]); err != nil {
			return fmt.Errorf("mph: write level1: %w", err)
		}
	}
	return nil
}

// Size returns the number of bytes Write will emit.
func (idx *Index) Size() int64 {
	return fileHeaderSize + int64(len(idx.offsets))*8 + int64(len(idx.level0))*4 + int64(len(idx.level1))*4
}

// AddBase shifts every stored offset by base, for callers (like snapshot)
// that build the index against offsets relative to a data section whose
// absolute position isn't known until the index's own size is fixed.
func (idx *Index) AddBase(base int64) {
	for i := range idx.offsets {
		idx.offsets[i] += base
	}
}

// Table reads a written Index back via random access, without loading the
// whole thing into memory -- the snapshot package backs this with an
// mmap'd golang.org/x/exp/mmap.ReaderAt over the combined snapshot file.
type Table struct {
	r          io.ReaderAt
	base       int64
	entryLen   int64
	level0Off  int64
	level0Mask uint64
	level1Off  int64
	level1Mask uint64
	offsetsOff int64
}

// OpenTable parses the Index header at base within r and returns a Table
// that reads the rest of the structure lazily via ReadAt.
func OpenTable(r io.ReaderAt, base int64) (*Table, error) {
	var header [fileHeaderSize]byte
	if _, err := r.ReadAt(header[:], base); err != nil {
		return nil, fmt.Errorf("mph: read header: %w", err)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return nil, fmt.Errorf("mph: bad magic %x", got)
	}
	if got := binary.LittleEndian.Uint32(header[4:8]); got != formatVersion {
		return nil, fmt.Errorf("mph: unsupported format version %d", got)
	}
	entryLen := int64(binary.LittleEndian.Uint64(header[8:16]))
	level0Len := int64(binary.LittleEndian.Uint64(header[16:24]))
	level1Len := int64(binary.LittleEndian.Uint64(header[24:32]))

	offsetsOff := base + fileHeaderSize
	level0Off := offsetsOff + entryLen*8
	level1Off := level0Off + level0Len*4

	return &Table{
		r:          r,
		base:       base,
		entryLen:   entryLen,
		level0Off:  level0Off,
		level0Mask: uint64(level0Len - 1),
		level1Off:  level1Off,
		level1Mask: uint64(level1Len - 1),
		offsetsOff: offsetsOff,
	}, nil
}

// Size reports how many bytes this table occupies starting at its base.
func (t *Table) Size() int64 {
	level1Len := int64(t.level1Mask + 1)
	return (t.level1Off - t.base) + level1Len*4
}

func (t *Table) readUint32(off int64) (uint32, error) {
	var b [4]byte
	if _, err := t.r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (t *Table) readInt64(off int64) (int64, error) {
	var b [8]byte
	if _, err := t.r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// MaybeLookup returns the offset key potentially maps to. As with any
// minimal perfect hash, a non-member key returns *some* valid-looking
// offset; callers MUST verify the key stored there actually matches.
func (t *Table) MaybeLookup(key []byte) (int64, error) {
	i0 := farm.Hash64WithSeed(key, 0) & t.level0Mask
	seed, err := t.readUint32(t.level0Off + int64(i0)*4)
	if err != nil {
		return 0, err
	}
	i1 := farm.Hash64WithSeed(key, uint64(seed)) & t.level1Mask
	n, err := t.readUint32(t.level1Off + int64(i1)*4)
	if err != nil {
		return 0, err
	}
	return t.readInt64(t.offsetsOff + int64(n)*8)
}

// Len is the number of entries the index was built over.
func (t *Table) Len() int64 { return t.entryLen }
