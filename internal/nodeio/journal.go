// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nodeio

import (
	"encoding/binary"

	"github.com/kvstore/filehash/internal/codec"
	"github.com/kvstore/filehash/internal/hash"
)

// Op is a journal operation code: the eight operation codes of spec §3,
// followed by four per-item checkpoint codes used by compaction and growth.
type Op int32

const (
	OpNone Op = iota
	OpSet
	OpDelete
	OpGrowLookupSection
	OpRebuildLookupTable
	OpWriteItemNodePointers
	OpTruncate
	OpClear

	// OpFuseStageItem and OpFuseResume checkpoint applyFuse's per-item
	// progress so replay never re-derives a relocated item from a source
	// region that item's own (self-overlapping) write may have already
	// partly overwritten. OpFuseStageItem names an item already copied to
	// the file's scratch tail (ItemPointer: its original offset,
	// LookupPointer: its slot back-pointer, Sync: its destination
	// frontier) awaiting the final commit copy; OpFuseResume names the
	// (read, frontier) cursor pair (ItemPointer, Sync) to resume the walk
	// from once an item -- staged or not -- has been fully committed.
	OpFuseStageItem
	OpFuseResume

	// OpGrowStageItem and OpGrowResume are relocateItemSection's analogues:
	// OpGrowStageItem names an item staged to scratch (ItemPointer: its
	// original offset, LookupPointer: the grow's target capacity) awaiting
	// commit to offset+shift; OpGrowResume (LookupPointer: target capacity,
	// ItemPointer: lowest offset already relocated) tells replay which
	// spans are done and must not be re-derived from their original bytes.
	OpGrowStageItem
	OpGrowResume
)

// JournalNode is the single fixed 32-byte record describing the next (or
// in-flight) mutation's intent, guarded by a CRC-32 over its first 28 bytes.
type JournalNode struct {
	Operation     Op
	LookupPointer int64
	ItemPointer   int64
	Sync          int64
}

func (j JournalNode) fields28() [28]byte {
	var b [28]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(j.Operation))
	binary.LittleEndian.PutUint64(b[4:12], uint64(j.LookupPointer))
	binary.LittleEndian.PutUint64(b[12:20], uint64(j.ItemPointer))
	binary.LittleEndian.PutUint64(b[20:28], uint64(j.Sync))
	return b
}

func (j JournalNode) checksum() int32 {
	b := j.fields28()
	return hash.Code(b[:])
}

// None is the journal's cleared state.
var None = JournalNode{Operation: OpNone}

func ReadJournal(r codec.ReaderAt) (JournalNode, error) {
	var j JournalNode
	op, err := codec.Int32(r, JournalOffset)
	if err != nil {
		return j, err
	}
	j.Operation = Op(op)
	if j.LookupPointer, err = codec.Int64(r, JournalOffset+4); err != nil {
		return j, err
	}
	if j.ItemPointer, err = codec.Int64(r, JournalOffset+12); err != nil {
		return j, err
	}
	if j.Sync, err = codec.Int64(r, JournalOffset+20); err != nil {
		return j, err
	}
	storedChecksum, err := codec.Int32(r, JournalOffset+28)
	if err != nil {
		return j, err
	}
	if storedChecksum != j.checksum() {
		// a mismatched checksum is treated as None, per spec §3.
		return None, nil
	}
	return j, nil
}

func WriteJournal(w codec.WriterAt, j JournalNode) error {
	if err := codec.PutInt32(w, JournalOffset, int32(j.Operation)); err != nil {
		return err
	}
	if err := codec.PutInt64(w, JournalOffset+4, j.LookupPointer); err != nil {
		return err
	}
	if err := codec.PutInt64(w, JournalOffset+12, j.ItemPointer); err != nil {
		return err
	}
	if err := codec.PutInt64(w, JournalOffset+20, j.Sync); err != nil {
		return err
	}
	return codec.PutInt32(w, JournalOffset+28, j.checksum())
}
