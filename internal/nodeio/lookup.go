// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nodeio

import "github.com/kvstore/filehash/internal/codec"

// Lookup slot sentinel itemPointer values (spec §3).
const (
	ItemPointerNeverOccupied int64 = 0
	ItemPointerTombstone     int64 = 1
)

// ReadLookupItemPointer reads slot p's itemPointer field.
func ReadLookupItemPointer(r codec.ReaderAt, mode Mode, p int64) (int64, error) {
	off := slotOffset(mode, p)
	return codec.Int64(r, off)
}

// WriteLookupItemPointer writes slot p's itemPointer field, leaving the
// marker (set mode) untouched.
func WriteLookupItemPointer(w codec.WriterAt, mode Mode, p, itemPointer int64) error {
	off := slotOffset(mode, p)
	return codec.PutInt64(w, off, itemPointer)
}

// ReadMarker reads slot p's 4-byte marker (set mode only).
func ReadMarker(r codec.ReaderAt, p int64) (int32, error) {
	off := slotOffset(ModeSet, p) + 8
	return codec.Int32(r, off)
}

// WriteMarker writes slot p's 4-byte marker (set mode only).
func WriteMarker(w codec.WriterAt, p int64, marker int32) error {
	off := slotOffset(ModeSet, p) + 8
	return codec.PutInt32(w, off, marker)
}

// ZeroLookupSlot clears both fields of slot p back to never-occupied.
func ZeroLookupSlot(w codec.WriterAt, mode Mode, p int64) error {
	if err := WriteLookupItemPointer(w, mode, p, ItemPointerNeverOccupied); err != nil {
		return err
	}
	if mode == ModeSet {
		return WriteMarker(w, p, 0)
	}
	return nil
}

func slotOffset(mode Mode, p int64) int64 {
	return LookupSectionOffset + p*mode.LookupNodeSize()
}

// IsLive reports whether an itemPointer value denotes a live slot relative
// to the current item section boundary: any value below itemSectionPointer
// other than the never-occupied/tombstone sentinels is treated as a
// tombstone too (spec §3).
func IsLive(itemPointer, itemSectionPointer int64) bool {
	return itemPointer >= itemSectionPointer
}

// IsNeverOccupied reports whether itemPointer denotes a slot that has never
// held a key.
func IsNeverOccupied(itemPointer int64) bool {
	return itemPointer == ItemPointerNeverOccupied
}

// IsTombstone reports whether itemPointer denotes a once-live, now-deleted
// slot -- either the canonical tombstone value or any other stale value
// below the item section boundary.
func IsTombstone(itemPointer, itemSectionPointer int64) bool {
	return itemPointer != ItemPointerNeverOccupied && itemPointer < itemSectionPointer
}
