// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kvstore/filehash/internal/hash"
	"github.com/kvstore/filehash/internal/nodeio"
)

// ErrNotFound is returned by GetValue when no live slot holds the key (Find
// itself reports a miss through Result.Found instead).
var ErrNotFound = errors.New("engine: key not found")

// Result is the outcome of a probe sequence: the absolute file offset of the
// slot the key belongs in (whether or not it is currently live) and, if
// live, the item it points at.
type Result struct {
	LookupPointer int64
	ItemPointer   int64
	HashCode      int32
	Found         bool
}

func (e *Engine) lookupPointerOf(p int64) int64 {
	return nodeio.LookupSectionOffset + p*e.mode.LookupNodeSize()
}

func (e *Engine) slotIndexOf(lookupPointer int64) int64 {
	return (lookupPointer - nodeio.LookupSectionOffset) / e.mode.LookupNodeSize()
}

// Find walks the double-hash probe sequence for key, returning the slot the
// key occupies or would occupy, and the item pointer if already live. A
// miss returns the earliest tombstone seen along the probe, not the
// terminating never-occupied slot, so inserts reclaim reusable slots
// instead of leaving the table permanently sparser than it needs to be.
func (e *Engine) Find(key []byte) (Result, error) {
	code := hash.Code(key)
	fh := hash.FirstHash(code)
	co := hash.CollisionOffset(code)

	rebuildsDone := 0

restart:
	tombstoneRun := 0
	firstTombstone := int64(-1)
	for k := int64(0); k < e.header.Capacity; k++ {
		p := hash.Probe(fh, co, k, e.header.Capacity)
		itemPtr, err := nodeio.ReadLookupItemPointer(e.f, e.mode, p)
		if err != nil {
			return Result{}, err
		}

		switch {
		case nodeio.IsNeverOccupied(itemPtr):
			if firstTombstone >= 0 {
				return Result{LookupPointer: firstTombstone, HashCode: code}, nil
			}
			return Result{LookupPointer: e.lookupPointerOf(p), HashCode: code}, nil

		case nodeio.IsTombstone(itemPtr, e.header.ItemSectionPointer):
			if firstTombstone < 0 {
				firstTombstone = e.lookupPointerOf(p)
			}
			tombstoneRun++
			if tombstoneRun > 3 && rebuildsDone < maxRebuildsPerFind && !e.readOnly {
				rebuildsDone++
				if err := e.RebuildLookupTable(e.header.Capacity); err != nil {
					return Result{}, fmt.Errorf("engine: tombstone-triggered rebuild: %w", err)
				}
				goto restart
			}
			continue

		default:
			ih, err := nodeio.ReadItemHeader(e.f, itemPtr)
			if err != nil {
				return Result{}, err
			}
			if ih.HashCode == code {
				storedKey := make([]byte, ih.KeyLength)
				if _, err := e.f.ReadAt(storedKey, itemPtr+nodeio.ItemHeaderSize); err != nil {
					return Result{}, fmt.Errorf("engine: read key at %d: %w", itemPtr, err)
				}
				if bytes.Equal(storedKey, key) {
					return Result{
						LookupPointer: e.lookupPointerOf(p),
						ItemPointer:   itemPtr,
						HashCode:      code,
						Found:         true,
					}, nil
				}
			}
		}
	}
	return Result{}, fmt.Errorf("engine: probe sequence exhausted capacity %d without an empty slot", e.header.Capacity)
}

// GetValue is the indexer-read contract of spec §6 ("read of a missing key
// via the indexer -> key-not-found"): it finds key and reads its value,
// returning ErrNotFound on a miss instead of an ok-bool, as distinct from
// Find+ReadItem's lower-level "found" flag that Get-style callers use.
func (e *Engine) GetValue(key []byte) ([]byte, error) {
	res, err := e.Find(key)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, ErrNotFound
	}
	_, value, err := e.ReadItem(res.ItemPointer)
	return value, err
}

// readValue reads the value bytes of a live item (empty in set mode).
func (e *Engine) readValue(itemPtr int64, ih nodeio.ItemHeader) ([]byte, error) {
	valueLen := (ih.NextItemPointer - itemPtr - nodeio.ItemHeaderSize) - int64(ih.KeyLength)
	if valueLen <= 0 {
		return nil, nil
	}
	buf := make([]byte, valueLen)
	if _, err := e.f.ReadAt(buf, itemPtr+nodeio.ItemHeaderSize+int64(ih.KeyLength)); err != nil {
		return nil, fmt.Errorf("engine: read value at %d: %w", itemPtr, err)
	}
	return buf, nil
}

// ReadItem reads the key and value (nil in set mode) of the item at itemPtr.
func (e *Engine) ReadItem(itemPtr int64) (key, value []byte, err error) {
	ih, err := nodeio.ReadItemHeader(e.f, itemPtr)
	if err != nil {
		return nil, nil, err
	}
	key = make([]byte, ih.KeyLength)
	if _, err := e.f.ReadAt(key, itemPtr+nodeio.ItemHeaderSize); err != nil {
		return nil, nil, fmt.Errorf("engine: read key at %d: %w", itemPtr, err)
	}
	value, err = e.readValue(itemPtr, ih)
	return key, value, err
}
