// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/kvstore/filehash/internal/nodeio"
)

// ErrNotASet is returned by marker operations on a dictionary-mode file.
var ErrNotASet = fmt.Errorf("engine: marker operations require set mode")

// The marker engine (spec §4.9) gives the façade's set algebra O(N)
// bounded-memory IntersectWith/ExceptWith/SymmetricExceptWith: every slot
// carries one scratch 4-byte marker, reset and repopulated per call, so no
// second in-memory hash set is ever built. Markers are not journaled --
// they are transient scratch state for the duration of one algebra call,
// not part of the durable key/value contract, so an interrupted algebra
// call simply needs to be retried from ClearAllMarkers, not replayed.

// ClearAllMarkers resets every slot's marker to 0.
func (e *Engine) ClearAllMarkers() error {
	if e.mode != nodeio.ModeSet {
		return ErrNotASet
	}
	for p := int64(0); p < e.header.Capacity; p++ {
		if err := nodeio.WriteMarker(e.f, p, 0); err != nil {
			return err
		}
	}
	return nil
}

// MarkIfPresent sets key's marker to 1 if key is live, reporting whether it
// was found.
func (e *Engine) MarkIfPresent(key []byte) (found bool, err error) {
	if e.mode != nodeio.ModeSet {
		return false, ErrNotASet
	}
	res, err := e.Find(key)
	if err != nil {
		return false, err
	}
	if !res.Found {
		return false, nil
	}
	p := e.slotIndexOf(res.LookupPointer)
	if err := nodeio.WriteMarker(e.f, p, 1); err != nil {
		return false, err
	}
	return true, nil
}

// IsMarked reports whether key is live and, if so, whether its marker is set.
func (e *Engine) IsMarked(key []byte) (marked, found bool, err error) {
	if e.mode != nodeio.ModeSet {
		return false, false, ErrNotASet
	}
	res, err := e.Find(key)
	if err != nil {
		return false, false, err
	}
	if !res.Found {
		return false, false, nil
	}
	p := e.slotIndexOf(res.LookupPointer)
	m, err := nodeio.ReadMarker(e.f, p)
	if err != nil {
		return false, false, err
	}
	return m != 0, true, nil
}

// removeWhere deletes every live slot for which keep(marker) is false,
// returning the number removed.
func (e *Engine) removeWhere(keep func(marker int32) bool) (int64, error) {
	if e.mode != nodeio.ModeSet {
		return 0, ErrNotASet
	}
	var removed int64
	for p := int64(0); p < e.header.Capacity; p++ {
		itemPtr, err := nodeio.ReadLookupItemPointer(e.f, e.mode, p)
		if err != nil {
			return removed, err
		}
		if !nodeio.IsLive(itemPtr, e.header.ItemSectionPointer) {
			continue
		}
		m, err := nodeio.ReadMarker(e.f, p)
		if err != nil {
			return removed, err
		}
		if keep(m) {
			continue
		}
		if err := e.delete(Result{LookupPointer: e.lookupPointerOf(p)}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RemoveMarked deletes every live, marked slot.
func (e *Engine) RemoveMarked() (int64, error) {
	return e.removeWhere(func(m int32) bool { return m == 0 })
}

// RemoveUnmarked deletes every live, unmarked slot.
func (e *Engine) RemoveUnmarked() (int64, error) {
	return e.removeWhere(func(m int32) bool { return m != 0 })
}

func (e *Engine) countWhere(want func(marker int32) bool) (int64, error) {
	if e.mode != nodeio.ModeSet {
		return 0, ErrNotASet
	}
	var n int64
	for p := int64(0); p < e.header.Capacity; p++ {
		itemPtr, err := nodeio.ReadLookupItemPointer(e.f, e.mode, p)
		if err != nil {
			return n, err
		}
		if !nodeio.IsLive(itemPtr, e.header.ItemSectionPointer) {
			continue
		}
		m, err := nodeio.ReadMarker(e.f, p)
		if err != nil {
			return n, err
		}
		if want(m) {
			n++
		}
	}
	return n, nil
}

// CountMarked counts live, marked slots without removing anything.
func (e *Engine) CountMarked() (int64, error) {
	return e.countWhere(func(m int32) bool { return m != 0 })
}

// CountUnmarked counts live, unmarked slots without removing anything.
func (e *Engine) CountUnmarked() (int64, error) {
	return e.countWhere(func(m int32) bool { return m == 0 })
}
