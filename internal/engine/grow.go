// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/kvstore/filehash/internal/hash"
	"github.com/kvstore/filehash/internal/nodeio"
)

// Grow doubles the lookup section's capacity and relocates the item
// section to make room for it, per spec §4.7.
//
// The teacher's source performs this relocation by copying only the live
// items forward from a frontier that "jumps ahead" to the new item section
// start when the old end of file falls short of it, skipping orphans as it
// goes. That optimization requires the in-flight item frontier and the
// still-unread old item section to never overlap, which is only true for
// specific relationships between item size and the capacity-driven lookup
// section growth. This implementation instead always compacts first (so
// the item section holds no orphans and is exactly known-length), then
// relocates every surviving item by one uniform offset (see
// relocateItemSection below for how self-overlapping items and crash
// recovery are handled; see DESIGN.md's resolution of the grow/jump-ahead
// open question).
func (e *Engine) Grow() error {
	if e.readOnly {
		return ErrReadOnly
	}
	if err := e.Compact(); err != nil {
		return fmt.Errorf("engine: Grow: pre-compact: %w", err)
	}

	newCapacity := e.header.Capacity * 2
	j := nodeio.JournalNode{Operation: nodeio.OpGrowLookupSection, Sync: newCapacity}
	if err := nodeio.WriteJournal(e.f, j); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	if err := e.applyGrow(j); err != nil {
		return err
	}
	return e.clearJournal()
}

// applyGrow relocates the item section (if not already done) and always
// re-runs the lookup table rebuild, so that replaying after a crash at any
// point during this operation converges on the same final state.
func (e *Engine) applyGrow(j nodeio.JournalNode) error {
	var newCapacity int64
	switch j.Operation {
	case nodeio.OpGrowStageItem, nodeio.OpGrowResume:
		newCapacity = j.LookupPointer
	default:
		newCapacity = j.Sync
	}
	targetItemSectionPointer := nodeio.LookupSectionOffset + newCapacity*e.mode.LookupNodeSize()

	if e.header.ItemSectionPointer != targetItemSectionPointer {
		if err := e.relocateItemSection(j, targetItemSectionPointer, newCapacity); err != nil {
			return fmt.Errorf("engine: relocateItemSection: %w", err)
		}
	}

	return e.applyRebuild(newCapacity)
}

type itemSpan struct{ offset, length int64 }

// relocateItemSection shifts every (already-compacted, contiguous) item in
// the section rightward by a uniform offset to make room for the larger
// lookup section, walking from the highest original offset down to the
// lowest: every already-relocated item's destination lies strictly beyond
// any not-yet-relocated item's source range (shift is always >= 128 bytes,
// the minimum capacity's minimum lookup-node size, a whole item header and
// then some), so this order is safe even when destination and source
// ranges overlap (standard memmove-right proof) -- for any OTHER item. An
// item can still self-overlap its own original span when shift is smaller
// than the item's own length, common for small values during an early
// grow; redoing that specific item's move a second time would then read
// back its own partially-overwritten bytes. relocateItemSection stages such
// items through scratch, same as applyFuse, and checkpoints the lowest
// offset already relocated so replay never re-derives a relocated span.
func (e *Engine) relocateItemSection(j nodeio.JournalNode, targetItemSectionPointer, newCapacity int64) error {
	oldItemSectionPointer := e.header.ItemSectionPointer
	oldEOF := e.header.EndOfFilePointer
	shift := targetItemSectionPointer - oldItemSectionPointer
	newEOF := oldEOF + shift
	scratch := newEOF

	if e.f.Len() < newEOF {
		if err := e.f.Truncate(newEOF); err != nil {
			return err
		}
	}

	resumeBelow := oldEOF
	switch j.Operation {
	case nodeio.OpGrowStageItem:
		staged, err := nodeio.ReadItemHeader(e.f, scratch)
		if err != nil {
			return err
		}
		dst := j.ItemPointer + shift
		length := staged.NextItemPointer - dst
		if err := e.copyItem(scratch, dst, length, staged, staged.NextItemPointer); err != nil {
			return err
		}
		resumeBelow = j.ItemPointer
		resume := nodeio.JournalNode{Operation: nodeio.OpGrowResume, LookupPointer: newCapacity, ItemPointer: resumeBelow}
		if err := nodeio.WriteJournal(e.f, resume); err != nil {
			return err
		}
		if err := e.f.Flush(); err != nil {
			return err
		}
	case nodeio.OpGrowResume:
		resumeBelow = j.ItemPointer
	}

	// Only spans below resumeBelow still need relocating, and only their
	// headers are guaranteed untouched by an interrupted earlier pass.
	var spans []itemSpan
	off := oldItemSectionPointer
	for off < resumeBelow {
		ih, err := nodeio.ReadItemHeader(e.f, off)
		if err != nil {
			return err
		}
		if ih.NextItemPointer <= off {
			return ErrCorruptItemSection
		}
		spans = append(spans, itemSpan{offset: off, length: ih.NextItemPointer - off})
		off = ih.NextItemPointer
	}

	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		if s.offset >= resumeBelow {
			continue
		}
		ih, err := nodeio.ReadItemHeader(e.f, s.offset)
		if err != nil {
			return err
		}
		dst := s.offset + shift
		newNext := ih.NextItemPointer + shift

		if s.length > shift {
			if err := e.copyItem(s.offset, scratch, s.length, ih, newNext); err != nil {
				return err
			}
			stage := nodeio.JournalNode{Operation: nodeio.OpGrowStageItem, LookupPointer: newCapacity, ItemPointer: s.offset}
			if err := nodeio.WriteJournal(e.f, stage); err != nil {
				return err
			}
			if err := e.f.Flush(); err != nil {
				return err
			}
			if err := e.copyItem(scratch, dst, s.length, ih, newNext); err != nil {
				return err
			}
		} else {
			if err := e.copyItem(s.offset, dst, s.length, ih, newNext); err != nil {
				return err
			}
		}

		resume := nodeio.JournalNode{Operation: nodeio.OpGrowResume, LookupPointer: newCapacity, ItemPointer: s.offset}
		if err := nodeio.WriteJournal(e.f, resume); err != nil {
			return err
		}
		if err := e.f.Flush(); err != nil {
			return err
		}
	}

	if e.f.Len() > newEOF {
		if err := e.f.Truncate(newEOF); err != nil {
			return err
		}
	}

	h := e.header
	h.Capacity = newCapacity
	h.ItemSectionPointer = targetItemSectionPointer
	h.EndOfFilePointer = newEOF
	return e.writeHeader(h)
}

// RebuildLookupTable re-seats every live item's probe chain at the given
// capacity. applyRebuild places every item it walks, so orphans are first
// removed with Compact; after that no item bytes move. It is used
// standalone by Find's tombstone-run trigger (spec §4.4/§9); Grow runs the
// same applyRebuild step, with a doubled capacity, after its own compaction.
func (e *Engine) RebuildLookupTable(capacity int64) error {
	if e.readOnly {
		return ErrReadOnly
	}
	if e.fragmentationCount > 0 {
		if err := e.Compact(); err != nil {
			return fmt.Errorf("engine: RebuildLookupTable: pre-compact: %w", err)
		}
	}
	j := nodeio.JournalNode{Operation: nodeio.OpRebuildLookupTable, Sync: capacity}
	if err := nodeio.WriteJournal(e.f, j); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	if err := e.applyRebuild(capacity); err != nil {
		return err
	}
	return e.clearJournal()
}

// applyRebuild zeroes every lookup slot and re-probes each item in the
// current item section into it, orphans included, so callers run it only
// over a compacted item section. Idempotent: re-zeroing and re-walking the
// unchanged item chain always reproduces the same deterministic placement.
func (e *Engine) applyRebuild(capacity int64) error {
	for p := int64(0); p < capacity; p++ {
		if err := nodeio.ZeroLookupSlot(e.f, e.mode, p); err != nil {
			return err
		}
	}

	h := e.header
	off := h.ItemSectionPointer
	for off < h.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(e.f, off)
		if err != nil {
			return err
		}
		slot, err := e.firstFreeSlot(ih.HashCode, capacity)
		if err != nil {
			return err
		}
		lookupPointer := e.lookupPointerOf(slot)
		if err := nodeio.WriteLookupItemPointer(e.f, e.mode, slot, off); err != nil {
			return err
		}
		if err := nodeio.WriteItemNodePointers(e.f, off, lookupPointer, ih.NextItemPointer); err != nil {
			return err
		}
		off = ih.NextItemPointer
	}
	return nil
}

func (e *Engine) firstFreeSlot(code int32, capacity int64) (int64, error) {
	fh := hash.FirstHash(code)
	co := hash.CollisionOffset(code)
	for k := int64(0); k < capacity; k++ {
		p := hash.Probe(fh, co, k, capacity)
		cur, err := nodeio.ReadLookupItemPointer(e.f, e.mode, p)
		if err != nil {
			return 0, err
		}
		if nodeio.IsNeverOccupied(cur) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("engine: no free slot at capacity %d", capacity)
}
