// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package engine

import (
	"fmt"

	"github.com/kvstore/filehash/internal/nodeio"
)

// Compact fuses away every orphan in the item section by shifting each
// surviving item down to a tightly-packed frontier, then shrinks the file
// to match. It is the offline defragmentation pass of spec §4.8; Grow also
// calls it as a first step so relocation never has to reason about orphans.
//
// A surviving item's destination frontier is always at or behind its own
// read offset, so the shift can never reach forward into a not-yet-read
// item's bytes. But frontier can lag read by less than the item's own
// length, so the item's write can spill back over the tail of its own
// original span (the header, 24 bytes, is never touched this way -- the
// minimum gap is either 0 or a whole orphan's length, and the minimum item
// size is itself 24 bytes -- but the payload can be). Re-deriving that
// item from its original offset a second time would then read corrupted
// bytes. applyFuse avoids this by staging such an item's bytes to a
// scratch offset beyond the file's current content before committing it to
// its frontier, and checkpoints (read, frontier) after every item so
// replay resumes the walk instead of restarting it from offsets a prior,
// interrupted pass may have already relocated.
func (e *Engine) Compact() error {
	if e.readOnly {
		return ErrReadOnly
	}

	j := nodeio.JournalNode{Operation: nodeio.OpWriteItemNodePointers}
	if err := nodeio.WriteJournal(e.f, j); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	if err := e.applyFuse(j); err != nil {
		return fmt.Errorf("engine: Compact: %w", err)
	}
	if err := e.clearJournal(); err != nil {
		return err
	}

	t := nodeio.JournalNode{Operation: nodeio.OpTruncate, Sync: e.header.EndOfFilePointer}
	if err := nodeio.WriteJournal(e.f, t); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	if err := e.applyTruncate(t); err != nil {
		return fmt.Errorf("engine: Compact: %w", err)
	}
	if err := e.clearJournal(); err != nil {
		return err
	}

	e.fragmentationCount = 0
	return nil
}

// copyItem copies a length-byte item (24-byte header plus payload) from src
// to dst, preserving lookupPointer, hashCode and keyLength but substituting
// newNext as the relocated copy's nextItemPointer. The source is read into
// memory in full before anything is written, so a single call is safe even
// when the source and destination ranges overlap.
func (e *Engine) copyItem(src, dst, length int64, ih nodeio.ItemHeader, newNext int64) error {
	buf := make([]byte, length)
	if _, err := e.f.ReadAt(buf, src); err != nil {
		return err
	}
	if err := nodeio.WriteItemHeader(e.f, dst, nodeio.ItemHeader{
		LookupPointer:   ih.LookupPointer,
		NextItemPointer: newNext,
		HashCode:        ih.HashCode,
		KeyLength:       ih.KeyLength,
	}); err != nil {
		return err
	}
	if length > nodeio.ItemHeaderSize {
		if _, err := e.f.WriteAt(buf[nodeio.ItemHeaderSize:], dst+nodeio.ItemHeaderSize); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyFuse(j nodeio.JournalNode) error {
	h := e.header
	// scratch sits past the pre-compact end of file, a region no live item
	// ever occupies for the duration of this pass (Compact's own journaled
	// truncate step, run only after applyFuse returns, is what reclaims it).
	scratch := h.EndOfFilePointer
	read, frontier := h.ItemSectionPointer, h.ItemSectionPointer

	switch j.Operation {
	case nodeio.OpFuseStageItem:
		staged, err := nodeio.ReadItemHeader(e.f, scratch)
		if err != nil {
			return err
		}
		length := staged.NextItemPointer - j.Sync
		if err := e.copyItem(scratch, j.Sync, length, staged, staged.NextItemPointer); err != nil {
			return err
		}
		if err := nodeio.WriteLookupItemPointer(e.f, e.mode, e.slotIndexOf(j.LookupPointer), j.Sync); err != nil {
			return err
		}
		read, frontier = j.ItemPointer+length, j.Sync+length
	case nodeio.OpFuseResume:
		read, frontier = j.ItemPointer, j.Sync
	}

	for read < h.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(e.f, read)
		if err != nil {
			return err
		}
		if ih.NextItemPointer <= read {
			return ErrCorruptItemSection
		}
		length := ih.NextItemPointer - read

		live, err := e.slotPointsTo(ih.LookupPointer, read)
		if err != nil {
			return err
		}
		if live {
			newNext := frontier + length
			switch {
			case frontier == read:
				if newNext != ih.NextItemPointer {
					if err := nodeio.WriteItemNodePointers(e.f, frontier, ih.LookupPointer, newNext); err != nil {
						return err
					}
				}
			case length > read-frontier:
				// Self-overlapping: stage to scratch and checkpoint before
				// committing, so a crash here resumes from the untouched
				// staged copy rather than this item's own clobbered bytes.
				if err := e.copyItem(read, scratch, length, ih, newNext); err != nil {
					return err
				}
				stage := nodeio.JournalNode{Operation: nodeio.OpFuseStageItem, LookupPointer: ih.LookupPointer, ItemPointer: read, Sync: frontier}
				if err := nodeio.WriteJournal(e.f, stage); err != nil {
					return err
				}
				if err := e.f.Flush(); err != nil {
					return err
				}
				if err := e.copyItem(scratch, frontier, length, ih, newNext); err != nil {
					return err
				}
			default:
				if err := e.copyItem(read, frontier, length, ih, newNext); err != nil {
					return err
				}
			}
			if err := nodeio.WriteLookupItemPointer(e.f, e.mode, e.slotIndexOf(ih.LookupPointer), frontier); err != nil {
				return err
			}
			frontier += length
		}

		read = ih.NextItemPointer

		resume := nodeio.JournalNode{Operation: nodeio.OpFuseResume, ItemPointer: read, Sync: frontier}
		if err := nodeio.WriteJournal(e.f, resume); err != nil {
			return err
		}
		if err := e.f.Flush(); err != nil {
			return err
		}
	}

	h.EndOfFilePointer = frontier
	return e.writeHeader(h)
}

func (e *Engine) applyTruncate(j nodeio.JournalNode) error {
	if e.f.Len() == j.Sync {
		return nil
	}
	return e.f.Truncate(j.Sync)
}

// Clear resets the container to a brand new, empty table of the same mode,
// discarding every key. It is the only operation allowed to shrink the
// header's capacity back to its initial value.
func (e *Engine) Clear() error {
	if e.readOnly {
		return ErrReadOnly
	}
	j := nodeio.JournalNode{Operation: nodeio.OpClear}
	if err := nodeio.WriteJournal(e.f, j); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	if err := e.applyClear(); err != nil {
		return err
	}
	if err := e.clearJournal(); err != nil {
		return err
	}
	e.fragmentationCount = 0
	return nil
}

func (e *Engine) applyClear() error {
	h := nodeio.NewEmptyHeader(e.mode)
	h.Signature = e.header.Signature
	if err := e.f.Truncate(h.EndOfFilePointer); err != nil {
		return err
	}
	for p := int64(0); p < h.Capacity; p++ {
		if err := nodeio.ZeroLookupSlot(e.f, e.mode, p); err != nil {
			return err
		}
	}
	return e.writeHeader(h)
}
