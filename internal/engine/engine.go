// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package engine implements the file-backed open-addressed hash table core:
// find/set/delete, load-factor driven growth, orphan compaction, and the
// journaled recovery protocol that makes all of the above crash-safe. It is
// the generic-free heart the filehash façade wraps -- everything here deals
// in already-serialized key/value byte strings, the same layering the
// teacher's Table/Builder use over raw []byte keys and values.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kvstore/filehash/internal/nodeio"
	"github.com/kvstore/filehash/internal/pagecache"
)

// maxLoadFactor is the 0.7 ceiling of spec §4.7.
const maxLoadFactor = 0.7

// maxRebuildsPerFind caps the tombstone-triggered lookup rebuild at one per
// Find call, per spec §9's open-question resolution.
const maxRebuildsPerFind = 1

var (
	ErrReadOnly          = errors.New("engine: file is read-only")
	ErrJournalInFlight   = errors.New("engine: journal is non-None on read-only open")
	ErrCorruptItemSection = errors.New("engine: item section walk did not reach endOfFilePointer")
)

// Engine owns one open container file for the duration of the handle.
type Engine struct {
	f        *pagecache.File
	mode     nodeio.Mode
	readOnly bool
	log      *slog.Logger

	header             nodeio.HeaderNode
	fragmentationCount int64
}

// Open reads the header and journal, replaying any in-flight operation, and
// returns a ready-to-use Engine. A file shorter than the header plus journal
// is initialized fresh as an empty container (refused when readOnly).
func Open(f *pagecache.File, mode nodeio.Mode, readOnly bool, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{f: f, mode: mode, readOnly: readOnly, log: logger}

	if f.Len() < nodeio.LookupSectionOffset {
		if readOnly {
			return nil, fmt.Errorf("engine: empty file cannot be opened read-only")
		}
		if err := e.initEmpty(); err != nil {
			return nil, err
		}
		return e, nil
	}

	h, err := nodeio.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("engine: ReadHeader: %w", err)
	}
	e.header = h

	j, err := nodeio.ReadJournal(f)
	if err != nil {
		return nil, fmt.Errorf("engine: ReadJournal: %w", err)
	}

	if j.Operation != nodeio.OpNone {
		if readOnly {
			return nil, fmt.Errorf("%w: journal op=%d", ErrJournalInFlight, j.Operation)
		}
		e.log.Warn("replaying in-flight journal operation", "op", j.Operation)
		if err := e.replay(j); err != nil {
			return nil, fmt.Errorf("engine: replay: %w", err)
		}
	}

	count, err := e.scanFragmentation()
	if err != nil {
		return nil, fmt.Errorf("engine: scanFragmentation: %w", err)
	}
	e.fragmentationCount = count

	return e, nil
}

func (e *Engine) initEmpty() error {
	h := nodeio.NewEmptyHeader(e.mode)
	if err := e.f.Truncate(h.EndOfFilePointer); err != nil {
		return fmt.Errorf("engine: Truncate: %w", err)
	}
	if err := nodeio.WriteHeader(e.f, h); err != nil {
		return fmt.Errorf("engine: WriteHeader: %w", err)
	}
	if err := nodeio.WriteJournal(e.f, nodeio.None); err != nil {
		return fmt.Errorf("engine: WriteJournal(None): %w", err)
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	e.header = h
	return nil
}

// Header returns a copy of the in-memory header state.
func (e *Engine) Header() nodeio.HeaderNode { return e.header }

// Count is the number of live slots.
func (e *Engine) Count() int64 { return e.header.Count }

// Capacity is the current number of lookup slots.
func (e *Engine) Capacity() int64 { return e.header.Capacity }

// FragmentationCount is the number of orphan-producing mutations since the
// last compaction.
func (e *Engine) FragmentationCount() int64 { return e.fragmentationCount }

// Mode reports dictionary or set layout.
func (e *Engine) Mode() nodeio.Mode { return e.mode }

// IsReadOnly reports whether mutating calls are rejected.
func (e *Engine) IsReadOnly() bool { return e.readOnly }

// Signature returns the current 16-byte file signature.
func (e *Engine) Signature() [16]byte { return e.header.Signature }

// SetSignature overwrites the signature field, zero-padded to 16 bytes.
func (e *Engine) SetSignature(sig []byte) error {
	if e.readOnly {
		return ErrReadOnly
	}
	if len(sig) > 16 {
		return fmt.Errorf("engine: signature longer than 16 bytes")
	}
	var buf [16]byte
	copy(buf[:], sig)
	if err := nodeio.WriteSignature(e.f, buf); err != nil {
		return err
	}
	e.header.Signature = buf
	return e.f.Flush()
}

func (e *Engine) writeHeader(h nodeio.HeaderNode) error {
	if err := nodeio.WriteHeader(e.f, h); err != nil {
		return err
	}
	e.header = h
	return nil
}

// scanFragmentation walks the item section once, counting items whose
// back-pointer does not match their nominal owning slot's stored pointer
// (orphans, spec §3 invariant 5). Header has no spare field for this
// counter, so it is recomputed at Open and then tracked incrementally.
func (e *Engine) scanFragmentation() (int64, error) {
	var orphans int64
	off := e.header.ItemSectionPointer
	for off < e.header.EndOfFilePointer {
		ih, err := nodeio.ReadItemHeader(e.f, off)
		if err != nil {
			return 0, err
		}
		live, err := e.slotPointsTo(ih.LookupPointer, off)
		if err != nil {
			return 0, err
		}
		if !live {
			orphans++
		}
		if ih.NextItemPointer <= off {
			return 0, ErrCorruptItemSection
		}
		off = ih.NextItemPointer
	}
	if off != e.header.EndOfFilePointer {
		return 0, ErrCorruptItemSection
	}
	return orphans, nil
}

// slotPointsTo reports whether the lookup slot at back-ptr lookupPointer
// currently points at itemOffset (i.e. the item is live, not an orphan).
// lookupPointer of 0 means "synthetic filler, never owned" and is never live.
func (e *Engine) slotPointsTo(lookupPointer, itemOffset int64) (bool, error) {
	if lookupPointer == 0 {
		return false, nil
	}
	p := (lookupPointer - nodeio.LookupSectionOffset) / e.mode.LookupNodeSize()
	if p < 0 || p >= e.header.Capacity {
		return false, nil
	}
	cur, err := nodeio.ReadLookupItemPointer(e.f, e.mode, p)
	if err != nil {
		return false, err
	}
	return cur == itemOffset, nil
}

// Close flushes and closes the underlying cached file.
func (e *Engine) Close() error {
	return e.f.Close()
}
