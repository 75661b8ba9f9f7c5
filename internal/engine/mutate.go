// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package engine

import (
	"errors"
	"fmt"

	"github.com/kvstore/filehash/internal/nodeio"
)

// Put inserts or overwrites key with value, growing the table first if the
// new count would exceed the load factor. It reports whether the key was
// newly inserted (false means an existing value was overwritten).
func (e *Engine) Put(key, value []byte) (inserted bool, err error) {
	if e.readOnly {
		return false, ErrReadOnly
	}
	if err := e.maybeGrow(); err != nil {
		return false, fmt.Errorf("engine: Put: %w", err)
	}
	res, err := e.Find(key)
	if err != nil {
		return false, err
	}
	wasLive := res.Found
	if err := e.set(res, key, value); err != nil {
		return false, err
	}
	return !wasLive, nil
}

// ErrDuplicateKey is returned by PutNew when key is already live, spec
// §4.5's add/invalid-argument(duplicate) contract.
var ErrDuplicateKey = errors.New("engine: key already exists")

// PutNew is Put's non-overwriting counterpart: it inserts key only if not
// already present, returning ErrDuplicateKey instead of silently
// overwriting the existing value.
func (e *Engine) PutNew(key, value []byte) error {
	if e.readOnly {
		return ErrReadOnly
	}
	if err := e.maybeGrow(); err != nil {
		return fmt.Errorf("engine: PutNew: %w", err)
	}
	res, err := e.Find(key)
	if err != nil {
		return err
	}
	if res.Found {
		return ErrDuplicateKey
	}
	return e.set(res, key, value)
}

// Delete removes key if present, reporting whether anything was removed.
func (e *Engine) Delete(key []byte) (deleted bool, err error) {
	if e.readOnly {
		return false, ErrReadOnly
	}
	res, err := e.Find(key)
	if err != nil {
		return false, err
	}
	if !res.Found {
		return false, nil
	}
	if err := e.delete(res); err != nil {
		return false, err
	}
	return true, nil
}

// set performs the §4.5 Set protocol: the new item's bytes are appended
// past the current end of file (harmless if interrupted, since nothing
// references that region yet), then the journal commits the intent to
// point the slot at it, then the slot and header are updated and the
// journal is cleared.
func (e *Engine) set(res Result, key, value []byte) error {
	itemPointer := e.header.EndOfFilePointer
	total := int64(nodeio.ItemHeaderSize) + int64(len(key)) + int64(len(value))
	next := itemPointer + total

	ih := nodeio.ItemHeader{
		LookupPointer:   res.LookupPointer,
		NextItemPointer: next,
		HashCode:        res.HashCode,
		KeyLength:       int32(len(key)),
	}
	if err := nodeio.WriteItemHeader(e.f, itemPointer, ih); err != nil {
		return err
	}
	if len(key) > 0 {
		if _, err := e.f.WriteAt(key, itemPointer+nodeio.ItemHeaderSize); err != nil {
			return fmt.Errorf("engine: write key: %w", err)
		}
	}
	if len(value) > 0 {
		if _, err := e.f.WriteAt(value, itemPointer+nodeio.ItemHeaderSize+int64(len(key))); err != nil {
			return fmt.Errorf("engine: write value: %w", err)
		}
	}

	newCount := e.header.Count
	if !res.Found {
		newCount++
	}

	j := nodeio.JournalNode{Operation: nodeio.OpSet, LookupPointer: res.LookupPointer, ItemPointer: itemPointer, Sync: newCount}
	if err := nodeio.WriteJournal(e.f, j); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}

	if err := e.applySet(j); err != nil {
		return err
	}

	if err := e.clearJournal(); err != nil {
		return err
	}

	if res.Found {
		e.fragmentationCount++
	}
	return nil
}

// applySet performs Set's data-section writes: point the slot at the item,
// adopt the item's nextItemPointer as the new end of file if it extends
// past the current one, and commit the new count. It is used both for live
// execution and for journal replay, and is idempotent under re-execution.
func (e *Engine) applySet(j nodeio.JournalNode) error {
	p := e.slotIndexOf(j.LookupPointer)
	if err := nodeio.WriteLookupItemPointer(e.f, e.mode, p, j.ItemPointer); err != nil {
		return err
	}
	ih, err := nodeio.ReadItemHeader(e.f, j.ItemPointer)
	if err != nil {
		return err
	}
	h := e.header
	if ih.NextItemPointer > h.EndOfFilePointer {
		h.EndOfFilePointer = ih.NextItemPointer
	}
	h.Count = j.Sync
	return e.writeHeader(h)
}

func (e *Engine) delete(res Result) error {
	j := nodeio.JournalNode{Operation: nodeio.OpDelete, LookupPointer: res.LookupPointer, Sync: e.header.Count - 1}
	if err := nodeio.WriteJournal(e.f, j); err != nil {
		return err
	}
	if err := e.f.Flush(); err != nil {
		return err
	}
	if err := e.applyDelete(j); err != nil {
		return err
	}
	if err := e.clearJournal(); err != nil {
		return err
	}
	e.fragmentationCount++
	return nil
}

func (e *Engine) applyDelete(j nodeio.JournalNode) error {
	p := e.slotIndexOf(j.LookupPointer)
	if err := nodeio.WriteLookupItemPointer(e.f, e.mode, p, nodeio.ItemPointerTombstone); err != nil {
		return err
	}
	h := e.header
	h.Count = j.Sync
	return e.writeHeader(h)
}

func (e *Engine) clearJournal() error {
	if err := nodeio.WriteJournal(e.f, nodeio.None); err != nil {
		return err
	}
	return e.f.Flush()
}

// maybeGrow triggers Grow when inserting one more item would exceed the
// 0.7 load factor.
func (e *Engine) maybeGrow() error {
	if float64(e.header.Count+1) <= maxLoadFactor*float64(e.header.Capacity) {
		return nil
	}
	return e.Grow()
}

// replay dispatches an in-flight journal entry found on Open to the
// operation's apply routine, then clears the journal.
func (e *Engine) replay(j nodeio.JournalNode) error {
	var err error
	switch j.Operation {
	case nodeio.OpSet:
		err = e.applySet(j)
	case nodeio.OpDelete:
		err = e.applyDelete(j)
	case nodeio.OpGrowLookupSection, nodeio.OpGrowStageItem, nodeio.OpGrowResume:
		err = e.applyGrow(j)
	case nodeio.OpRebuildLookupTable:
		err = e.applyRebuild(j.Sync)
	case nodeio.OpWriteItemNodePointers, nodeio.OpFuseStageItem, nodeio.OpFuseResume:
		err = e.applyFuse(j)
	case nodeio.OpTruncate:
		err = e.applyTruncate(j)
	case nodeio.OpClear:
		err = e.applyClear()
	default:
		err = fmt.Errorf("engine: unknown journal operation %d", j.Operation)
	}
	if err != nil {
		return err
	}
	return e.clearJournal()
}
