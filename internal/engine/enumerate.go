// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package engine

import (
	"iter"

	"github.com/kvstore/filehash/internal/nodeio"
)

// Entry is one live key/value pair surfaced during enumeration. Value is
// nil in set mode.
type Entry struct {
	Key   []byte
	Value []byte
}

// All walks the item section once, in on-disk order, yielding every live
// entry. It skips orphans by checking each item's back-pointer against its
// nominal slot, the same liveness test Open's fragmentation scan uses.
// Mutating the engine from inside the yield callback is not supported.
func (e *Engine) All() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		off := e.header.ItemSectionPointer
		end := e.header.EndOfFilePointer
		for off < end {
			ih, err := nodeio.ReadItemHeader(e.f, off)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			live, err := e.slotPointsTo(ih.LookupPointer, off)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if live {
				key, value, err := e.ReadItem(off)
				if err != nil {
					yield(Entry{}, err)
					return
				}
				if !yield(Entry{Key: key, Value: value}, nil) {
					return
				}
			}
			off = ih.NextItemPointer
		}
	}
}
