// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nodeio

import "github.com/kvstore/filehash/internal/codec"

// ItemHeaderSize is the fixed 24-byte prefix of every item node:
// lookupPointer (i64) + nextItemPointer (i64) + hashCode (i32) + keyLength
// (i32). keyLength lets the engine recover the exact key/value split of the
// variable payload without asking the serializer to re-parse it.
const ItemHeaderSize = 24

// ItemHeader is the fixed portion of an item node. The variable-length
// serialized key (and, for dictionaries, value) immediately follows in the
// file and is handled by the engine via the pagecache stream, not here.
type ItemHeader struct {
	LookupPointer   int64
	NextItemPointer int64
	HashCode        int32
	KeyLength       int32
}

func ReadItemHeader(r codec.ReaderAt, off int64) (ItemHeader, error) {
	var h ItemHeader
	var err error
	if h.LookupPointer, err = codec.Int64(r, off); err != nil {
		return h, err
	}
	if h.NextItemPointer, err = codec.Int64(r, off+8); err != nil {
		return h, err
	}
	if h.HashCode, err = codec.Int32(r, off+16); err != nil {
		return h, err
	}
	if h.KeyLength, err = codec.Int32(r, off+20); err != nil {
		return h, err
	}
	return h, nil
}

func WriteItemHeader(w codec.WriterAt, off int64, h ItemHeader) error {
	if err := codec.PutInt64(w, off, h.LookupPointer); err != nil {
		return err
	}
	if err := codec.PutInt64(w, off+8, h.NextItemPointer); err != nil {
		return err
	}
	if err := codec.PutInt32(w, off+16, h.HashCode); err != nil {
		return err
	}
	return codec.PutInt32(w, off+20, h.KeyLength)
}

// WriteItemNodePointers rewrites only the first 16 bytes of the item node at
// off -- its lookupPointer and nextItemPointer -- leaving hashCode, keyLength,
// and the payload untouched. This is the data-section write of the journal's
// WriteItemNodePointers operation (spec §4.6), used by compaction to fuse
// and relocate orphans without re-deriving a hash.
func WriteItemNodePointers(w codec.WriterAt, off, lookupPointer, nextItemPointer int64) error {
	if err := codec.PutInt64(w, off, lookupPointer); err != nil {
		return err
	}
	return codec.PutInt64(w, off+8, nextItemPointer)
}
