// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package nodeio reads and writes the four node kinds of a container file --
// header, journal, lookup, and item -- at the byte-exact offsets the file
// format requires. It sits directly on internal/codec and internal/pagecache,
// the way the teacher's datafile/file_header.go sits directly on
// encoding/binary and *os.File.
package nodeio

import (
	"github.com/kvstore/filehash/internal/codec"
)

// Mode selects dictionary (key -> value) or set (key -> presence) layout.
type Mode int

const (
	ModeDict Mode = iota
	ModeSet
)

// LookupNodeSize is 8 bytes for a dictionary (itemPointer only) or 12 for a
// set (itemPointer + marker).
func (m Mode) LookupNodeSize() int64 {
	if m == ModeSet {
		return 12
	}
	return 8
}

const (
	HeaderSize          = 48
	JournalSize         = 32
	JournalOffset       = HeaderSize
	LookupSectionOffset = HeaderSize + JournalSize // 80
)

// DefaultSignature returns the spec's well-known namespace GUID for the given
// mode, encoded in RFC-4122 byte order.
func DefaultSignature(m Mode) [16]byte {
	if m == ModeSet {
		return parseGUID("6527713F-78AE-43DA-8E37-718AFED99927")
	}
	return parseGUID("3165E4F9-203B-4741-A186-EA34659A94B7")
}

func parseGUID(s string) [16]byte {
	var out [16]byte
	hexDigit := func(c byte) byte {
		switch {
		case c >= '0' && c <= '9':
			return c - '0'
		case c >= 'A' && c <= 'F':
			return c - 'A' + 10
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10
		default:
			return 0
		}
	}
	i := 0
	for j := 0; j < len(s) && i < 16; j++ {
		if s[j] == '-' {
			continue
		}
		hi := hexDigit(s[j])
		j++
		lo := hexDigit(s[j])
		out[i] = hi<<4 | lo
		i++
	}
	return out
}

// HeaderNode is the 48-byte file header: signature, live-slot count,
// lookup-slot capacity, and the two section boundary pointers.
type HeaderNode struct {
	Signature          [16]byte
	Count              int64
	Capacity           int64
	ItemSectionPointer int64
	EndOfFilePointer   int64
}

// NewEmptyHeader returns the header for a freshly-created, empty container of
// the given mode: capacity 16, item section immediately following the
// lookup section, end of file at the item section's start.
func NewEmptyHeader(m Mode) HeaderNode {
	const initialCapacity = 16
	itemSectionPointer := LookupSectionOffset + initialCapacity*m.LookupNodeSize()
	return HeaderNode{
		Signature:          DefaultSignature(m),
		Count:              0,
		Capacity:           initialCapacity,
		ItemSectionPointer: itemSectionPointer,
		EndOfFilePointer:   itemSectionPointer,
	}
}

func ReadHeader(r codec.ReaderAt) (HeaderNode, error) {
	var h HeaderNode
	sig, err := codec.Blob16(r, 0)
	if err != nil {
		return h, err
	}
	h.Signature = sig
	if h.Count, err = codec.Int64(r, 16); err != nil {
		return h, err
	}
	if h.Capacity, err = codec.Int64(r, 24); err != nil {
		return h, err
	}
	if h.ItemSectionPointer, err = codec.Int64(r, 32); err != nil {
		return h, err
	}
	if h.EndOfFilePointer, err = codec.Int64(r, 40); err != nil {
		return h, err
	}
	return h, nil
}

func WriteHeader(w codec.WriterAt, h HeaderNode) error {
	if err := codec.PutBlob16(w, 0, h.Signature[:]); err != nil {
		return err
	}
	if err := codec.PutInt64(w, 16, h.Count); err != nil {
		return err
	}
	if err := codec.PutInt64(w, 24, h.Capacity); err != nil {
		return err
	}
	if err := codec.PutInt64(w, 32, h.ItemSectionPointer); err != nil {
		return err
	}
	return codec.PutInt64(w, 40, h.EndOfFilePointer)
}

// WriteSignature rewrites only the 16-byte signature field, used by the
// façade's Signature setter without disturbing the rest of the header.
func WriteSignature(w codec.WriterAt, sig [16]byte) error {
	return codec.PutBlob16(w, 0, sig[:])
}
