// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package codec provides fixed-width little-endian readers and writers for
// the integer and blob fields that make up the header, journal, lookup, and
// item nodes of a container file. Every function operates at an absolute
// byte offset against an io.ReaderAt/io.WriterAt, mirroring the exact-offset
// contract the on-disk layout requires.
package codec

import (
	"encoding/binary"
	"fmt"
)

// PutInt64 writes v as 8 little-endian bytes at off.
func PutInt64(w WriterAt, off int64, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return writeAt(w, buf[:], off)
}

// Int64 reads 8 little-endian bytes at off.
func Int64(r ReaderAt, off int64) (int64, error) {
	var buf [8]byte
	if err := readAt(r, buf[:], off); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// PutInt32 writes v as 4 little-endian bytes at off.
func PutInt32(w WriterAt, off int64, v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return writeAt(w, buf[:], off)
}

// Int32 reads 4 little-endian bytes at off.
func Int32(r ReaderAt, off int64) (int32, error) {
	var buf [4]byte
	if err := readAt(r, buf[:], off); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// PutBlob16 writes b, zero-padded or truncated to exactly 16 bytes, at off.
func PutBlob16(w WriterAt, off int64, b []byte) error {
	var buf [16]byte
	copy(buf[:], b)
	return writeAt(w, buf[:], off)
}

// Blob16 reads the 16 bytes at off.
func Blob16(r ReaderAt, off int64) ([16]byte, error) {
	var buf [16]byte
	err := readAt(r, buf[:], off)
	return buf, err
}

// WriterAt is the subset of *os.File/pagecache.File this package writes through.
type WriterAt interface {
	WriteAt(b []byte, off int64) (int, error)
}

// ReaderAt is the subset of *os.File/pagecache.File this package reads through.
type ReaderAt interface {
	ReadAt(b []byte, off int64) (int, error)
}

func writeAt(w WriterAt, b []byte, off int64) error {
	n, err := w.WriteAt(b, off)
	if err != nil {
		return fmt.Errorf("codec: WriteAt(off=%d): %w", off, err)
	}
	if n != len(b) {
		return fmt.Errorf("codec: short write at off=%d: %d != %d", off, n, len(b))
	}
	return nil
}

func readAt(r ReaderAt, b []byte, off int64) error {
	n, err := r.ReadAt(b, off)
	if err != nil {
		return fmt.Errorf("codec: ReadAt(off=%d): %w", off, err)
	}
	if n != len(b) {
		return fmt.Errorf("codec: short read at off=%d: %d != %d", off, n, len(b))
	}
	return nil
}
