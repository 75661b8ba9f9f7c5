// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hash computes the platform-stable key digest and the two
// double-hashing probe functions the engine derives from it. Unlike the
// teacher's use of github.com/dgryski/go-farm for its minimal perfect hash
// (kept alive in the snapshot package), the mutable engine's digest must be
// reproducible across runtimes with no vendored algorithm choice at all, so
// it is pinned to the standard library's CRC-32 (IEEE) implementation.
package hash

import "hash/crc32"

// Code returns the platform-stable 32-bit digest of a key's serialized byte
// sequence. Two keys are equal (absent a custom comparator) iff their
// serialized sequences are byte-identical, which this digest then hashes.
func Code(serialized []byte) int32 {
	return int32(crc32.ChecksumIEEE(serialized))
}

// FirstHash derives the home slot's probe index (before taking it modulo
// capacity) from a key's hash code: start from 17, folding in 4 bits (one
// nibble) of the code at a time as h = h*23 + nibble.
func FirstHash(code int32) int64 {
	h := int64(17)
	u := uint32(code)
	for i := 0; i < 8; i++ {
		nibble := int64((u >> (4 * uint(i))) & 0xf)
		h = h*23 + nibble
	}
	return h
}

// CollisionOffset derives the probe stride from a key's hash code: start
// from 13, folding in one nibble at a time as h = h*29 + nibble, then forces
// the result odd so every slot of a power-of-two-sized table is reachable.
// The engine nonetheless reduces modulo capacity rather than relying on the
// odd/power-of-two relationship alone (see SPEC_FULL.md's open question on
// mask vs modulo reduction).
func CollisionOffset(code int32) int64 {
	h := int64(13)
	u := uint32(code)
	for i := 0; i < 8; i++ {
		nibble := int64((u >> (4 * uint(i))) & 0xf)
		h = h*29 + nibble
	}
	return h | 1
}

// Probe returns the probe position for index k (k = 0, 1, 2, ...) given the
// first hash, collision offset, and table capacity.
func Probe(firstHash, collisionOffset, k, capacity int64) int64 {
	p := (firstHash + k*collisionOffset) % capacity
	if p < 0 {
		p += capacity
	}
	return p
}

// SlotOffset returns the absolute file offset of lookup slot p, given the
// per-node size (8 bytes for a dictionary, 12 for a set).
func SlotOffset(p, lookupNodeSize int64) int64 {
	const lookupSectionStart = 80
	return lookupSectionStart + p*lookupNodeSize
}
