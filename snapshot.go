// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package filehash

import (
	"bytes"
	"fmt"
	"io"

	"github.com/kvstore/filehash/serializer"
	"github.com/kvstore/filehash/snapshot"
)

type mapEntrySource[K, V any] struct{ m *Map[K, V] }

func (s mapEntrySource[K, V]) Entries(yield func(key, value []byte) bool) error {
	for entry, err := range s.m.e.All() {
		if err != nil {
			return err
		}
		if !yield(entry.Key, entry.Value) {
			return nil
		}
	}
	return nil
}

type setEntrySource[K any] struct{ s *Set[K] }

func (s setEntrySource[K]) Entries(yield func(key, value []byte) bool) error {
	for entry, err := range s.s.e.All() {
		if err != nil {
			return err
		}
		if !yield(entry.Key, nil) {
			return nil
		}
	}
	return nil
}

// ExportSnapshot writes a read-only, minimal-perfect-hash-indexed copy of m
// to w, suitable for distributing a point-in-time snapshot of the
// container to consumers that only need lookups, not mutation.
func (m *Map[K, V]) ExportSnapshot(w io.Writer) error {
	sig := m.e.Signature()
	if err := snapshot.Export(w, mapEntrySource[K, V]{m}, sig); err != nil {
		return fmt.Errorf("filehash: ExportSnapshot: %w", err)
	}
	return nil
}

// ExportSnapshot writes a read-only, minimal-perfect-hash-indexed copy of s
// to w.
func (s *Set[K]) ExportSnapshot(w io.Writer) error {
	sig := s.e.Signature()
	if err := snapshot.Export(w, setEntrySource[K]{s}, sig); err != nil {
		return fmt.Errorf("filehash: ExportSnapshot: %w", err)
	}
	return nil
}

// MapSnapshot is a read-only, mmap'd view of a Map snapshot exported by
// (*Map[K,V]).ExportSnapshot.
type MapSnapshot[K, V any] struct {
	r        *snapshot.Reader
	keyCodec serializer.Codec[K]
	valCodec serializer.Codec[V]
}

// OpenMapSnapshot opens a previously exported Map snapshot file.
func OpenMapSnapshot[K, V any](path string, keyCodec serializer.Codec[K], valCodec serializer.Codec[V]) (*MapSnapshot[K, V], error) {
	r, err := snapshot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filehash: OpenMapSnapshot: %w", err)
	}
	return &MapSnapshot[K, V]{r: r, keyCodec: keyCodec, valCodec: valCodec}, nil
}

// Get looks up key in the snapshot.
func (m *MapSnapshot[K, V]) Get(key K) (V, bool, error) {
	var zero V
	var kb bytes.Buffer
	if err := m.keyCodec.Write(&kb, key); err != nil {
		return zero, false, fmt.Errorf("filehash: MapSnapshot.Get: encode key: %w", err)
	}
	raw, found, err := m.r.Get(kb.Bytes())
	if err != nil {
		return zero, false, fmt.Errorf("filehash: MapSnapshot.Get: %w", err)
	}
	if !found {
		return zero, false, nil
	}
	v, err := m.valCodec.Read(bytes.NewReader(raw))
	if err != nil {
		return zero, false, fmt.Errorf("filehash: MapSnapshot.Get: decode value: %w", err)
	}
	return v, true, nil
}

// Len is the number of entries captured in the snapshot.
func (m *MapSnapshot[K, V]) Len() int64 { return m.r.Len() }

// Signature returns the source container's file-kind tag at export time.
func (m *MapSnapshot[K, V]) Signature() Signature { return Signature(m.r.Signature()) }

// Close unmaps the snapshot file.
func (m *MapSnapshot[K, V]) Close() error { return m.r.Close() }

// SetSnapshot is a read-only, mmap'd view of a Set snapshot exported by
// (*Set[K]).ExportSnapshot.
type SetSnapshot[K any] struct {
	r  *snapshot.Reader
	kc serializer.Codec[K]
}

// OpenSetSnapshot opens a previously exported Set snapshot file.
func OpenSetSnapshot[K any](path string, keyCodec serializer.Codec[K]) (*SetSnapshot[K], error) {
	r, err := snapshot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filehash: OpenSetSnapshot: %w", err)
	}
	return &SetSnapshot[K]{r: r, kc: keyCodec}, nil
}

// Contains reports whether element was a member at export time.
func (s *SetSnapshot[K]) Contains(element K) (bool, error) {
	var kb bytes.Buffer
	if err := s.kc.Write(&kb, element); err != nil {
		return false, fmt.Errorf("filehash: SetSnapshot.Contains: encode: %w", err)
	}
	_, found, err := s.r.Get(kb.Bytes())
	if err != nil {
		return false, fmt.Errorf("filehash: SetSnapshot.Contains: %w", err)
	}
	return found, nil
}

// Len is the number of elements captured in the snapshot.
func (s *SetSnapshot[K]) Len() int64 { return s.r.Len() }

// Signature returns the source container's file-kind tag at export time.
func (s *SetSnapshot[K]) Signature() Signature { return Signature(s.r.Signature()) }

// Close unmaps the snapshot file.
func (s *SetSnapshot[K]) Close() error { return s.r.Close() }
