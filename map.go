// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package filehash

import (
	"bytes"
	"errors"
	"fmt"
	"iter"

	"github.com/kvstore/filehash/internal/engine"
	"github.com/kvstore/filehash/internal/nodeio"
	"github.com/kvstore/filehash/serializer"
)

// Map is a file-backed dictionary from K to V. A *Map is not safe for
// concurrent use from multiple goroutines without external synchronization,
// matching the teacher's Table/Builder split (one writer owns the file at a
// time).
type Map[K, V any] struct {
	e        *engine.Engine
	path     string
	keyCodec serializer.Codec[K]
	valCodec serializer.Codec[V]
}

// OpenMap opens or creates a dictionary-mode container at path.
func OpenMap[K, V any](path string, keyCodec serializer.Codec[K], valCodec serializer.Codec[V], opts Options) (*Map[K, V], error) {
	e, p, err := openEngine(path, nodeio.ModeDict, opts)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{e: e, path: p, keyCodec: keyCodec, valCodec: valCodec}, nil
}

func (m *Map[K, V]) encodeKey(key K) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.keyCodec.Write(&buf, key); err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Map[K, V]) encodeValue(value V) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.valCodec.Write(&buf, value); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// Get returns the value stored for key and whether it was present.
func (m *Map[K, V]) Get(key K) (V, bool, error) {
	var zero V
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return zero, false, fmt.Errorf("filehash: Get: %w", err)
	}
	res, err := m.e.Find(rawKey)
	if err != nil {
		return zero, false, fmt.Errorf("filehash: Get: %w", err)
	}
	if !res.Found {
		return zero, false, nil
	}
	_, rawValue, err := m.e.ReadItem(res.ItemPointer)
	if err != nil {
		return zero, false, fmt.Errorf("filehash: Get: %w", err)
	}
	v, err := m.valCodec.Read(bytes.NewReader(rawValue))
	if err != nil {
		return zero, false, fmt.Errorf("filehash: Get: decode value: %w", err)
	}
	return v, true, nil
}

// MustGet is the indexer-read contract of spec §6: it returns ErrNotFound
// when key is absent, as distinct from Get's ok-bool "not found isn't an
// error" convention.
func (m *Map[K, V]) MustGet(key K) (V, error) {
	v, ok, err := m.Get(key)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, ErrNotFound
	}
	return v, nil
}

// Set stores value for key, reporting whether key was newly inserted.
func (m *Map[K, V]) Set(key K, value V) (inserted bool, err error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, fmt.Errorf("filehash: Set: %w", err)
	}
	rawValue, err := m.encodeValue(value)
	if err != nil {
		return false, fmt.Errorf("filehash: Set: %w", err)
	}
	inserted, err = m.e.Put(rawKey, rawValue)
	if err != nil {
		return false, fmt.Errorf("filehash: Set: %w", err)
	}
	return inserted, nil
}

// Add inserts value for key, failing with ErrDuplicateKey if key is
// already present -- spec §4.5's add, distinct from Set's upsert.
func (m *Map[K, V]) Add(key K, value V) error {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return fmt.Errorf("filehash: Add: %w", err)
	}
	rawValue, err := m.encodeValue(value)
	if err != nil {
		return fmt.Errorf("filehash: Add: %w", err)
	}
	if err := m.e.PutNew(rawKey, rawValue); err != nil {
		if errors.Is(err, engine.ErrDuplicateKey) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("filehash: Add: %w", err)
	}
	return nil
}

// TryAdd is Add's non-throwing variant: it reports false instead of
// ErrDuplicateKey when key is already present, and false with no error for
// a read-only handle, per spec §4.5.
func (m *Map[K, V]) TryAdd(key K, value V) (bool, error) {
	if m.e.IsReadOnly() {
		return false, nil
	}
	if err := m.Add(key, value); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Contains reports whether key is present, without decoding its value.
func (m *Map[K, V]) Contains(key K) (bool, error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, fmt.Errorf("filehash: Contains: %w", err)
	}
	res, err := m.e.Find(rawKey)
	if err != nil {
		return false, fmt.Errorf("filehash: Contains: %w", err)
	}
	return res.Found, nil
}

// Delete removes key, reporting whether it was present.
func (m *Map[K, V]) Delete(key K) (deleted bool, err error) {
	rawKey, err := m.encodeKey(key)
	if err != nil {
		return false, fmt.Errorf("filehash: Delete: %w", err)
	}
	deleted, err = m.e.Delete(rawKey)
	if err != nil {
		return false, fmt.Errorf("filehash: Delete: %w", err)
	}
	return deleted, nil
}

// Count is the number of entries currently stored.
func (m *Map[K, V]) Count() int64 { return m.e.Count() }

// Capacity is the current number of lookup slots.
func (m *Map[K, V]) Capacity() int64 { return m.e.Capacity() }

// FragmentationCount is the number of orphaned item-section records
// produced by overwrites and deletes since the last Compact.
func (m *Map[K, V]) FragmentationCount() int64 { return m.e.FragmentationCount() }

// Compact rewrites the item section in place, dropping orphans.
func (m *Map[K, V]) Compact() error {
	if err := m.e.Compact(); err != nil {
		return fmt.Errorf("filehash: Compact: %w", err)
	}
	return nil
}

// Clear removes every entry and truncates the file back to an empty
// container, preserving the signature.
func (m *Map[K, V]) Clear() error {
	if err := m.e.Clear(); err != nil {
		return fmt.Errorf("filehash: Clear: %w", err)
	}
	return nil
}

// IsReadOnly reports whether this handle rejects mutation.
func (m *Map[K, V]) IsReadOnly() bool { return m.e.IsReadOnly() }

// FilePath returns the path this Map was opened from.
func (m *Map[K, V]) FilePath() string { return m.path }

// Signature returns the container's 16-byte file-kind tag.
func (m *Map[K, V]) Signature() Signature { return Signature(m.e.Signature()) }

// SetSignature overwrites the file-kind tag.
func (m *Map[K, V]) SetSignature(sig Signature) error {
	return m.e.SetSignature(sig[:])
}

// Close flushes and releases the underlying file.
func (m *Map[K, V]) Close() error { return m.e.Close() }

// All enumerates every stored entry in on-disk order.
func (m *Map[K, V]) All() iter.Seq2[MapEntry[K, V], error] {
	return func(yield func(MapEntry[K, V], error) bool) {
		for entry, err := range m.e.All() {
			if err != nil {
				yield(MapEntry[K, V]{}, fmt.Errorf("filehash: All: %w", err))
				return
			}
			k, err := m.keyCodec.Read(bytes.NewReader(entry.Key))
			if err != nil {
				yield(MapEntry[K, V]{}, fmt.Errorf("filehash: All: decode key: %w", err))
				return
			}
			v, err := m.valCodec.Read(bytes.NewReader(entry.Value))
			if err != nil {
				yield(MapEntry[K, V]{}, fmt.Errorf("filehash: All: decode value: %w", err))
				return
			}
			if !yield(MapEntry[K, V]{Key: k, Value: v}, nil) {
				return
			}
		}
	}
}

// MapEntry is one key/value pair yielded by Map.All.
type MapEntry[K, V any] struct {
	Key   K
	Value V
}
