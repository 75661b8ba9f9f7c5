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

// Set is a file-backed set of K. Set algebra (IntersectWith, ExceptWith,
// SymmetricExceptWith) runs in O(N) with bounded memory by driving the
// engine's marker bitmap (spec §4.9) rather than building a second
// in-memory hash set, so it scales to sets larger than RAM the same way
// the container's lookup and item sections do.
type Set[K any] struct {
	e    *engine.Engine
	path string
	kc   serializer.Codec[K]
}

// OpenSet opens or creates a set-mode container at path.
func OpenSet[K any](path string, keyCodec serializer.Codec[K], opts Options) (*Set[K], error) {
	e, p, err := openEngine(path, nodeio.ModeSet, opts)
	if err != nil {
		return nil, err
	}
	return &Set[K]{e: e, path: p, kc: keyCodec}, nil
}

func (s *Set[K]) encodeKey(element K) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.kc.Write(&buf, element); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Add inserts element, failing with ErrDuplicateKey if it is already a
// member -- spec §4.5's add, distinct from the upsert a dictionary's
// indexer-set would give.
func (s *Set[K]) Add(element K) error {
	raw, err := s.encodeKey(element)
	if err != nil {
		return fmt.Errorf("filehash: Add: %w", err)
	}
	if err := s.e.PutNew(raw, nil); err != nil {
		if errors.Is(err, engine.ErrDuplicateKey) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("filehash: Add: %w", err)
	}
	return nil
}

// TryAdd is Add's non-throwing variant: it reports false instead of
// ErrDuplicateKey when element is already a member, and false with no
// error for a read-only handle, per spec §4.5.
func (s *Set[K]) TryAdd(element K) (bool, error) {
	if s.e.IsReadOnly() {
		return false, nil
	}
	if err := s.Add(element); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove deletes element, reporting whether it was present.
func (s *Set[K]) Remove(element K) (removed bool, err error) {
	raw, err := s.encodeKey(element)
	if err != nil {
		return false, fmt.Errorf("filehash: Remove: %w", err)
	}
	removed, err = s.e.Delete(raw)
	if err != nil {
		return false, fmt.Errorf("filehash: Remove: %w", err)
	}
	return removed, nil
}

// Contains reports whether element is a member.
func (s *Set[K]) Contains(element K) (bool, error) {
	raw, err := s.encodeKey(element)
	if err != nil {
		return false, fmt.Errorf("filehash: Contains: %w", err)
	}
	res, err := s.e.Find(raw)
	if err != nil {
		return false, fmt.Errorf("filehash: Contains: %w", err)
	}
	return res.Found, nil
}

// Count is the number of elements currently stored.
func (s *Set[K]) Count() int64 { return s.e.Count() }

// Capacity is the current number of lookup slots.
func (s *Set[K]) Capacity() int64 { return s.e.Capacity() }

// FragmentationCount is the number of orphaned item-section records
// produced by deletes since the last Compact.
func (s *Set[K]) FragmentationCount() int64 { return s.e.FragmentationCount() }

// Compact rewrites the item section in place, dropping orphans.
func (s *Set[K]) Compact() error {
	if err := s.e.Compact(); err != nil {
		return fmt.Errorf("filehash: Compact: %w", err)
	}
	return nil
}

// Clear removes every element and truncates the file back to an empty
// container, preserving the signature.
func (s *Set[K]) Clear() error {
	if err := s.e.Clear(); err != nil {
		return fmt.Errorf("filehash: Clear: %w", err)
	}
	return nil
}

// IsReadOnly reports whether this handle rejects mutation.
func (s *Set[K]) IsReadOnly() bool { return s.e.IsReadOnly() }

// FilePath returns the path this Set was opened from.
func (s *Set[K]) FilePath() string { return s.path }

// Signature returns the container's 16-byte file-kind tag.
func (s *Set[K]) Signature() Signature { return Signature(s.e.Signature()) }

// SetSignature overwrites the file-kind tag.
func (s *Set[K]) SetSignature(sig Signature) error {
	return s.e.SetSignature(sig[:])
}

// Close flushes and releases the underlying file.
func (s *Set[K]) Close() error { return s.e.Close() }

// All enumerates every member in on-disk order.
func (s *Set[K]) All() iter.Seq2[K, error] {
	return func(yield func(K, error) bool) {
		var zero K
		for entry, err := range s.e.All() {
			if err != nil {
				yield(zero, fmt.Errorf("filehash: All: %w", err))
				return
			}
			k, err := s.kc.Read(bytes.NewReader(entry.Key))
			if err != nil {
				yield(zero, fmt.Errorf("filehash: All: decode: %w", err))
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}

// IntersectWith removes every member not also produced by other, leaving s
// holding s ∩ other.
func (s *Set[K]) IntersectWith(other iter.Seq[K]) error {
	if err := s.e.ClearAllMarkers(); err != nil {
		return fmt.Errorf("filehash: IntersectWith: %w", err)
	}
	for k := range other {
		raw, err := s.encodeKey(k)
		if err != nil {
			return fmt.Errorf("filehash: IntersectWith: %w", err)
		}
		if _, err := s.e.MarkIfPresent(raw); err != nil {
			return fmt.Errorf("filehash: IntersectWith: %w", err)
		}
	}
	if _, err := s.e.RemoveUnmarked(); err != nil {
		return fmt.Errorf("filehash: IntersectWith: %w", err)
	}
	return nil
}

// ExceptWith removes every member also produced by other, leaving s holding
// s \ other.
func (s *Set[K]) ExceptWith(other iter.Seq[K]) error {
	if err := s.e.ClearAllMarkers(); err != nil {
		return fmt.Errorf("filehash: ExceptWith: %w", err)
	}
	for k := range other {
		raw, err := s.encodeKey(k)
		if err != nil {
			return fmt.Errorf("filehash: ExceptWith: %w", err)
		}
		if _, err := s.e.MarkIfPresent(raw); err != nil {
			return fmt.Errorf("filehash: ExceptWith: %w", err)
		}
	}
	if _, err := s.e.RemoveMarked(); err != nil {
		return fmt.Errorf("filehash: ExceptWith: %w", err)
	}
	return nil
}

// SymmetricExceptWith replaces s with the symmetric difference s ⊕ other:
// members common to both are removed, and members only in other are added.
func (s *Set[K]) SymmetricExceptWith(other iter.Seq[K]) error {
	if err := s.e.ClearAllMarkers(); err != nil {
		return fmt.Errorf("filehash: SymmetricExceptWith: %w", err)
	}
	var toAdd [][]byte
	for k := range other {
		raw, err := s.encodeKey(k)
		if err != nil {
			return fmt.Errorf("filehash: SymmetricExceptWith: %w", err)
		}
		found, err := s.e.MarkIfPresent(raw)
		if err != nil {
			return fmt.Errorf("filehash: SymmetricExceptWith: %w", err)
		}
		if !found {
			toAdd = append(toAdd, raw)
		}
	}
	if _, err := s.e.RemoveMarked(); err != nil {
		return fmt.Errorf("filehash: SymmetricExceptWith: %w", err)
	}
	for _, raw := range toAdd {
		if _, err := s.e.Put(raw, nil); err != nil {
			return fmt.Errorf("filehash: SymmetricExceptWith: %w", err)
		}
	}
	return nil
}

// IsSubsetOf reports whether every member of s also appears in other.
func (s *Set[K]) IsSubsetOf(other iter.Seq[K]) (bool, error) {
	if err := s.e.ClearAllMarkers(); err != nil {
		return false, fmt.Errorf("filehash: IsSubsetOf: %w", err)
	}
	for k := range other {
		raw, err := s.encodeKey(k)
		if err != nil {
			return false, fmt.Errorf("filehash: IsSubsetOf: %w", err)
		}
		if _, err := s.e.MarkIfPresent(raw); err != nil {
			return false, fmt.Errorf("filehash: IsSubsetOf: %w", err)
		}
	}
	unmarked, err := s.e.CountUnmarked()
	if err != nil {
		return false, fmt.Errorf("filehash: IsSubsetOf: %w", err)
	}
	return unmarked == 0, nil
}

// IsSupersetOf reports whether every element produced by other is a member
// of s.
func (s *Set[K]) IsSupersetOf(other iter.Seq[K]) (bool, error) {
	for k := range other {
		ok, err := s.Contains(k)
		if err != nil {
			return false, fmt.Errorf("filehash: IsSupersetOf: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Overlaps reports whether s and other share at least one element.
func (s *Set[K]) Overlaps(other iter.Seq[K]) (bool, error) {
	for k := range other {
		ok, err := s.Contains(k)
		if err != nil {
			return false, fmt.Errorf("filehash: Overlaps: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// UnionWith adds every element produced by other to s, leaving s holding
// s ∪ other.
func (s *Set[K]) UnionWith(other iter.Seq[K]) error {
	for k := range other {
		if _, err := s.TryAdd(k); err != nil {
			return fmt.Errorf("filehash: UnionWith: %w", err)
		}
	}
	return nil
}

// IsProperSubsetOf reports whether s is a subset of other and the two are
// not equal.
func (s *Set[K]) IsProperSubsetOf(other iter.Seq[K]) (bool, error) {
	sub, err := s.IsSubsetOf(other)
	if err != nil || !sub {
		return false, err
	}
	eq, err := s.SetEquals(other)
	if err != nil {
		return false, err
	}
	return !eq, nil
}

// IsProperSupersetOf reports whether s is a superset of other and the two
// are not equal.
func (s *Set[K]) IsProperSupersetOf(other iter.Seq[K]) (bool, error) {
	super, err := s.IsSupersetOf(other)
	if err != nil || !super {
		return false, err
	}
	eq, err := s.SetEquals(other)
	if err != nil {
		return false, err
	}
	return !eq, nil
}

// SetEquals reports whether s and other contain exactly the same elements.
func (s *Set[K]) SetEquals(other iter.Seq[K]) (bool, error) {
	if err := s.e.ClearAllMarkers(); err != nil {
		return false, fmt.Errorf("filehash: SetEquals: %w", err)
	}
	for k := range other {
		raw, err := s.encodeKey(k)
		if err != nil {
			return false, fmt.Errorf("filehash: SetEquals: %w", err)
		}
		found, err := s.e.MarkIfPresent(raw)
		if err != nil {
			return false, fmt.Errorf("filehash: SetEquals: %w", err)
		}
		if !found {
			return false, nil
		}
	}
	unmarked, err := s.e.CountUnmarked()
	if err != nil {
		return false, fmt.Errorf("filehash: SetEquals: %w", err)
	}
	return unmarked == 0, nil
}
