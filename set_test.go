// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package filehash

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvstore/filehash/serializer"
)

func openTestSet(t *testing.T, elements ...string) *Set[string] {
	t.Helper()
	s, err := OpenSet[string](tempPath(t, "s.bit"), serializer.String(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for _, e := range elements {
		require.NoError(t, s.Add(e))
	}
	return s
}

func collect(t *testing.T, s *Set[string]) []string {
	t.Helper()
	var out []string
	for k, err := range s.All() {
		require.NoError(t, err)
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func TestSetAddRemoveContains(t *testing.T) {
	s := openTestSet(t, "a", "b", "c")
	ok, err := s.Contains("b")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := s.Remove("b")
	require.NoError(t, err)
	require.True(t, removed)

	ok, err = s.Contains("b")
	require.NoError(t, err)
	require.False(t, ok)
	require.EqualValues(t, 2, s.Count())
}

func TestSetAddRejectsDuplicate(t *testing.T) {
	s := openTestSet(t, "a")
	err := s.Add("a")
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.EqualValues(t, 1, s.Count())
}

func TestSetTryAdd(t *testing.T) {
	s := openTestSet(t, "a")

	added, err := s.TryAdd("b")
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.TryAdd("a")
	require.NoError(t, err)
	require.False(t, added)
	require.EqualValues(t, 2, s.Count())
}

func TestSetIntersectWith(t *testing.T) {
	s := openTestSet(t, "a", "b", "c", "d")
	other := slices.Values([]string{"b", "d", "e"})
	require.NoError(t, s.IntersectWith(other))
	require.Equal(t, []string{"b", "d"}, collect(t, s))
}

func TestSetExceptWith(t *testing.T) {
	s := openTestSet(t, "a", "b", "c", "d")
	other := slices.Values([]string{"b", "d", "e"})
	require.NoError(t, s.ExceptWith(other))
	require.Equal(t, []string{"a", "c"}, collect(t, s))
}

func TestSetSymmetricExceptWith(t *testing.T) {
	s := openTestSet(t, "a", "b", "c")
	other := slices.Values([]string{"b", "c", "d"})
	require.NoError(t, s.SymmetricExceptWith(other))
	require.Equal(t, []string{"a", "d"}, collect(t, s))
}

func TestSetIsSubsetAndSupersetOf(t *testing.T) {
	s := openTestSet(t, "a", "b")
	sub, err := s.IsSubsetOf(slices.Values([]string{"a", "b", "c"}))
	require.NoError(t, err)
	require.True(t, sub)

	sub, err = s.IsSubsetOf(slices.Values([]string{"a"}))
	require.NoError(t, err)
	require.False(t, sub)

	super, err := s.IsSupersetOf(slices.Values([]string{"a"}))
	require.NoError(t, err)
	require.True(t, super)

	super, err = s.IsSupersetOf(slices.Values([]string{"a", "z"}))
	require.NoError(t, err)
	require.False(t, super)
}

func TestSetOverlaps(t *testing.T) {
	s := openTestSet(t, "a", "b")
	ok, err := s.Overlaps(slices.Values([]string{"x", "b"}))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Overlaps(slices.Values([]string{"x", "y"}))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetUnionWith(t *testing.T) {
	s := openTestSet(t, "a", "b")
	require.NoError(t, s.UnionWith(slices.Values([]string{"b", "c"})))
	require.Equal(t, []string{"a", "b", "c"}, collect(t, s))
}

func TestSetIsProperSubsetAndSupersetOf(t *testing.T) {
	s := openTestSet(t, "a", "b")
	proper, err := s.IsProperSubsetOf(slices.Values([]string{"a", "b", "c"}))
	require.NoError(t, err)
	require.True(t, proper)

	proper, err = s.IsProperSubsetOf(slices.Values([]string{"a", "b"}))
	require.NoError(t, err)
	require.False(t, proper)

	properSuper, err := s.IsProperSupersetOf(slices.Values([]string{"a"}))
	require.NoError(t, err)
	require.True(t, properSuper)

	properSuper, err = s.IsProperSupersetOf(slices.Values([]string{"a", "b"}))
	require.NoError(t, err)
	require.False(t, properSuper)
}

func TestSetEquals(t *testing.T) {
	s := openTestSet(t, "a", "b", "c")
	ok, err := s.SetEquals(slices.Values([]string{"a", "b", "c"}))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetEquals(slices.Values([]string{"a", "b"}))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.SetEquals(slices.Values([]string{"a", "b", "c", "d"}))
	require.NoError(t, err)
	require.False(t, ok)
}
