// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package filehash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvstore/filehash/serializer"
)

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func TestMapSetGetDelete(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, int64](path, serializer.String(), serializer.Int64(), Options{})
	require.NoError(t, err)
	defer m.Close()

	inserted, err := m.Set("a", 1)
	require.NoError(t, err)
	require.True(t, inserted)

	v, ok, err := m.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v)

	inserted, err = m.Set("a", 2)
	require.NoError(t, err)
	require.False(t, inserted)
	v, ok, err = m.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, v)

	deleted, err := m.Delete("a")
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err = m.Get("a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapAddTryAddContains(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, int64](path, serializer.String(), serializer.Int64(), Options{})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Add("a", 1))

	err = m.Add("a", 2)
	require.ErrorIs(t, err, ErrDuplicateKey)

	v, ok, err := m.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v)

	added, err := m.TryAdd("a", 99)
	require.NoError(t, err)
	require.False(t, added)

	added, err = m.TryAdd("b", 2)
	require.NoError(t, err)
	require.True(t, added)

	ok, err = m.Contains("b")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Contains("z")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapMustGetReturnsErrNotFound(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, int64](path, serializer.String(), serializer.Int64(), Options{})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.MustGet("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Set("a", 1)
	require.NoError(t, err)
	v, err := m.MustGet("a")
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestMapReopenSurvivesClose(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, string](path, serializer.String(), serializer.String(), Options{})
	require.NoError(t, err)
	_, err = m.Set("k", "v")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m2, err := OpenMap[string, string](path, serializer.String(), serializer.String(), Options{})
	require.NoError(t, err)
	defer m2.Close()
	v, ok, err := m2.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestMapAllEnumeratesAndCount(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, int64](path, serializer.String(), serializer.Int64(), Options{})
	require.NoError(t, err)
	defer m.Close()

	for i := int64(0); i < 10; i++ {
		_, err := m.Set(string(rune('a'+i)), i)
		require.NoError(t, err)
	}
	require.EqualValues(t, 10, m.Count())

	seen := map[string]int64{}
	for entry, err := range m.All() {
		require.NoError(t, err)
		seen[entry.Key] = entry.Value
	}
	require.Len(t, seen, 10)
}

func TestMapReadOnlyRejectsSet(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, string](path, serializer.String(), serializer.String(), Options{})
	require.NoError(t, err)
	_, err = m.Set("a", "b")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	ro, err := OpenMap[string, string](path, serializer.String(), serializer.String(), Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	require.True(t, ro.IsReadOnly())
	_, err = ro.Set("c", "d")
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestMapCompactAndClear(t *testing.T) {
	path := tempPath(t, "m.bit")
	m, err := OpenMap[string, int64](path, serializer.String(), serializer.Int64(), Options{})
	require.NoError(t, err)
	defer m.Close()

	for i := int64(0); i < 20; i++ {
		_, err := m.Set(string(rune('a'+i%26)), i)
		require.NoError(t, err)
	}
	require.NoError(t, m.Compact())
	require.EqualValues(t, 0, m.FragmentationCount())

	require.NoError(t, m.Clear())
	require.EqualValues(t, 0, m.Count())
}
