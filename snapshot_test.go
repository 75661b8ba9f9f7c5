// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package filehash

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvstore/filehash/serializer"
)

func TestMapExportAndOpenSnapshot(t *testing.T) {
	m, err := OpenMap[string, int64](tempPath(t, "m.bit"), serializer.String(), serializer.Int64(), Options{})
	require.NoError(t, err)
	defer m.Close()

	for i := int64(0); i < 500; i++ {
		_, err := m.Set(fmt.Sprintf("key-%04d", i), i)
		require.NoError(t, err)
	}

	snapPath := tempPath(t, "m.snapshot")
	f, err := os.Create(snapPath)
	require.NoError(t, err)
	require.NoError(t, m.ExportSnapshot(f))
	require.NoError(t, f.Close())

	snap, err := OpenMapSnapshot[string, int64](snapPath, serializer.String(), serializer.Int64())
	require.NoError(t, err)
	defer snap.Close()

	require.EqualValues(t, 500, snap.Len())
	require.Equal(t, m.Signature(), snap.Signature())

	for entry, err := range m.All() {
		require.NoError(t, err)
		v, found, err := snap.Get(entry.Key)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, entry.Value, v)
	}

	_, found, err := snap.Get("not-a-real-key-at-all-xyz")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSetExportAndOpenSnapshot(t *testing.T) {
	s := openTestSet(t, "a", "b", "c", "d", "e")

	snapPath := tempPath(t, "s.snapshot")
	f, err := os.Create(snapPath)
	require.NoError(t, err)
	require.NoError(t, s.ExportSnapshot(f))
	require.NoError(t, f.Close())

	snap, err := OpenSetSnapshot[string](snapPath, serializer.String())
	require.NoError(t, err)
	defer snap.Close()

	require.EqualValues(t, 5, snap.Len())
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		ok, err := snap.Contains(k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := snap.Contains("zzz")
	require.NoError(t, err)
	require.False(t, ok)
}
