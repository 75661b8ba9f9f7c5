// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nodeio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "nodeio-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.Truncate(4096))
	return f
}

func TestHeaderRoundTrip(t *testing.T) {
	f := tempFile(t)
	h := NewEmptyHeader(ModeDict)
	require.NoError(t, WriteHeader(f, h))
	got, err := ReadHeader(f)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDefaultSignatures(t *testing.T) {
	dictSig := DefaultSignature(ModeDict)
	setSig := DefaultSignature(ModeSet)
	require.NotEqual(t, dictSig, setSig)
	require.Equal(t, byte(0x31), dictSig[0])
	require.Equal(t, byte(0x65), setSig[0])
}

func TestJournalChecksumDetectsCorruption(t *testing.T) {
	f := tempFile(t)
	j := JournalNode{Operation: OpSet, LookupPointer: 80, ItemPointer: 200, Sync: 1}
	require.NoError(t, WriteJournal(f, j))

	got, err := ReadJournal(f)
	require.NoError(t, err)
	require.Equal(t, j, got)

	// corrupt one byte of the journal body; checksum mismatch must demote to None.
	_, err = f.WriteAt([]byte{0xff}, JournalOffset+4)
	require.NoError(t, err)
	got, err = ReadJournal(f)
	require.NoError(t, err)
	require.Equal(t, None, got)
}

func TestLookupNodeSizes(t *testing.T) {
	require.Equal(t, int64(8), ModeDict.LookupNodeSize())
	require.Equal(t, int64(12), ModeSet.LookupNodeSize())
}

func TestLookupSlotRoundTrip(t *testing.T) {
	f := tempFile(t)
	require.NoError(t, WriteLookupItemPointer(f, ModeSet, 3, 12345))
	require.NoError(t, WriteMarker(f, 3, 1))

	got, err := ReadLookupItemPointer(f, ModeSet, 3)
	require.NoError(t, err)
	require.Equal(t, int64(12345), got)

	m, err := ReadMarker(f, 3)
	require.NoError(t, err)
	require.Equal(t, int32(1), m)
}

func TestSlotOffsetExact(t *testing.T) {
	require.Equal(t, int64(80), slotOffset(ModeDict, 0))
	require.Equal(t, int64(88), slotOffset(ModeDict, 1))
	require.Equal(t, int64(92), slotOffset(ModeSet, 1))
}

func TestItemHeaderRoundTrip(t *testing.T) {
	f := tempFile(t)
	h := ItemHeader{LookupPointer: 80, NextItemPointer: 200, HashCode: -123, KeyLength: 7}
	require.NoError(t, WriteItemHeader(f, 1000, h))
	got, err := ReadItemHeader(f, 1000)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestWriteItemNodePointersLeavesHashCodeAlone(t *testing.T) {
	f := tempFile(t)
	h := ItemHeader{LookupPointer: 80, NextItemPointer: 200, HashCode: 42, KeyLength: 5}
	require.NoError(t, WriteItemHeader(f, 0, h))
	require.NoError(t, WriteItemNodePointers(f, 0, 88, 300))
	got, err := ReadItemHeader(f, 0)
	require.NoError(t, err)
	require.Equal(t, ItemHeader{LookupPointer: 88, NextItemPointer: 300, HashCode: 42, KeyLength: 5}, got)
}

func TestLiveTombstoneNeverOccupied(t *testing.T) {
	const itemSectionPointer = 144
	require.True(t, IsNeverOccupied(0))
	require.True(t, IsTombstone(1, itemSectionPointer))
	require.True(t, IsTombstone(50, itemSectionPointer)) // stale value below boundary
	require.True(t, IsLive(144, itemSectionPointer))
	require.True(t, IsLive(500, itemSectionPointer))
	require.False(t, IsLive(1, itemSectionPointer))
}
