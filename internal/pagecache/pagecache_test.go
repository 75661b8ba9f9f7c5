// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package pagecache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func open(t *testing.T, cacheSize int) *File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "pagecache-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	c, err := Open(f, cacheSize, false)
	require.NoError(t, err)
	return c
}

func TestWriteAtReadAtRoundTrip(t *testing.T) {
	c := open(t, 0)
	require.NoError(t, c.Truncate(pageSize*4))
	payload := []byte("hello, cached world")
	_, err := c.WriteAt(payload, 100)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	_, err = c.ReadAt(got, 100)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteAtSpansPageBoundary(t *testing.T) {
	c := open(t, 0)
	require.NoError(t, c.Truncate(pageSize*3))
	payload := make([]byte, pageSize+32)
	for i := range payload {
		payload[i] = byte(i)
	}
	off := int64(pageSize - 16)
	_, err := c.WriteAt(payload, off)
	require.NoError(t, err)

	got := make([]byte, len(payload))
	_, err = c.ReadAt(got, off)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestEvictionRespectsCacheSize(t *testing.T) {
	c := open(t, 2*pageSize)
	require.NoError(t, c.Truncate(pageSize*8))
	for i := int64(0); i < 8; i++ {
		b := make([]byte, 4)
		b[0] = byte(i)
		_, err := c.WriteAt(b, i*pageSize)
		require.NoError(t, err)
	}
	// forcing reads of every page exercises eviction without panicking or
	// losing data, since writes are always write-through to the file.
	for i := int64(0); i < 8; i++ {
		b := make([]byte, 4)
		_, err := c.ReadAt(b, i*pageSize)
		require.NoError(t, err)
		require.Equal(t, byte(i), b[0])
	}
	require.LessOrEqual(t, c.cached, 2*pageSize)
}

func TestTruncateDropsOutOfRangePages(t *testing.T) {
	c := open(t, 0)
	require.NoError(t, c.Truncate(pageSize*4))
	_, err := c.WriteAt([]byte{1, 2, 3}, pageSize*3)
	require.NoError(t, err)
	require.NoError(t, c.Truncate(pageSize))
	require.Equal(t, int64(pageSize), c.Len())
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "pagecache-ro-test")
	require.NoError(t, err)
	defer f.Close()
	c, err := Open(f, 0, true)
	require.NoError(t, err)
	_, err = c.WriteAt([]byte{1}, 0)
	require.Error(t, err)
}

func TestStreamReadWrite(t *testing.T) {
	c := open(t, 0)
	require.NoError(t, c.Truncate(pageSize))
	_, err := c.Seek(10, 0)
	require.NoError(t, err)
	n, err := c.Write([]byte("stream"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	_, err = c.Seek(10, 0)
	require.NoError(t, err)
	buf := make([]byte, 6)
	_, err = c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "stream", string(buf))
}
