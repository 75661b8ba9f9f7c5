// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package codec

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "codec-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestInt64RoundTrip(t *testing.T) {
	f := tempFile(t)
	require.NoError(t, PutInt64(f, 16, -42))
	got, err := Int64(f, 16)
	require.NoError(t, err)
	require.Equal(t, int64(-42), got)
}

func TestInt32RoundTrip(t *testing.T) {
	f := tempFile(t)
	require.NoError(t, PutInt32(f, 4, 1234))
	got, err := Int32(f, 4)
	require.NoError(t, err)
	require.Equal(t, int32(1234), got)
}

func TestBlob16RoundTrip(t *testing.T) {
	f := tempFile(t)
	var want [16]byte
	copy(want[:], "0123456789abcdef")
	require.NoError(t, PutBlob16(f, 0, want[:]))
	got, err := Blob16(f, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBlob16ZeroPads(t *testing.T) {
	f := tempFile(t)
	require.NoError(t, PutBlob16(f, 0, []byte("short")))
	got, err := Blob16(f, 0)
	require.NoError(t, err)
	var want [16]byte
	copy(want[:], "short")
	require.Equal(t, want, got)
}

func TestShortReadErrors(t *testing.T) {
	f := tempFile(t)
	_, err := Int64(f, 0)
	require.Error(t, err)
}
