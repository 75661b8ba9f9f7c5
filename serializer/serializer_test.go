// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package serializer

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func roundTrip[T any](t *testing.T, c Codec[T], v T) T {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf, v))
	got, err := c.Read(&buf)
	require.NoError(t, err)
	require.Zero(t, buf.Len(), "codec must consume exactly what it wrote")
	return got
}

func TestInt8RoundTrip(t *testing.T) {
	require.EqualValues(t, -12, roundTrip(t, Int8(), int8(-12)))
}

func TestUInt8RoundTrip(t *testing.T) {
	require.EqualValues(t, 250, roundTrip(t, UInt8(), uint8(250)))
}

func TestInt16RoundTrip(t *testing.T) {
	require.EqualValues(t, -1234, roundTrip(t, Int16(), int16(-1234)))
}

func TestUInt16RoundTrip(t *testing.T) {
	require.EqualValues(t, 60000, roundTrip(t, UInt16(), uint16(60000)))
}

func TestInt32RoundTrip(t *testing.T) {
	require.EqualValues(t, -123456, roundTrip(t, Int32(), int32(-123456)))
}

func TestUInt32RoundTrip(t *testing.T) {
	require.EqualValues(t, 4000000000, roundTrip(t, UInt32(), uint32(4000000000)))
}

func TestInt64RoundTrip(t *testing.T) {
	require.EqualValues(t, -12345, roundTrip(t, Int64(), int64(-12345)))
}

func TestUint64RoundTrip(t *testing.T) {
	require.EqualValues(t, uint64(1<<63), roundTrip(t, Uint64(), uint64(1<<63)))
}

func TestFloat32RoundTrip(t *testing.T) {
	require.EqualValues(t, float32(3.5), roundTrip(t, Float32(), float32(3.5)))
}

func TestFloat64RoundTrip(t *testing.T) {
	require.EqualValues(t, 2.718281828, roundTrip(t, Float64(), 2.718281828))
}

func TestDecimalRoundTrip(t *testing.T) {
	var in Decimal
	copy(in[:], "0123456789abcdef")
	require.Equal(t, in, roundTrip(t, DecimalCodec(), in))
}

func TestCharRoundTrip(t *testing.T) {
	require.Equal(t, 'A', roundTrip(t, Char(), 'A'))
	require.Equal(t, '日', roundTrip(t, Char(), '日'))
}

func TestCharRejectsOutsideBMP(t *testing.T) {
	var buf bytes.Buffer
	err := Char().Write(&buf, '😀')
	require.Error(t, err)
}

func TestStringRoundTrip(t *testing.T) {
	c := String()
	for _, s := range []string{"", "hello", "日本語"} {
		require.Equal(t, s, roundTrip(t, c, s))
	}
}

func TestNullableStringDistinguishesNilFromEmpty(t *testing.T) {
	c := NullableString()
	empty := ""

	require.Nil(t, roundTrip(t, c, (*string)(nil)))

	got := roundTrip(t, c, &empty)
	require.NotNil(t, got)
	require.Equal(t, "", *got)

	var nilBuf, emptyBuf bytes.Buffer
	require.NoError(t, c.Write(&nilBuf, nil))
	require.NoError(t, c.Write(&emptyBuf, &empty))
	require.NotEqual(t, nilBuf.Bytes(), emptyBuf.Bytes())
}

func TestTimeRoundTrip(t *testing.T) {
	c := Time()
	now := time.Date(2026, 8, 6, 12, 30, 0, 0, time.UTC)
	got := roundTrip(t, c, now)
	require.True(t, now.Equal(got))
}

func TestUUIDRoundTrip(t *testing.T) {
	id := uuid.New()
	require.Equal(t, id, roundTrip(t, UUID(), id))
}

func TestSliceRoundTrip(t *testing.T) {
	in := []int64{1, -2, 3, 0, 1 << 40}
	require.Equal(t, in, roundTrip(t, Slice(Int64()), in))
}

func TestSliceEmpty(t *testing.T) {
	got := roundTrip(t, Slice(String()), nil)
	require.Len(t, got, 0)
}

func TestSliceOfStringsHasNoPerElementLengthFraming(t *testing.T) {
	// Strings self-delimit via their own length prefix; Slice must not add
	// a second 4-byte length around each element.
	c := Slice(String())
	in := []string{"a", "bb", "ccc"}
	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf, in))

	wantLen := 4 // count prefix
	for _, s := range in {
		wantLen += 1 + len(s) // 1-byte varint length (all < 128) + body
	}
	require.Equal(t, wantLen, buf.Len())

	got, err := c.Read(&buf)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

type customPoint struct {
	X, Y int32
}

func (p customPoint) WriteTo(w io.Writer) error {
	if err := Int32().Write(w, p.X); err != nil {
		return err
	}
	return Int32().Write(w, p.Y)
}

func (p *customPoint) ReadFrom(r io.Reader) error {
	x, err := Int32().Read(r)
	if err != nil {
		return err
	}
	y, err := Int32().Read(r)
	if err != nil {
		return err
	}
	p.X, p.Y = x, y
	return nil
}

func TestCustomInstanceMethods(t *testing.T) {
	c, err := Custom[customPoint](nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, customPoint{X: 3, Y: -4}, roundTrip(t, c, customPoint{X: 3, Y: -4}))
}

func TestCustomStaticFunctions(t *testing.T) {
	c, err := Custom(
		func(w io.Writer, v customPoint) error { return v.WriteTo(w) },
		func(r io.Reader) (customPoint, error) {
			var p customPoint
			err := p.ReadFrom(r)
			return p, err
		},
		nil,
	)
	require.NoError(t, err)
	require.Equal(t, customPoint{X: 1, Y: 2}, roundTrip(t, c, customPoint{X: 1, Y: 2}))
}

func TestCustomConstructor(t *testing.T) {
	c, err := Custom[customPoint](nil, nil, func(r io.Reader) (customPoint, error) {
		var p customPoint
		err := p.ReadFrom(r)
		return p, err
	})
	require.NoError(t, err)
	require.Equal(t, customPoint{X: 5, Y: 6}, roundTrip(t, c, customPoint{X: 5, Y: 6}))
}

type unsupportedCustomType struct{}

func TestCustomFailsFastOnUnsupportedType(t *testing.T) {
	_, err := Custom[unsupportedCustomType](nil, nil, nil)
	require.Error(t, err)
}
