package webmplay

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVint(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		value   uint64
		length  int
		allOnes bool
	}{
		{"one byte", []byte{0x81}, 1, 1, false},
		{"one byte max", []byte{0xFE}, 126, 1, false},
		{"one byte unknown", []byte{0xFF}, 127, 1, true},
		{"two bytes", []byte{0x40, 0x02}, 2, 2, false},
		{"two bytes large", []byte{0x7F, 0xFE}, 0x3FFE, 2, false},
		{"four bytes", []byte{0x10, 0x00, 0x01, 0x00}, 256, 4, false},
		{"eight bytes unknown", ebmlUnknownSize, (1 << 56) - 1, 8, true},
		{"trailing bytes ignored", []byte{0x82, 0xAA, 0xBB}, 2, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, n, ones, err := decodeVint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.value, v)
			assert.Equal(t, tt.length, n)
			assert.Equal(t, tt.allOnes, ones)
		})
	}
}

func TestDecodeVint_Errors(t *testing.T) {
	_, _, _, err := decodeVint(nil)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, _, _, err = decodeVint([]byte{0x00, 0x01})
	assert.True(t, errors.Is(err, ErrMalformedElement))

	_, _, _, err = decodeVint([]byte{0x20, 0x01})
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestDecodeSignedVint(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0xBF}, 0},   // 63 - 63
		{[]byte{0x80}, -63}, // 0 - 63
		{[]byte{0xC0}, 1},
		{[]byte{0x5F, 0xFF}, 0}, // 8191 - 8191
		{[]byte{0x60, 0x09}, 10},
	}
	for _, tt := range tests {
		got, _, err := decodeSignedVint(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "decodeSignedVint(% X)", tt.in)
	}
}

func TestEbmlVintEncoderRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 126, 127, 128, 0x3FFE, 0x3FFF, 1 << 20} {
		v, length, ones, err := decodeVint(ebmlVint(n))
		require.NoError(t, err)
		assert.Equal(t, n, v)
		assert.Equal(t, len(ebmlVint(n)), length)
		assert.False(t, ones, "n=%d encoded as unknown size", n)
	}
}

func TestEBMLReader_Elements(t *testing.T) {
	data := append(ebmlElem(idInfo,
		ebmlUint(idTimecodeScale, 500000),
		ebmlFloat(idDuration, 1234.5),
		ebmlString(idDocType, "webm\x00\x00"),
		ebmlElem(idCodecPrivate, []byte{1, 2, 3}),
		ebmlElem(0x75A2, []byte{0xFF, 0x38}), // signed -200
	), ebmlElem(idVoid, []byte{0, 0})...)

	er, err := newEBMLReader(memSource(data))
	require.NoError(t, err)

	info, err := er.readHeader(0, er.length)
	require.NoError(t, err)
	assert.Equal(t, uint32(idInfo), info.id)
	assert.Equal(t, int64(0), info.offset)

	var got []uint32
	err = er.children(info, er.length, nil, func(el ebmlElement) error {
		got = append(got, el.id)
		switch el.id {
		case idTimecodeScale:
			v, err := er.readUint(el)
			require.NoError(t, err)
			assert.Equal(t, uint64(500000), v)
		case idDuration:
			v, err := er.readFloat(el)
			require.NoError(t, err)
			assert.Equal(t, 1234.5, v)
		case idDocType:
			v, err := er.readString(el)
			require.NoError(t, err)
			assert.Equal(t, "webm", v)
		case idCodecPrivate:
			v, err := er.readBytes(el)
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3}, v)
		case 0x75A2:
			v, err := er.readInt(el)
			require.NoError(t, err)
			assert.Equal(t, int64(-200), v)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{idTimecodeScale, idDuration, idDocType, idCodecPrivate, 0x75A2}, got)

	next, err := er.readHeader(info.dataOffset+info.size, er.length)
	require.NoError(t, err)
	assert.Equal(t, uint32(idVoid), next.id)

	_, err = er.readHeader(next.dataOffset+next.size, er.length)
	assert.Equal(t, io.EOF, err)
}

func TestEBMLReader_Float32(t *testing.T) {
	data := ebmlElem(idSamplingFrequency, []byte{0x47, 0x2C, 0x44, 0x00}) // 44100
	er, err := newEBMLReader(memSource(data))
	require.NoError(t, err)

	el, err := er.readHeader(0, er.length)
	require.NoError(t, err)
	v, err := er.readFloat(el)
	require.NoError(t, err)
	assert.Equal(t, 44100.0, v)
}

func TestEBMLReader_Malformed(t *testing.T) {
	t.Run("overrun parent", func(t *testing.T) {
		data := append(ebmlID(idInfo), 0x90, 0x01) // claims 16 bytes, has 1
		er, err := newEBMLReader(memSource(data))
		require.NoError(t, err)
		_, err = er.readHeader(0, er.length)
		assert.True(t, errors.Is(err, ErrMalformedElement))
	})

	t.Run("bad id marker", func(t *testing.T) {
		er, err := newEBMLReader(memSource{0x00, 0x81, 0x00})
		require.NoError(t, err)
		_, err = er.readHeader(0, er.length)
		assert.True(t, errors.Is(err, ErrMalformedElement))
	})

	t.Run("oversized uint", func(t *testing.T) {
		data := ebmlElem(idTimecodeScale, make([]byte, 9))
		er, err := newEBMLReader(memSource(data))
		require.NoError(t, err)
		el, err := er.readHeader(0, er.length)
		require.NoError(t, err)
		_, err = er.readUint(el)
		assert.True(t, errors.Is(err, ErrMalformedElement))
	})

	t.Run("odd float size", func(t *testing.T) {
		data := ebmlElem(idDuration, []byte{1, 2, 3})
		er, err := newEBMLReader(memSource(data))
		require.NoError(t, err)
		el, err := er.readHeader(0, er.length)
		require.NoError(t, err)
		_, err = er.readFloat(el)
		assert.True(t, errors.Is(err, ErrMalformedElement))
	})
}

func TestEBMLReader_UnknownSizeChildren(t *testing.T) {
	cluster := ebmlUnknownElem(idCluster,
		ebmlUint(idTimecode, 7),
		ebmlElem(idSimpleBlock, []byte{0x81, 0, 0, 0x80, 0xAA}))
	data := append(cluster, ebmlElem(idCues)...)

	er, err := newEBMLReader(memSource(data))
	require.NoError(t, err)
	el, err := er.readHeader(0, er.length)
	require.NoError(t, err)
	assert.Equal(t, unknownElementSize, el.size)
	assert.Equal(t, er.length, el.end(er.length))

	var ids []uint32
	err = er.children(el, er.length, isClusterChild, func(c ebmlElement) error {
		ids = append(ids, c.id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{idTimecode, idSimpleBlock}, ids)
}
