package webmplay

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReader(t *testing.T) {
	data := []byte("0123456789abcdef")
	path := writeTestFile(t, "data.bin", data)

	for _, preload := range []bool{false, true} {
		name := "streamed"
		if preload {
			name = "preloaded"
		}
		t.Run(name, func(t *testing.T) {
			r, err := NewFileReader(path, preload)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, preload, r.Preloaded())

			total, available, err := r.Length()
			require.NoError(t, err)
			assert.Equal(t, int64(16), total)
			assert.Equal(t, total, available)

			buf := make([]byte, 4)
			require.NoError(t, r.Read(10, buf))
			assert.Equal(t, "abcd", string(buf))

			require.NoError(t, r.Read(0, nil))

			err = r.Read(14, buf)
			assert.True(t, errors.Is(err, ErrShortRead), "got %v", err)

			err = r.Read(16, buf)
			assert.True(t, errors.Is(err, ErrReadOutOfRange), "got %v", err)

			err = r.Read(-1, buf)
			assert.True(t, errors.Is(err, ErrReadOutOfRange), "got %v", err)
		})
	}
}

func TestFileReader_ReadAt(t *testing.T) {
	path := writeTestFile(t, "data.bin", []byte("hello world"))
	r, err := NewFileReader(path, true)
	require.NoError(t, err)
	defer r.Close()

	var _ io.ReaderAt = r

	buf := make([]byte, 8)
	n, err := r.ReadAt(buf, 6)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = r.ReadAt(buf, 11)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)
}

func TestFileReader_Lifecycle(t *testing.T) {
	path := writeTestFile(t, "data.bin", []byte("xyz"))

	_, err := NewFileReader("", false)
	assert.Equal(t, ErrInvalidPath, err)

	_, err = NewFileReader(path+".missing", false)
	assert.Error(t, err)

	_, err = NewFileReader(t.TempDir(), false)
	assert.True(t, errors.Is(err, ErrInvalidPath))

	var r FileReader
	assert.Equal(t, ErrReaderNotOpen, r.Read(0, make([]byte, 1)))
	_, _, err = r.Length()
	assert.Equal(t, ErrReaderNotOpen, err)

	require.NoError(t, r.Open(path, false))
	assert.Equal(t, ErrReaderAlreadyOpen, r.Open(path, false))

	require.NoError(t, r.Close())
	assert.NoError(t, r.Close(), "second close is a no-op")
	assert.Equal(t, ErrReaderNotOpen, r.Read(0, make([]byte, 1)))

	// Reopen after close.
	require.NoError(t, r.Open(path, true))
	defer r.Close()
	buf := make([]byte, 3)
	require.NoError(t, r.Read(0, buf))
	assert.Equal(t, "xyz", string(buf))
}
