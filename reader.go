package webmplay

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Source reader errors.
var (
	ErrInvalidPath       = errors.New("invalid file path")
	ErrReaderNotOpen     = errors.New("reader not open")
	ErrReaderAlreadyOpen = errors.New("reader already open")
	ErrReadOutOfRange    = errors.New("read position out of range")
	ErrShortRead         = errors.New("short read")
)

// SourceReader is a random-access byte source for the demuxer.
type SourceReader interface {
	// Read fills buf from position. It fails unless exactly len(buf) bytes
	// are available.
	Read(position int64, buf []byte) error

	// Length returns the total and currently available byte counts.
	Length() (total, available int64, err error)
}

// FileReader reads byte ranges from a file, optionally preloaded into memory.
type FileReader struct {
	mu        sync.RWMutex
	file      *os.File
	length    int64
	data      []byte
	preloaded bool
}

// NewFileReader opens path and returns a reader over it.
func NewFileReader(path string, preload bool) (*FileReader, error) {
	r := &FileReader{}
	if err := r.Open(path, preload); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens path and records its length. With preload the whole file is read
// into memory and subsequent reads never touch the file handle.
func (r *FileReader) Open(path string, preload bool) error {
	if path == "" {
		return ErrInvalidPath
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return ErrReaderAlreadyOpen
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		f.Close()
		return errors.Wrapf(ErrInvalidPath, "%s is a directory", path)
	}

	r.file = f
	r.length = info.Size()

	if preload {
		data := make([]byte, r.length)
		if _, err := io.ReadFull(f, data); err != nil {
			f.Close()
			r.file = nil
			r.length = 0
			return errors.Wrapf(err, "preload %s", path)
		}
		r.data = data
	}
	r.preloaded = preload

	return nil
}

// Read implements SourceReader.
func (r *FileReader) Read(position int64, buf []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.file == nil {
		return ErrReaderNotOpen
	}
	if position < 0 {
		return errors.Wrapf(ErrReadOutOfRange, "negative position %d", position)
	}
	if len(buf) == 0 {
		return nil
	}
	if position >= r.length {
		return errors.Wrapf(ErrReadOutOfRange, "position %d >= length %d", position, r.length)
	}

	if r.preloaded {
		n := copy(buf, r.data[position:])
		if n < len(buf) {
			return errors.Wrapf(ErrShortRead, "%d of %d bytes at %d", n, len(buf), position)
		}
		return nil
	}

	n, err := r.file.ReadAt(buf, position)
	if n < len(buf) {
		if err == nil || err == io.EOF {
			err = ErrShortRead
		}
		return errors.Wrapf(err, "%d of %d bytes at %d", n, len(buf), position)
	}
	return nil
}

// ReadAt implements io.ReaderAt.
func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	total, _, err := r.Length()
	if err != nil {
		return 0, err
	}
	if off >= total {
		return 0, io.EOF
	}
	n := len(p)
	if off+int64(n) > total {
		n = int(total - off)
	}
	if err := r.Read(off, p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Length implements SourceReader. Files are never partially available.
func (r *FileReader) Length() (total, available int64, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.file == nil {
		return 0, 0, ErrReaderNotOpen
	}
	return r.length, r.length, nil
}

// Preloaded reports whether the file content is held in memory.
func (r *FileReader) Preloaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preloaded
}

// Close releases the file handle and any preloaded data.
func (r *FileReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.data = nil
	r.length = 0
	r.preloaded = false
	return err
}
