package webmplay

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// ErrMalformedElement is returned for EBML data that cannot be decoded.
var ErrMalformedElement = errors.New("malformed EBML element")

// unknownElementSize marks elements whose size field is all ones (live streams).
const unknownElementSize int64 = -1

// maxElementHeader is the longest ID (4) plus the longest size (8).
const maxElementHeader = 12

// ebmlElement is a decoded element header.
type ebmlElement struct {
	id         uint32
	offset     int64 // position of the ID
	dataOffset int64 // position of the payload
	size       int64 // payload size, or unknownElementSize
}

// end returns the payload end, bounded by the parent end for unknown sizes.
func (e ebmlElement) end(parentEnd int64) int64 {
	if e.size == unknownElementSize {
		return parentEnd
	}
	return e.dataOffset + e.size
}

// vintLength returns the encoded length of a variable size integer from its
// first byte, or 0 if the byte has no length marker.
func vintLength(first byte) int {
	for i := 0; i < 8; i++ {
		if first&(0x80>>uint(i)) != 0 {
			return i + 1
		}
	}
	return 0
}

// decodeVint decodes a size-style vint (marker bit stripped) from b.
// It returns the value, the encoded length and whether all value bits were set.
func decodeVint(b []byte) (value uint64, length int, allOnes bool, err error) {
	if len(b) == 0 {
		return 0, 0, false, io.ErrUnexpectedEOF
	}
	length = vintLength(b[0])
	if length == 0 {
		return 0, 0, false, errors.Wrap(ErrMalformedElement, "invalid vint marker")
	}
	if length > len(b) {
		return 0, 0, false, io.ErrUnexpectedEOF
	}

	value = uint64(b[0] & (0xFF >> uint(length)))
	for i := 1; i < length; i++ {
		value = value<<8 | uint64(b[i])
	}
	allOnes = value == (uint64(1)<<uint(7*length))-1
	return value, length, allOnes, nil
}

// decodeSignedVint decodes an EBML-laced signed size difference.
func decodeSignedVint(b []byte) (int64, int, error) {
	v, n, _, err := decodeVint(b)
	if err != nil {
		return 0, 0, err
	}
	bias := int64(1)<<uint(7*n-1) - 1
	return int64(v) - bias, n, nil
}

// ebmlReader decodes elements from a SourceReader.
type ebmlReader struct {
	src    SourceReader
	length int64
	hdr    [maxElementHeader]byte
	buf    []byte
}

func newEBMLReader(src SourceReader) (*ebmlReader, error) {
	total, _, err := src.Length()
	if err != nil {
		return nil, err
	}
	return &ebmlReader{src: src, length: total}, nil
}

// readHeader decodes the element header at pos. end bounds the parent.
func (er *ebmlReader) readHeader(pos, end int64) (ebmlElement, error) {
	if end > er.length {
		end = er.length
	}
	n := end - pos
	if n <= 0 {
		return ebmlElement{}, io.EOF
	}
	if n > maxElementHeader {
		n = maxElementHeader
	}

	hdr := er.hdr[:n]
	if err := er.src.Read(pos, hdr); err != nil {
		return ebmlElement{}, err
	}

	idLen := vintLength(hdr[0])
	if idLen == 0 || idLen > 4 {
		return ebmlElement{}, errors.Wrapf(ErrMalformedElement, "invalid element id at %d", pos)
	}
	if idLen >= len(hdr) {
		return ebmlElement{}, errors.Wrapf(io.ErrUnexpectedEOF, "element header at %d", pos)
	}

	var id uint32
	for _, b := range hdr[:idLen] {
		id = id<<8 | uint32(b)
	}

	size, sizeLen, allOnes, err := decodeVint(hdr[idLen:])
	if err != nil {
		return ebmlElement{}, errors.Wrapf(err, "element size at %d", pos)
	}

	el := ebmlElement{
		id:         id,
		offset:     pos,
		dataOffset: pos + int64(idLen+sizeLen),
		size:       int64(size),
	}
	if allOnes {
		el.size = unknownElementSize
	} else if size > math.MaxInt64/2 || el.dataOffset+el.size > end {
		return ebmlElement{}, errors.Wrapf(ErrMalformedElement, "element 0x%X at %d overruns parent", id, pos)
	}
	return el, nil
}

// payload reads an element payload into the reader's scratch buffer.
// The returned slice is valid until the next payload call.
func (er *ebmlReader) payload(el ebmlElement) ([]byte, error) {
	if el.size == unknownElementSize {
		return nil, errors.Wrapf(ErrMalformedElement, "element 0x%X has unknown size", el.id)
	}
	if int64(cap(er.buf)) < el.size {
		er.buf = make([]byte, el.size)
	}
	buf := er.buf[:el.size]
	if err := er.src.Read(el.dataOffset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (er *ebmlReader) readUint(el ebmlElement) (uint64, error) {
	if el.size > 8 {
		return 0, errors.Wrapf(ErrMalformedElement, "uint element 0x%X size %d", el.id, el.size)
	}
	b, err := er.payload(el)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func (er *ebmlReader) readInt(el ebmlElement) (int64, error) {
	if el.size > 8 {
		return 0, errors.Wrapf(ErrMalformedElement, "int element 0x%X size %d", el.id, el.size)
	}
	b, err := er.payload(el)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}
	v := int64(int8(b[0]))
	for _, c := range b[1:] {
		v = v<<8 | int64(c)
	}
	return v, nil
}

func (er *ebmlReader) readFloat(el ebmlElement) (float64, error) {
	b, err := er.payload(el)
	if err != nil {
		return 0, err
	}
	switch len(b) {
	case 0:
		return 0, nil
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, errors.Wrapf(ErrMalformedElement, "float element 0x%X size %d", el.id, el.size)
	}
}

func (er *ebmlReader) readString(el ebmlElement) (string, error) {
	b, err := er.payload(el)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

func (er *ebmlReader) readBytes(el ebmlElement) ([]byte, error) {
	b, err := er.payload(el)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// children calls fn for every direct child of the element. For unknown-size
// parents, iteration stops at the first ID for which isChild returns false.
func (er *ebmlReader) children(parent ebmlElement, parentEnd int64, isChild func(uint32) bool, fn func(ebmlElement) error) error {
	end := parent.end(parentEnd)
	pos := parent.dataOffset
	for pos < end {
		el, err := er.readHeader(pos, end)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if parent.size == unknownElementSize && isChild != nil && !isChild(el.id) {
			return nil
		}
		if err := fn(el); err != nil {
			return err
		}
		if el.size == unknownElementSize {
			return errors.Wrapf(ErrMalformedElement, "nested element 0x%X has unknown size", el.id)
		}
		pos = el.dataOffset + el.size
	}
	return nil
}
