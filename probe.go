package webmplay

import (
	"github.com/pkg/errors"
)

// ErrNoKeyframe is returned when a probe finds no decodable keyframe.
var ErrNoKeyframe = errors.New("webmplay: no keyframe found")

// DetectVideoCodec guesses the codec of a raw frame from its bitstream
// signature. A VP8 interframe carries no signature and returns
// VideoCodecUnknown.
func DetectVideoCodec(data []byte) VideoCodec {
	if isVP8Keyframe(data) {
		return VideoCodecVP8
	}
	if isVP9Frame(data) {
		return VideoCodecVP9
	}
	return VideoCodecUnknown
}

// isVP8Keyframe checks for VP8 keyframe signature.
// Per RFC 6386 Section 9.1, VP8 uncompressed data chunk:
//   - Byte 0: frame_type (1 bit), version (3 bits), show_frame (1 bit), partition_size (19 bits)
//   - Bytes 3-5 (keyframe only): start code 0x9D 0x01 0x2A followed by width/height
func isVP8Keyframe(data []byte) bool {
	if len(data) < 10 {
		return false
	}
	if data[0]&0x01 != 0 {
		return false
	}
	return data[3] == 0x9D && data[4] == 0x01 && data[5] == 0x2A
}

// isVP9Frame checks the 2-bit VP9 frame_marker (0b10) at the top of byte 0.
func isVP9Frame(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	return (data[0]>>6)&0x03 == 0x02
}

// vp8KeyframeSize reads the 14-bit width and height that follow the start
// code. The top two bits of each are the upscaling mode.
func vp8KeyframeSize(data []byte) (int, int, bool) {
	if !isVP8Keyframe(data) {
		return 0, 0, false
	}
	w := int(uint16(data[6])|uint16(data[7])<<8) & 0x3FFF
	h := int(uint16(data[8])|uint16(data[9])<<8) & 0x3FFF
	return w, h, w > 0 && h > 0
}

// bitReader reads MSB-first bits from a byte slice.
// Reading past the end sets short and yields zeros.
type bitReader struct {
	data  []byte
	pos   int
	short bool
}

func (r *bitReader) bits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		byteIdx := r.pos >> 3
		if byteIdx >= len(r.data) {
			r.short = true
			return 0
		}
		bit := (r.data[byteIdx] >> (7 - uint(r.pos&7))) & 1
		v = v<<1 | uint32(bit)
		r.pos++
	}
	return v
}

const vp9ColorSpaceRGB = 7

// vp9Header holds the leading fields of a VP9 uncompressed header. Color
// config and size are only filled for keyframes.
type vp9Header struct {
	profile    uint32
	keyframe   bool
	subsampleX bool
	subsampleY bool
	width      int
	height     int
}

// parseVP9Header walks the uncompressed header of a VP9 frame up to
// frame_width_minus_1 and frame_height_minus_1 on keyframes.
// Per VP9 Bitstream Specification Section 6.2.
func parseVP9Header(data []byte) (vp9Header, bool) {
	var hdr vp9Header
	if !isVP9Frame(data) {
		return hdr, false
	}
	r := &bitReader{data: data}
	read := r.bits

	read(2) // frame_marker
	hdr.profile = read(1) | read(1)<<1
	if hdr.profile == 3 {
		read(1) // reserved_zero
	}
	if read(1) == 1 { // show_existing_frame
		return hdr, false
	}
	hdr.keyframe = read(1) == 0
	if !hdr.keyframe {
		return hdr, !r.short
	}
	read(1) // show_frame
	read(1) // error_resilient_mode
	if read(8) != 0x49 || read(8) != 0x83 || read(8) != 0x42 {
		return hdr, false
	}

	if hdr.profile >= 2 {
		read(1) // ten_or_twelve_bit
	}
	hdr.subsampleX, hdr.subsampleY = true, true
	if read(3) != vp9ColorSpaceRGB {
		read(1) // color_range
		if hdr.profile == 1 || hdr.profile == 3 {
			hdr.subsampleX = read(1) == 1
			hdr.subsampleY = read(1) == 1
			read(1) // reserved_zero
		}
	} else {
		hdr.subsampleX, hdr.subsampleY = false, false
		if hdr.profile == 1 || hdr.profile == 3 {
			read(1) // reserved_zero
		}
	}

	hdr.width = int(read(16)) + 1
	hdr.height = int(read(16)) + 1
	if r.short {
		return hdr, false
	}
	return hdr, true
}

func vp9KeyframeSize(data []byte) (int, int, bool) {
	hdr, ok := parseVP9Header(data)
	if !ok || !hdr.keyframe {
		return 0, 0, false
	}
	return hdr.width, hdr.height, true
}

// vp9FrameFormat returns the pixel format a VP9 frame decodes to. Profiles 1
// and 3 only signal chroma subsampling on keyframes, so their interframes
// report ok false and the caller keeps the last known format.
func vp9FrameFormat(data []byte) (PixelFormat, bool) {
	hdr, ok := parseVP9Header(data)
	if !ok {
		return PixelFormatUnknown, false
	}
	switch hdr.profile {
	case 0:
		return PixelFormatI420, true
	case 2:
		return PixelFormatI42016, true
	}
	if !hdr.keyframe {
		return PixelFormatUnknown, false
	}
	if hdr.profile == 3 {
		// 4:2:2, 4:4:0 and 4:4:4 at 10 or 12 bits.
		return PixelFormatUnknown, true
	}
	switch {
	case hdr.subsampleX && hdr.subsampleY:
		return PixelFormatI420, true
	case hdr.subsampleX:
		return PixelFormatI422, true
	case !hdr.subsampleY:
		return PixelFormatI444, true
	}
	return PixelFormatUnknown, true
}

// chromaFormat checks a format against the plane strides returned by the
// decoder. A 4:2:0 or 4:2:2 image has chroma rows at most half as wide as
// luma rows; anything wider means the bitstream changed layout without a
// header we could read.
func chromaFormat(format PixelFormat, yStride, uvStride int) PixelFormat {
	halved := uvStride <= (yStride+1)/2
	switch format {
	case PixelFormatI420, PixelFormatI422, PixelFormatI42016:
		if !halved {
			return PixelFormatUnknown
		}
	case PixelFormatI444:
		if halved {
			return PixelFormatUnknown
		}
	}
	return format
}

// ProbeFrameSize returns the coded dimensions carried by a keyframe.
func ProbeFrameSize(codec VideoCodec, data []byte) (int, int, bool) {
	switch codec {
	case VideoCodecVP8:
		return vp8KeyframeSize(data)
	case VideoCodecVP9:
		return vp9KeyframeSize(data)
	}
	return 0, 0, false
}

// probeVideoSize finds the first keyframe of a track and reads its
// dimensions. The demuxer cursor is not moved.
func (d *Demuxer) probeVideoSize(track *TrackInfo) (int, int, error) {
	scan := &Demuxer{er: &ebmlReader{src: d.er.src, length: d.er.length}, seg: d.seg}
	scan.Reset()

	var b Block
	var buf []byte
	for {
		ok, err := scan.nextBlock(&b)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, ErrNoKeyframe
		}
		if b.TrackNumber != track.Number || !b.Keyframe || len(b.Frames) == 0 {
			continue
		}
		buf, err = b.ReadFrame(d.er.src, 0, buf)
		if err != nil {
			return 0, 0, err
		}
		if w, h, ok := ProbeFrameSize(track.VideoCodec(), buf); ok {
			return w, h, nil
		}
		return 0, 0, errors.Wrapf(ErrNoKeyframe, "track %d keyframe at %.3fs", track.Number, b.Time())
	}
}
