// Core picture types shared by the decoders and the frame buffer.
package webmplay

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatI422                      // YUV 4:2:2 planar
	PixelFormatI444                      // YUV 4:4:4 planar
	PixelFormatI42016                    // YUV 4:2:0 planar, 16 bits per sample
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)

	// PixelFormatUnknown marks a layout none of the above describes, such as
	// 4:4:0 or high bit depth 4:2:2.
	PixelFormatUnknown PixelFormat = -1
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatI422:
		return "I422"
	case PixelFormatI444:
		return "I444"
	case PixelFormatI42016:
		return "I42016"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420, PixelFormatI422, PixelFormatI444, PixelFormatI42016:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	default:
		return 0
	}
}

// Image is a decoded picture as returned by a VideoDecoder.
// Plane slices may point to decoder-owned memory and are only valid until the
// next Decode call on the decoder that produced them.
type Image struct {
	Planes [3][]byte   // Y, U, V
	Stride [3]int      // Bytes per row for each plane
	Width  int         // Display width in pixels
	Height int         // Display height in pixels
	Format PixelFormat // Must be PixelFormatI420 for playback
}

// alignedDimension pads a display dimension the way libvpx sizes its internal
// buffers: +64 border, rounded to 16.
func alignedDimension(d int) int {
	return (((d + 64) - 1) &^ 15) + 16
}

// Frame is one picture slot owned by a FrameBuffer.
// Plane storage is allocated once and padded, so any image up to the display
// size fits regardless of the decoder's stride.
type Frame struct {
	y, u, v []byte

	width, height               int // padded
	displayWidth, displayHeight int
	time                        float64
}

// newFrame allocates a black I420 frame for the given display size.
func newFrame(displayWidth, displayHeight int) *Frame {
	w := alignedDimension(displayWidth)
	h := alignedDimension(displayHeight)

	f := &Frame{
		width:         w,
		height:        h,
		displayWidth:  displayWidth,
		displayHeight: displayHeight,
	}

	ySize := w * h
	uvSize := (w / 2) * (h / 2)
	f.y = make([]byte, ySize)
	f.u = make([]byte, uvSize)
	f.v = make([]byte, uvSize)

	f.clear()
	return f
}

// clear paints the frame black and zeroes its time.
func (f *Frame) clear() {
	for i := range f.y {
		f.y[i] = 0
	}
	for i := range f.u {
		f.u[i] = 128
		f.v[i] = 128
	}
	f.time = 0
}

// Y returns the luma plane.
func (f *Frame) Y() []byte { return f.y }

// U returns the Cb plane.
func (f *Frame) U() []byte { return f.u }

// V returns the Cr plane.
func (f *Frame) V() []byte { return f.v }

// YPitch returns the byte distance between luma rows.
func (f *Frame) YPitch() int { return f.width }

// UVPitch returns the byte distance between chroma rows.
func (f *Frame) UVPitch() int { return f.width / 2 }

// Width returns the padded width.
func (f *Frame) Width() int { return f.width }

// Height returns the padded height.
func (f *Frame) Height() int { return f.height }

// DisplayWidth returns the visible width.
func (f *Frame) DisplayWidth() int { return f.displayWidth }

// DisplayHeight returns the visible height.
func (f *Frame) DisplayHeight() int { return f.displayHeight }

// Time returns the presentation time in seconds.
func (f *Frame) Time() float64 { return f.time }

// copyTo copies pixels and timestamp into dst, which must have the same geometry.
func (f *Frame) copyTo(dst *Frame) {
	copy(dst.y, f.y)
	copy(dst.u, f.u)
	copy(dst.v, f.v)
	dst.time = f.time
}

// writeImage copies an I420 image into the frame row by row. The source is
// read with the image's own stride, the destination with the frame pitch.
func (f *Frame) writeImage(img *Image) {
	w := min(img.Width, f.displayWidth)
	h := min(img.Height, f.displayHeight)
	uvW := (w + 1) / 2
	uvH := (h + 1) / 2

	copyPlane(f.y, f.YPitch(), img.Planes[0], img.Stride[0], w, h)
	copyPlane(f.u, f.UVPitch(), img.Planes[1], img.Stride[1], uvW, uvH)
	copyPlane(f.v, f.UVPitch(), img.Planes[2], img.Stride[2], uvW, uvH)
}

func copyPlane(dst []byte, dstPitch int, src []byte, srcStride, width, rows int) {
	for row := 0; row < rows; row++ {
		srcStart := row * srcStride
		dstStart := row * dstPitch
		if srcStart+width > len(src) || dstStart+width > len(dst) {
			return
		}
		copy(dst[dstStart:dstStart+width], src[srcStart:srcStart+width])
	}
}

// I420Size returns the total buffer size needed for a tightly packed I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}
