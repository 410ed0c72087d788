//go:build (darwin || linux) && !novpx

// VP8/VP9 decoding via libmedia_vpx loaded with purego.
//
// libmedia_vpx is a thin wrapper around libvpx with a primitive-only API.
//
// Library locations checked (in order):
//   - MEDIA_VPX_LIB_PATH environment variable
//   - MEDIA_SDK_LIB_PATH environment variable
//   - build/ffi directory (development)
//   - System library paths

package webmplay

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

var (
	mediaVPXOnce    sync.Once
	mediaVPXHandle  uintptr
	mediaVPXInitErr error
	mediaVPXLoaded  bool
)

// libmedia_vpx function pointers
var (
	mediaVPXDecoderCreate   func(codec, threads int32) uint64
	mediaVPXDecoderDecodeV2 func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	mediaVPXDecoderReset    func(decoder uint64) int32
	mediaVPXDecoderDestroy  func(decoder uint64)

	mediaVPXGetError       func() uintptr
	mediaVPXCodecAvailable func(codec int32) int32
)

// mediaVPXDecodeResult matches media_vpx_decode_result_t in C.
// Heap-allocated so purego can pass it by pointer on arm64.
type mediaVPXDecodeResult struct {
	YPtr     uint64 // Pointer to Y plane
	UPtr     uint64 // Pointer to U plane
	VPtr     uint64 // Pointer to V plane
	YStride  int32  // Y plane stride
	UVStride int32  // UV plane stride
	Width    int32  // Frame width
	Height   int32  // Frame height
	Result   int32  // 1=decoded, 0=buffering, <0=error
	Reserved int32  // Padding for alignment
}

// Constants from media_vpx.h
const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXOK = 0
)

// loadMediaVPX loads the libmedia_vpx shared library.
func loadMediaVPX() error {
	mediaVPXOnce.Do(func() {
		mediaVPXInitErr = loadMediaVPXLib()
		if mediaVPXInitErr == nil {
			mediaVPXLoaded = true
		}
	})
	return mediaVPXInitErr
}

func loadMediaVPXLib() error {
	var lastErr error
	for _, path := range getMediaVPXLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaVPXHandle = handle
		loadMediaVPXSymbols()
		return nil
	}

	if lastErr != nil {
		return errors.Wrap(lastErr, "failed to load libmedia_vpx")
	}
	return errors.New("libmedia_vpx not found in any standard location")
}

func getMediaVPXLibPaths() []string {
	var paths []string

	libName := "libmedia_vpx.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_vpx.dylib"
	}

	// Environment variable overrides
	if envPath := os.Getenv("MEDIA_VPX_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", libName),
			filepath.Join(root, "build", "ffi", libName),
		)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func loadMediaVPXSymbols() {
	purego.RegisterLibFunc(&mediaVPXDecoderCreate, mediaVPXHandle, "media_vpx_decoder_create")
	purego.RegisterLibFunc(&mediaVPXDecoderDecodeV2, mediaVPXHandle, "media_vpx_decoder_decode_v2")
	purego.RegisterLibFunc(&mediaVPXDecoderReset, mediaVPXHandle, "media_vpx_decoder_reset")
	purego.RegisterLibFunc(&mediaVPXDecoderDestroy, mediaVPXHandle, "media_vpx_decoder_destroy")

	purego.RegisterLibFunc(&mediaVPXGetError, mediaVPXHandle, "media_vpx_get_error")
	purego.RegisterLibFunc(&mediaVPXCodecAvailable, mediaVPXHandle, "media_vpx_codec_available")
}

// IsVPXAvailable checks if libmedia_vpx is available.
func IsVPXAvailable() bool {
	if err := loadMediaVPX(); err != nil {
		return false
	}
	return mediaVPXLoaded
}

func getVPXError() string {
	ptr := mediaVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// VPXDecoder implements VideoDecoder using libmedia_vpx via purego.
type VPXDecoder struct {
	config VideoDecoderConfig
	codec  VideoCodec

	handle uint64

	// Persistent result struct, layout must match media_vpx_decode_result_t.
	decodeResult *mediaVPXDecodeResult
	pending      bool // decodeResult holds an image not yet returned
	image        Image

	// format is read from the bitstream; the result struct does not carry it.
	format PixelFormat

	stats   DecoderStats
	statsMu sync.Mutex
	mu      sync.Mutex
}

// NewVP8Decoder creates a new VP8 decoder.
func NewVP8Decoder(config VideoDecoderConfig) (*VPXDecoder, error) {
	return newVPXDecoder(config, VideoCodecVP8)
}

// NewVP9Decoder creates a new VP9 decoder.
func NewVP9Decoder(config VideoDecoderConfig) (*VPXDecoder, error) {
	return newVPXDecoder(config, VideoCodecVP9)
}

func newVPXDecoder(config VideoDecoderConfig, codec VideoCodec) (*VPXDecoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, errors.Wrapf(err, "%s decoder not available", codec)
	}

	var codecType int32
	switch codec {
	case VideoCodecVP8:
		codecType = mediaVPXCodecVP8
	case VideoCodecVP9:
		codecType = mediaVPXCodecVP9
	default:
		return nil, errors.Wrapf(ErrCodecNotSupported, "%s", codec)
	}

	threads := int32(1)
	if config.Threads > 0 {
		threads = int32(config.Threads)
	}

	handle := mediaVPXDecoderCreate(codecType, threads)
	if handle == 0 {
		return nil, errors.Errorf("failed to create %s decoder: %s", codec, getVPXError())
	}

	return &VPXDecoder{
		config:       config,
		codec:        codec,
		handle:       handle,
		decodeResult: &mediaVPXDecodeResult{},
		format:       PixelFormatI420,
	}, nil
}

// Decode implements VideoDecoder.
func (d *VPXDecoder) Decode(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return ErrDecoderClosed
	}
	if len(data) == 0 {
		return errors.New("empty encoded data")
	}

	out := d.decodeResult
	result := mediaVPXDecoderDecodeV2(
		d.handle,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(out)),
	)
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if result < 0 {
		d.pending = false
		d.statsMu.Lock()
		d.stats.CorruptedFrames++
		d.statsMu.Unlock()
		return errors.Errorf("failed to decode frame (%s)", getVPXError())
	}

	d.pending = result > 0
	if d.codec == VideoCodecVP9 {
		if f, ok := vp9FrameFormat(data); ok {
			d.format = f
		}
	}

	d.statsMu.Lock()
	d.stats.BytesDecoded += uint64(len(data))
	if isVPXKeyframe(d.codec, data) {
		d.stats.KeyframesDecoded++
	}
	d.statsMu.Unlock()

	return nil
}

// NextFrame implements VideoDecoder.
func (d *VPXDecoder) NextFrame() *Image {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return nil
	}

	if !d.pending {
		return nil
	}
	d.pending = false

	out := d.decodeResult
	w := int(out.Width)
	h := int(out.Height)

	// Success with empty geometry means the codec is still buffering
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		return nil
	}

	uvH := (h + 1) / 2
	yStride := int(out.YStride)
	uvStride := int(out.UVStride)

	d.image = Image{
		Planes: [3][]byte{
			unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.YPtr))), yStride*h),
			unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.UPtr))), uvStride*uvH),
			unsafe.Slice((*byte)(unsafe.Pointer(uintptr(out.VPtr))), uvStride*uvH),
		},
		Stride: [3]int{yStride, uvStride, uvStride},
		Width:  w,
		Height: h,
		Format: chromaFormat(d.format, yStride, uvStride),
	}

	d.statsMu.Lock()
	d.stats.FramesDecoded++
	d.statsMu.Unlock()

	return &d.image
}

// isVPXKeyframe inspects the uncompressed frame header.
func isVPXKeyframe(codec VideoCodec, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch codec {
	case VideoCodecVP8:
		// frame_type bit is 0 for key frames
		return data[0]&0x01 == 0
	case VideoCodecVP9:
		// frame_marker(2) profile(2) [reserved] show_existing(1) frame_type(1)
		b := data[0]
		profile := (b>>5)&1 | ((b>>4)&1)<<1
		shift := uint(2)
		if profile == 3 {
			shift = 3
		}
		if (b>>(5-shift))&1 == 1 { // show_existing_frame
			return false
		}
		return (b>>(4-shift))&1 == 0
	}
	return false
}

// Provider implements VideoDecoder.
func (d *VPXDecoder) Provider() Provider {
	return ProviderLibvpx
}

// Codec implements VideoDecoder.
func (d *VPXDecoder) Codec() VideoCodec {
	return d.codec
}

// Stats implements VideoDecoder.
func (d *VPXDecoder) Stats() DecoderStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// Reset implements VideoDecoder.
func (d *VPXDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == 0 {
		return ErrDecoderClosed
	}
	d.pending = false

	if mediaVPXDecoderReset(d.handle) != mediaVPXOK {
		return errors.Errorf("failed to reset decoder: %s", getVPXError())
	}
	return nil
}

// Close implements VideoDecoder.
func (d *VPXDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != 0 {
		mediaVPXDecoderDestroy(d.handle)
		d.handle = 0
	}
	d.pending = false
	return nil
}

// Register VP8/VP9 decoders (libvpx)
func init() {
	if err := loadMediaVPX(); err != nil {
		return
	}

	if mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0 {
		setProviderAvailable(ProviderLibvpx)
		registerVideoDecoder(VideoCodecVP8, ProviderLibvpx, func(config VideoDecoderConfig) (VideoDecoder, error) {
			return NewVP8Decoder(config)
		})
	}

	if mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0 {
		setProviderAvailable(ProviderLibvpx)
		registerVideoDecoder(VideoCodecVP9, ProviderLibvpx, func(config VideoDecoderConfig) (VideoDecoder, error) {
			return NewVP9Decoder(config)
		})
	}
}
