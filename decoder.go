package webmplay

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Common errors
var (
	ErrBufferTooSmall         = errors.New("buffer too small")
	ErrProviderNotFound       = errors.New("provider not available")
	ErrCodecNotSupported      = errors.New("codec not supported by provider")
	ErrDecoderClosed          = errors.New("decoder not initialized")
	ErrUnsupportedPixelFormat = errors.New("unsupported image format")
)

// Audio decoder errors. ErrAudioNotReady and ErrNotAudioPacket are skippable;
// the rest indicate a broken stream.
var (
	ErrAudioNotReady      = errors.New("audio decoder headers not complete")
	ErrNotAudioPacket     = errors.New("packet is not an audio packet")
	ErrBadAudioPacket     = errors.New("malformed audio packet")
	ErrAudioSynthesis     = errors.New("audio synthesis failed")
	ErrHeaderPackets      = errors.New("invalid codec setup header packets")
	ErrAlreadyInitialized = errors.New("decoder already post-initialized")
)

// codecError carries an error returned by a codec library. It matches kind
// under errors.Is while Cause and Unwrap still reach the codec's error.
type codecError struct {
	kind error
	err  error
}

func (e *codecError) Error() string        { return e.kind.Error() + ": " + e.err.Error() }
func (e *codecError) Cause() error         { return e.err }
func (e *codecError) Unwrap() error        { return e.err }
func (e *codecError) Is(target error) bool { return target == e.kind }

// wrapCodecError classifies err from a codec library under kind.
func wrapCodecError(kind, err error) error {
	return errors.WithStack(&codecError{kind: kind, err: err})
}

// VideoDecoderConfig configures a video decoder.
type VideoDecoderConfig struct {
	Codec    VideoCodec // Codec type (VP8, VP9)
	Provider Provider   // Provider to use (ProviderAuto = library chooses)
	Width    int        // Expected width from the track header
	Height   int        // Expected height from the track header
	Threads  int        // Decoder threads (0 = 1)
}

// DecoderStats provides decoding metrics.
type DecoderStats struct {
	FramesDecoded    uint64 // Total images produced
	KeyframesDecoded uint64 // Keyframe packets consumed
	BytesDecoded     uint64 // Compressed bytes consumed
	CorruptedFrames  uint64 // Packets the codec rejected
}

// VideoDecoder decodes compressed video packets into planar images.
type VideoDecoder interface {
	io.Closer

	// Decode submits one compressed packet. It may make zero or more images
	// available through NextFrame.
	Decode(data []byte) error

	// NextFrame returns the next image produced by the last Decode call, or nil
	// when there are no more. The image is valid until the next Decode call.
	NextFrame() *Image

	// Reset drops any reference frames.
	Reset() error

	// Provider returns which provider created this decoder.
	Provider() Provider

	// Codec returns the codec type.
	Codec() VideoCodec

	// Stats returns decoding statistics.
	Stats() DecoderStats
}

// AudioSamplesCallback receives interleaved float PCM. The slice is reused by
// the decoder after the callback returns.
type AudioSamplesCallback func(samples []float32)

// AudioDecoderConfig configures an audio decoder.
type AudioDecoderConfig struct {
	Codec      AudioCodec
	Provider   Provider
	Channels   int                  // Channel count from the track header
	SampleRate int                  // Sample rate from the track header
	BufferSize int                  // Initial PCM scratch size in samples
	OnSamples  AudioSamplesCallback // Sample sink
}

// AudioDecoder decodes compressed audio packets. It is a small state machine:
// Init, InitHeader, PostInit must succeed in that order before Decode.
type AudioDecoder interface {
	// Init resets the decoder to its pre-header state.
	Init()

	// InitHeader parses the codec private data from the track header.
	InitHeader(codecPrivate []byte) error

	// PostInit finalizes synthesis state. Called exactly once after InitHeader.
	PostInit() error

	// Decode decodes one packet, forwarding PCM to the sink. It returns the
	// number of sample frames produced.
	Decode(packet []byte) (int, error)

	// Reset clears decoded counters without dropping the headers.
	Reset()

	Channels() int
	SampleRate() int

	// BufferSize returns the PCM scratch size in samples.
	BufferSize() int

	// DecodedTime returns seconds of audio produced since the last Reset.
	DecodedTime() float64

	Codec() AudioCodec
}

// --- Registry ---

type videoDecoderFactory func(VideoDecoderConfig) (VideoDecoder, error)
type audioDecoderFactory func(AudioDecoderConfig) (AudioDecoder, error)

type decoderRegistry struct {
	mu sync.RWMutex

	// Provider-aware registry: codec -> provider -> factory
	videoProviders map[VideoCodec]map[Provider]videoDecoderFactory
	audioProviders map[AudioCodec]map[Provider]audioDecoderFactory

	// Default provider per codec
	videoDefaults map[VideoCodec]Provider
	audioDefaults map[AudioCodec]Provider
}

var globalDecoderRegistry = &decoderRegistry{
	videoProviders: make(map[VideoCodec]map[Provider]videoDecoderFactory),
	audioProviders: make(map[AudioCodec]map[Provider]audioDecoderFactory),
	videoDefaults:  make(map[VideoCodec]Provider),
	audioDefaults:  make(map[AudioCodec]Provider),
}

// registerVideoDecoder registers a video decoder factory for a codec+provider.
func registerVideoDecoder(codec VideoCodec, provider Provider, factory videoDecoderFactory) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()

	if globalDecoderRegistry.videoProviders[codec] == nil {
		globalDecoderRegistry.videoProviders[codec] = make(map[Provider]videoDecoderFactory)
	}
	globalDecoderRegistry.videoProviders[codec][provider] = factory

	// Prefer permissive license providers as default
	current, exists := globalDecoderRegistry.videoDefaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalDecoderRegistry.videoDefaults[codec] = provider
	}
}

// registerAudioDecoder registers an audio decoder factory for a codec+provider.
func registerAudioDecoder(codec AudioCodec, provider Provider, factory audioDecoderFactory) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()

	if globalDecoderRegistry.audioProviders[codec] == nil {
		globalDecoderRegistry.audioProviders[codec] = make(map[Provider]audioDecoderFactory)
	}
	globalDecoderRegistry.audioProviders[codec][provider] = factory

	current, exists := globalDecoderRegistry.audioDefaults[codec]
	if !exists || (provider.License().Permissive() && !current.License().Permissive()) {
		globalDecoderRegistry.audioDefaults[codec] = provider
	}
}

// SetDefaultVideoDecoderProvider sets the default provider for a video codec.
func SetDefaultVideoDecoderProvider(codec VideoCodec, provider Provider) {
	globalDecoderRegistry.mu.Lock()
	defer globalDecoderRegistry.mu.Unlock()
	globalDecoderRegistry.videoDefaults[codec] = provider
}

// NewVideoDecoder creates a video decoder.
func NewVideoDecoder(config VideoDecoderConfig) (VideoDecoder, error) {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	providers := globalDecoderRegistry.videoProviders[config.Codec]
	if providers == nil {
		return nil, errors.Wrapf(ErrCodecNotSupported, "no providers for %s", config.Codec)
	}

	p := config.Provider
	if p == ProviderAuto {
		p = globalDecoderRegistry.videoDefaults[config.Codec]
	}

	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, errors.Wrapf(ErrProviderNotFound, "%s for %s", p, config.Codec)
	}

	return factory(config)
}

// NewAudioDecoder creates an audio decoder.
func NewAudioDecoder(config AudioDecoderConfig) (AudioDecoder, error) {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	providers := globalDecoderRegistry.audioProviders[config.Codec]
	if providers == nil {
		return nil, errors.Wrapf(ErrCodecNotSupported, "no providers for %s", config.Codec)
	}

	p := config.Provider
	if p == ProviderAuto {
		p = globalDecoderRegistry.audioDefaults[config.Codec]
	}

	factory, ok := providers[p]
	if !ok || !p.Available() {
		return nil, errors.Wrapf(ErrProviderNotFound, "%s for %s", p, config.Codec)
	}

	return factory(config)
}

// VideoDecoderProviders returns available providers for a video codec.
func VideoDecoderProviders(codec VideoCodec) []Provider {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	providers := globalDecoderRegistry.videoProviders[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}

// AudioDecoderProviders returns available providers for an audio codec.
func AudioDecoderProviders(codec AudioCodec) []Provider {
	globalDecoderRegistry.mu.RLock()
	defer globalDecoderRegistry.mu.RUnlock()

	providers := globalDecoderRegistry.audioProviders[codec]
	result := make([]Provider, 0, len(providers))
	for p := range providers {
		if p.Available() {
			result = append(result, p)
		}
	}
	return result
}
