// Opus decoding via github.com/pion/opus (pure Go, SILK frames).

package webmplay

import (
	"bytes"
	"encoding/binary"

	"github.com/pion/opus"
	"github.com/pkg/errors"
)

const (
	opusSampleRate = 48000

	// 120 ms at 48 kHz, the longest Opus packet.
	opusMaxFrameSamples = 5760

	opusHeadSize = 19
)

var opusHeadMagic = []byte("OpusHead")

// opusSynth is the part of the Opus codec the adapter drives.
type opusSynth interface {
	Decode(in, out []byte) (opus.Bandwidth, bool, error)
}

// newOpusSynth creates the codec instance. Replaced in tests.
var newOpusSynth = func() opusSynth {
	d := opus.NewDecoder()
	return &d
}

// OpusHead is the identification header stored as A_OPUS codec private data.
type OpusHead struct {
	Version         uint8
	Channels        int
	PreSkip         int
	InputSampleRate uint32
	OutputGain      int16
	MappingFamily   uint8
}

// ParseOpusHead decodes an OpusHead packet.
func ParseOpusHead(data []byte) (OpusHead, error) {
	var h OpusHead
	if len(data) < opusHeadSize || !bytes.Equal(data[:8], opusHeadMagic) {
		return h, errors.Wrap(ErrHeaderPackets, "missing OpusHead")
	}
	h.Version = data[8]
	h.Channels = int(data[9])
	h.PreSkip = int(binary.LittleEndian.Uint16(data[10:12]))
	h.InputSampleRate = binary.LittleEndian.Uint32(data[12:16])
	h.OutputGain = int16(binary.LittleEndian.Uint16(data[16:18]))
	h.MappingFamily = data[18]

	if h.Version>>4 != 0 {
		return h, errors.Wrapf(ErrHeaderPackets, "unsupported OpusHead version %d", h.Version)
	}
	if h.Channels == 0 {
		return h, errors.Wrap(ErrHeaderPackets, "OpusHead has zero channels")
	}
	return h, nil
}

// opusPacketSamples returns the samples per channel (at 48 kHz) a packet
// decodes to, from its TOC byte and frame count.
func opusPacketSamples(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, errors.Wrap(ErrBadAudioPacket, "empty opus packet")
	}
	toc := packet[0]
	config := int(toc >> 3)

	// Frame duration in units of 1/400 s (2.5 ms).
	var units int
	switch {
	case config < 12: // SILK: 10, 20, 40, 60 ms
		units = [4]int{4, 8, 16, 24}[config%4]
	case config < 16: // Hybrid: 10, 20 ms
		units = [2]int{4, 8}[config%2]
	default: // CELT: 2.5, 5, 10, 20 ms
		units = [4]int{1, 2, 4, 8}[config%4]
	}

	var frames int
	switch toc & 0x3 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) < 2 {
			return 0, errors.Wrap(ErrBadAudioPacket, "opus code 3 packet without frame count")
		}
		frames = int(packet[1] & 0x3F)
	}

	samples := frames * units * (opusSampleRate / 400)
	if samples == 0 || samples > opusMaxFrameSamples {
		return 0, errors.Wrapf(ErrBadAudioPacket, "opus packet of %d samples", samples)
	}
	return samples, nil
}

// OpusDecoder decodes Matroska A_OPUS packets.
type OpusDecoder struct {
	config AudioDecoderConfig

	head     OpusHead
	haveHead bool
	postInit bool
	synth    opusSynth

	channels int
	skip     int

	pcm           []byte
	buf           []float32
	framesDecoded uint64
}

// NewOpusDecoder creates an Opus decoder in its pre-header state.
func NewOpusDecoder(config AudioDecoderConfig) (*OpusDecoder, error) {
	if config.Codec != AudioCodecOpus && config.Codec != AudioCodecUnknown {
		return nil, errors.Wrapf(ErrCodecNotSupported, "opus decoder for %s", config.Codec)
	}
	size := config.BufferSize
	if size <= 0 {
		size = DefaultAudioDecodeBufferSize
	}
	d := &OpusDecoder{
		config: config,
		pcm:    make([]byte, opusMaxFrameSamples*2*2),
		buf:    make([]float32, size),
	}
	d.Init()
	return d, nil
}

// Init implements AudioDecoder.
func (d *OpusDecoder) Init() {
	d.head = OpusHead{}
	d.haveHead = false
	d.postInit = false
	d.synth = nil
	d.channels = d.config.Channels
	d.skip = 0
	d.framesDecoded = 0
}

// InitHeader implements AudioDecoder.
func (d *OpusDecoder) InitHeader(codecPrivate []byte) error {
	head, err := ParseOpusHead(codecPrivate)
	if err != nil {
		return err
	}
	if head.Channels > 2 {
		return errors.Wrapf(ErrHeaderPackets, "opus with %d channels", head.Channels)
	}
	d.head = head
	d.haveHead = true
	d.channels = head.Channels
	return nil
}

// PostInit implements AudioDecoder.
func (d *OpusDecoder) PostInit() error {
	if !d.haveHead {
		return ErrAudioNotReady
	}
	if d.postInit {
		return ErrAlreadyInitialized
	}
	d.synth = newOpusSynth()
	d.skip = d.head.PreSkip
	d.postInit = true
	return nil
}

// Decode implements AudioDecoder. Output is always 48 kHz with the channel
// count from the OpusHead; mono decoder output is duplicated for stereo.
func (d *OpusDecoder) Decode(packet []byte) (int, error) {
	if !d.postInit {
		return 0, ErrAudioNotReady
	}
	if bytes.HasPrefix(packet, opusHeadMagic) || bytes.HasPrefix(packet, []byte("OpusTags")) {
		return 0, ErrNotAudioPacket
	}

	samples, err := opusPacketSamples(packet)
	if err != nil {
		return 0, err
	}

	_, stereo, err := d.synth.Decode(packet, d.pcm)
	if err != nil {
		return 0, wrapCodecError(ErrBadAudioPacket, err)
	}

	srcChannels := 1
	if stereo {
		srcChannels = 2
	}
	if limit := len(d.pcm) / (2 * srcChannels); samples > limit {
		samples = limit
	}

	start := 0
	if d.skip > 0 {
		start = min(d.skip, samples)
		d.skip -= start
	}
	frames := samples - start
	if frames == 0 {
		return 0, nil
	}

	n := frames * d.channels
	if len(d.buf) < n {
		d.buf = make([]float32, n)
	}
	out := d.buf[:n]
	for i := 0; i < frames; i++ {
		for c := 0; c < d.channels; c++ {
			sc := c
			if sc >= srcChannels {
				sc = srcChannels - 1
			}
			off := ((start+i)*srcChannels + sc) * 2
			s := int16(binary.LittleEndian.Uint16(d.pcm[off:]))
			out[i*d.channels+c] = float32(s) / 32768
		}
	}

	d.framesDecoded += uint64(frames)
	if d.config.OnSamples != nil {
		d.config.OnSamples(out)
	}
	return frames, nil
}

// Reset implements AudioDecoder.
func (d *OpusDecoder) Reset() {
	d.framesDecoded = 0
	if d.postInit {
		d.synth = newOpusSynth()
		d.skip = d.head.PreSkip
	}
}

// Channels implements AudioDecoder.
func (d *OpusDecoder) Channels() int { return d.channels }

// SampleRate implements AudioDecoder.
func (d *OpusDecoder) SampleRate() int { return opusSampleRate }

// BufferSize implements AudioDecoder.
func (d *OpusDecoder) BufferSize() int { return len(d.buf) }

// DecodedTime implements AudioDecoder.
func (d *OpusDecoder) DecodedTime() float64 {
	return float64(d.framesDecoded) / opusSampleRate
}

// Codec implements AudioDecoder.
func (d *OpusDecoder) Codec() AudioCodec { return AudioCodecOpus }

func init() {
	registerAudioDecoder(AudioCodecOpus, ProviderPionOpus, func(config AudioDecoderConfig) (AudioDecoder, error) {
		return NewOpusDecoder(config)
	})
	setProviderAvailable(ProviderPionOpus)
}
