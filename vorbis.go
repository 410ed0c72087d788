// Vorbis decoding via github.com/jfreymuth/vorbis (pure Go).

package webmplay

import (
	"github.com/jfreymuth/vorbis"
	"github.com/pkg/errors"
)

// vorbisHeaderPackets is the number of setup packets a Vorbis stream needs:
// identification, comment and setup.
const vorbisHeaderPackets = 3

// vorbisSynth is the part of the Vorbis codec the adapter drives.
type vorbisSynth interface {
	ReadHeader(packet []byte) error
	Decode(packet []byte) ([]float32, error)
	Channels() int
	SampleRate() int
}

// newVorbisSynth creates the codec instance. Replaced in tests.
var newVorbisSynth = func() vorbisSynth { return new(vorbis.Decoder) }

// VorbisDecoder decodes Matroska A_VORBIS packets.
type VorbisDecoder struct {
	config AudioDecoderConfig

	synth       vorbisSynth
	headers     [vorbisHeaderPackets][]byte
	headerCount int
	postInit    bool

	// resetErr is set when Reset could not rebuild the codec. Decode
	// returns it until the next Init.
	resetErr error

	channels   int
	sampleRate int

	buf           []float32
	framesDecoded uint64
}

// NewVorbisDecoder creates a Vorbis decoder in its pre-header state.
func NewVorbisDecoder(config AudioDecoderConfig) (*VorbisDecoder, error) {
	if config.Codec != AudioCodecVorbis && config.Codec != AudioCodecUnknown {
		return nil, errors.Wrapf(ErrCodecNotSupported, "vorbis decoder for %s", config.Codec)
	}
	d := &VorbisDecoder{config: config}
	size := config.BufferSize
	if size <= 0 {
		size = DefaultAudioDecodeBufferSize
	}
	d.buf = make([]float32, size)
	d.Init()
	return d, nil
}

// Init implements AudioDecoder.
func (d *VorbisDecoder) Init() {
	d.synth = nil
	d.headers = [vorbisHeaderPackets][]byte{}
	d.headerCount = 0
	d.postInit = false
	d.resetErr = nil
	d.channels = d.config.Channels
	d.sampleRate = d.config.SampleRate
	d.framesDecoded = 0
}

// InitHeader implements AudioDecoder. codecPrivate holds the three setup
// packets in Xiph lacing: a count byte (packets - 1), the Xiph-coded sizes of
// the first two packets, then the packets back to back.
func (d *VorbisDecoder) InitHeader(codecPrivate []byte) error {
	packets, err := splitXiphLaced(codecPrivate)
	if err != nil {
		return err
	}
	if len(packets) != vorbisHeaderPackets {
		return errors.Wrapf(ErrHeaderPackets, "vorbis needs %d header packets, got %d", vorbisHeaderPackets, len(packets))
	}

	d.synth = newVorbisSynth()
	d.headerCount = 0
	for i, p := range packets {
		if err := d.synth.ReadHeader(p); err != nil {
			return errors.Wrapf(ErrHeaderPackets, "vorbis header %d: %v", i, err)
		}
		d.headers[i] = p
		d.headerCount++
	}
	return nil
}

// PostInit implements AudioDecoder.
func (d *VorbisDecoder) PostInit() error {
	if d.headerCount < vorbisHeaderPackets {
		return ErrAudioNotReady
	}
	if d.postInit {
		return ErrAlreadyInitialized
	}

	d.channels = d.synth.Channels()
	d.sampleRate = d.synth.SampleRate()
	if d.channels <= 0 || d.sampleRate <= 0 {
		return errors.Wrapf(ErrAudioSynthesis, "vorbis stream has %d channels at %d Hz", d.channels, d.sampleRate)
	}
	d.postInit = true
	return nil
}

// Decode implements AudioDecoder. It returns ErrAudioNotReady before the
// headers are consumed, ErrNotAudioPacket for header packets and
// ErrBadAudioPacket for packets the codec rejects.
func (d *VorbisDecoder) Decode(packet []byte) (int, error) {
	if d.resetErr != nil {
		return 0, d.resetErr
	}
	if d.headerCount < vorbisHeaderPackets || !d.postInit {
		return 0, ErrAudioNotReady
	}
	if len(packet) == 0 {
		return 0, errors.Wrap(ErrBadAudioPacket, "empty packet")
	}
	if packet[0]&1 != 0 {
		return 0, ErrNotAudioPacket
	}

	pcm, err := d.synth.Decode(packet)
	if err != nil {
		return 0, wrapCodecError(ErrBadAudioPacket, err)
	}

	frames := len(pcm) / d.channels
	if frames == 0 {
		return 0, nil
	}
	n := frames * d.channels
	if len(d.buf) < n {
		d.buf = make([]float32, n)
	}
	out := d.buf[:n]
	copy(out, pcm)

	d.framesDecoded += uint64(frames)
	if d.config.OnSamples != nil {
		d.config.OnSamples(out)
	}
	return frames, nil
}

// Reset implements AudioDecoder. The codec is rebuilt from the stored headers
// so overlap state from before the reset does not leak into the next packet.
// If the rebuild fails the old codec is dropped and Decode reports the
// failure.
func (d *VorbisDecoder) Reset() {
	d.framesDecoded = 0
	if d.headerCount < vorbisHeaderPackets {
		return
	}
	synth := newVorbisSynth()
	for i, p := range d.headers {
		if err := synth.ReadHeader(p); err != nil {
			d.synth = nil
			d.resetErr = errors.Wrapf(wrapCodecError(ErrAudioSynthesis, err), "rebuild vorbis header %d", i)
			return
		}
	}
	d.synth = synth
	d.resetErr = nil
}

// Channels implements AudioDecoder.
func (d *VorbisDecoder) Channels() int { return d.channels }

// SampleRate implements AudioDecoder.
func (d *VorbisDecoder) SampleRate() int { return d.sampleRate }

// BufferSize implements AudioDecoder.
func (d *VorbisDecoder) BufferSize() int { return len(d.buf) }

// DecodedTime implements AudioDecoder.
func (d *VorbisDecoder) DecodedTime() float64 {
	if d.sampleRate <= 0 {
		return 0
	}
	return float64(d.framesDecoded) / float64(d.sampleRate)
}

// Codec implements AudioDecoder.
func (d *VorbisDecoder) Codec() AudioCodec { return AudioCodecVorbis }

// splitXiphLaced splits codec private data stored with Xiph lacing.
func splitXiphLaced(data []byte) ([][]byte, error) {
	if len(data) < 1 {
		return nil, errors.Wrap(ErrHeaderPackets, "empty codec private data")
	}
	count := int(data[0]) + 1
	if count > vorbisHeaderPackets {
		return nil, errors.Wrapf(ErrHeaderPackets, "%d laced packets", count)
	}

	pos := 1
	sizes := make([]int, count-1)
	total := 0
	for i := range sizes {
		for {
			if pos >= len(data) {
				return nil, errors.Wrap(ErrHeaderPackets, "truncated lacing sizes")
			}
			v := int(data[pos])
			pos++
			sizes[i] += v
			if v != 0xFF {
				break
			}
		}
		total += sizes[i]
	}
	if pos+total > len(data) {
		return nil, errors.Wrapf(ErrHeaderPackets, "laced sizes %d exceed %d bytes", total, len(data)-pos)
	}

	packets := make([][]byte, 0, count)
	for _, size := range sizes {
		packets = append(packets, data[pos:pos+size])
		pos += size
	}
	packets = append(packets, data[pos:])
	return packets, nil
}

func init() {
	registerAudioDecoder(AudioCodecVorbis, ProviderGoVorbis, func(config AudioDecoderConfig) (AudioDecoder, error) {
		return NewVorbisDecoder(config)
	})
	setProviderAvailable(ProviderGoVorbis)
}
