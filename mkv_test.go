package webmplay

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test helpers that build small Matroska files in memory.

var ebmlUnknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func ebmlID(id uint32) []byte {
	switch {
	case id > 0xFFFFFF:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	case id > 0xFF:
		return []byte{byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id)}
	}
}

// ebmlVint encodes n as a size-style vint of the shortest length.
func ebmlVint(n uint64) []byte {
	length := 1
	for length < 8 && n >= (uint64(1)<<uint(7*length))-1 {
		length++
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(n)
		n >>= 8
	}
	out[0] |= 0x80 >> uint(length-1)
	return out
}

func ebmlElem(id uint32, payload ...[]byte) []byte {
	var body []byte
	for _, p := range payload {
		body = append(body, p...)
	}
	out := ebmlID(id)
	out = append(out, ebmlVint(uint64(len(body)))...)
	return append(out, body...)
}

func ebmlUnknownElem(id uint32, payload ...[]byte) []byte {
	out := append(ebmlID(id), ebmlUnknownSize...)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

func ebmlUint(id uint32, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	i := 0
	for i < 7 && b[i] == 0 {
		i++
	}
	return ebmlElem(id, b[i:])
}

func ebmlFloat(id uint32, v float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return ebmlElem(id, b[:])
}

func ebmlString(id uint32, s string) []byte {
	return ebmlElem(id, []byte(s))
}

// xiphLace packs packets the way Matroska stores Vorbis codec private data.
func xiphLace(packets ...[]byte) []byte {
	out := []byte{byte(len(packets) - 1)}
	for _, p := range packets[:len(packets)-1] {
		n := len(p)
		for n >= 0xFF {
			out = append(out, 0xFF)
			n -= 0xFF
		}
		out = append(out, byte(n))
	}
	for _, p := range packets {
		out = append(out, p...)
	}
	return out
}

type mkvTrack struct {
	number          uint64
	kind            uint64 // 1 video, 2 audio
	codecID         string
	private         []byte
	defaultDuration uint64
	width, height   int
	channels        int
	rate            float64
}

func (t mkvTrack) bytes() []byte {
	fields := [][]byte{
		ebmlUint(idTrackNumber, t.number),
		ebmlUint(idTrackType, t.kind),
		ebmlString(idCodecID, t.codecID),
	}
	if t.private != nil {
		fields = append(fields, ebmlElem(idCodecPrivate, t.private))
	}
	if t.defaultDuration > 0 {
		fields = append(fields, ebmlUint(idDefaultDuration, t.defaultDuration))
	}
	switch t.kind {
	case matroskaTrackVideo:
		fields = append(fields, ebmlElem(idVideo,
			ebmlUint(idPixelWidth, uint64(t.width)),
			ebmlUint(idPixelHeight, uint64(t.height))))
	case matroskaTrackAudio:
		var audio [][]byte
		if t.rate > 0 {
			audio = append(audio, ebmlFloat(idSamplingFrequency, t.rate))
		}
		if t.channels > 0 {
			audio = append(audio, ebmlUint(idChannels, uint64(t.channels)))
		}
		fields = append(fields, ebmlElem(idAudio, audio...))
	}
	return ebmlElem(idTrackEntry, fields...)
}

type mkvBlock struct {
	track    uint64
	timecode int16 // relative to the cluster
	keyframe bool
	lacing   byte // lacingNone, lacingXiph, lacingFixed, lacingEBML
	frames   [][]byte

	group     bool // BlockGroup instead of SimpleBlock
	duration  uint64
	reference bool
}

func (b mkvBlock) payload() []byte {
	out := ebmlVint(b.track)
	out = append(out, byte(uint16(b.timecode)>>8), byte(b.timecode))
	var flags byte
	if b.keyframe && !b.group {
		flags |= 0x80
	}
	flags |= b.lacing
	out = append(out, flags)

	if b.lacing != lacingNone {
		out = append(out, byte(len(b.frames)-1))
	}
	switch b.lacing {
	case lacingXiph:
		for _, f := range b.frames[:len(b.frames)-1] {
			n := len(f)
			for n >= 0xFF {
				out = append(out, 0xFF)
				n -= 0xFF
			}
			out = append(out, byte(n))
		}
	case lacingEBML:
		out = append(out, ebmlVint(uint64(len(b.frames[0])))...)
		for i := 1; i < len(b.frames)-1; i++ {
			// Two byte signed vint: bias 8191.
			raw := uint16(len(b.frames[i]) - len(b.frames[i-1]) + 8191)
			out = append(out, 0x40|byte(raw>>8), byte(raw))
		}
	}
	for _, f := range b.frames {
		out = append(out, f...)
	}
	return out
}

func (b mkvBlock) bytes() []byte {
	if !b.group {
		return ebmlElem(idSimpleBlock, b.payload())
	}
	fields := [][]byte{ebmlElem(idBlock, b.payload())}
	if b.duration > 0 {
		fields = append(fields, ebmlUint(idBlockDuration, b.duration))
	}
	if b.reference {
		fields = append(fields, ebmlElem(idReferenceBlock, []byte{0xFF}))
	}
	return ebmlElem(idBlockGroup, fields...)
}

type mkvCluster struct {
	timecode    uint64
	blocks      []mkvBlock
	unknownSize bool
}

func (c mkvCluster) bytes() []byte {
	body := [][]byte{ebmlUint(idTimecode, c.timecode)}
	for _, b := range c.blocks {
		body = append(body, b.bytes())
	}
	if c.unknownSize {
		return ebmlUnknownElem(idCluster, body...)
	}
	return ebmlElem(idCluster, body...)
}

type mkvFile struct {
	docType  string
	scale    uint64  // 0 = omit
	duration float64 // in timecode ticks, 0 = omit
	tracks   []mkvTrack
	clusters []mkvCluster
	noInfo   bool
	// unknownSegment writes the segment with an unknown size.
	unknownSegment bool
}

func (m mkvFile) bytes() []byte {
	docType := m.docType
	if docType == "" {
		docType = "webm"
	}
	out := ebmlElem(idEBML,
		ebmlUint(0x4286, 1), // EBMLVersion
		ebmlString(idDocType, docType))

	var body [][]byte
	if !m.noInfo {
		var info [][]byte
		if m.scale > 0 {
			info = append(info, ebmlUint(idTimecodeScale, m.scale))
		}
		if m.duration > 0 {
			info = append(info, ebmlFloat(idDuration, m.duration))
		}
		body = append(body, ebmlElem(idInfo, info...))
	}
	var tracks [][]byte
	for _, t := range m.tracks {
		tracks = append(tracks, t.bytes())
	}
	body = append(body, ebmlElem(idTracks, tracks...))
	body = append(body, ebmlElem(idVoid, make([]byte, 4)))
	for _, c := range m.clusters {
		body = append(body, c.bytes())
	}

	if m.unknownSegment {
		return append(out, ebmlUnknownElem(idSegment, body...)...)
	}
	return append(out, ebmlElem(idSegment, body...)...)
}

// memSource is an in-memory SourceReader.
type memSource []byte

func (m memSource) Read(position int64, buf []byte) error {
	if position < 0 || position+int64(len(buf)) > int64(len(m)) {
		return ErrReadOutOfRange
	}
	copy(buf, m[position:])
	return nil
}

func (m memSource) Length() (int64, int64, error) {
	return int64(len(m)), int64(len(m)), nil
}

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// Fake codec setup packets. The fake Vorbis codec only checks the type byte.
var (
	testVorbisIdent   = []byte{0x01, 'v', 'o', 'r', 'b', 'i', 's', 1}
	testVorbisComment = []byte{0x03, 'v', 'o', 'r', 'b', 'i', 's'}
	testVorbisSetup   = []byte{0x05, 'v', 'o', 'r', 'b', 'i', 's', 0, 0}
)

func testVorbisPrivate() []byte {
	return xiphLace(testVorbisIdent, testVorbisComment, testVorbisSetup)
}

// testMovie describes a generated title: video at fps, optional mono audio
// blocks every audioStep seconds, in one-second clusters.
type testMovie struct {
	seconds    int
	fps        int
	width      int
	height     int
	audio      bool
	audioCodec string
	private    []byte
	videoCodec string
	noDuration bool
	// keyframe replaces the payload of the first frame in every cluster.
	keyframe []byte
}

func (tm testMovie) build() []byte {
	if tm.videoCodec == "" {
		tm.videoCodec = "V_VP8"
	}
	if tm.audioCodec == "" {
		tm.audioCodec = "A_VORBIS"
	}
	frameMs := 1000 / tm.fps

	m := mkvFile{
		scale: defaultTimecodeScale,
		tracks: []mkvTrack{{
			number:          1,
			kind:            matroskaTrackVideo,
			codecID:         tm.videoCodec,
			defaultDuration: uint64(1e9 / tm.fps),
			width:           tm.width,
			height:          tm.height,
		}},
	}
	if !tm.noDuration {
		m.duration = float64(tm.seconds * 1000)
	}
	if tm.audio {
		private := tm.private
		if private == nil {
			private = testVorbisPrivate()
		}
		m.tracks = append(m.tracks, mkvTrack{
			number:   2,
			kind:     matroskaTrackAudio,
			codecID:  tm.audioCodec,
			private:  private,
			channels: 1,
			rate:     44100,
		})
	}

	for s := 0; s < tm.seconds; s++ {
		c := mkvCluster{timecode: uint64(s * 1000)}
		for i := 0; i < tm.fps; i++ {
			rel := int16(i * frameMs)
			frame := []byte{byte(i), 0x9D, 0x01, 0x2A}
			if i == 0 && tm.keyframe != nil {
				frame = tm.keyframe
			}
			c.blocks = append(c.blocks, mkvBlock{
				track:    1,
				timecode: rel,
				keyframe: i == 0,
				frames:   [][]byte{frame},
			})
			if tm.audio && i%3 == 0 {
				c.blocks = append(c.blocks, mkvBlock{
					track:    2,
					timecode: rel,
					keyframe: true,
					frames:   [][]byte{{0x00, byte(i)}},
				})
			}
		}
		m.clusters = append(m.clusters, c)
	}
	return m.bytes()
}
