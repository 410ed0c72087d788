package webmplay

import (
	"io"

	"github.com/pkg/errors"
)

// Matroska element IDs.
const (
	idEBML        = 0x1A45DFA3
	idDocType     = 0x4282
	idSegment     = 0x18538067
	idSeekHead    = 0x114D9B74
	idInfo        = 0x1549A966
	idTracks      = 0x1654AE6B
	idCluster     = 0x1F43B675
	idCues        = 0x1C53BB6B
	idChapters    = 0x1043A770
	idTags        = 0x1254C367
	idAttachments = 0x1941A469
	idVoid        = 0xEC
	idCRC32       = 0xBF

	idTimecodeScale = 0x2AD7B1
	idDuration      = 0x4489

	idTrackEntry        = 0xAE
	idTrackNumber       = 0xD7
	idTrackType         = 0x83
	idCodecID           = 0x86
	idCodecPrivate      = 0x63A2
	idDefaultDuration   = 0x23E383
	idVideo             = 0xE0
	idPixelWidth        = 0xB0
	idPixelHeight       = 0xBA
	idAudio             = 0xE1
	idSamplingFrequency = 0xB5
	idChannels          = 0x9F
	idBitDepth          = 0x6264

	idTimecode       = 0xE7
	idSimpleBlock    = 0xA3
	idBlockGroup     = 0xA0
	idBlock          = 0xA1
	idBlockDuration  = 0x9B
	idDiscardPadding = 0x75A2
)

const defaultTimecodeScale = 1000000

// Segment load errors, mapped to load results by the player.
var (
	ErrInvalidEBMLHeader = errors.New("invalid EBML header")
	ErrNoSegment         = errors.New("segment not found")
	ErrSegmentLoad       = errors.New("failed to load segment")
	ErrNoSegmentInfo     = errors.New("segment info not found")
)

// isSegmentChild reports IDs that may appear directly under a Segment.
func isSegmentChild(id uint32) bool {
	switch id {
	case idSeekHead, idInfo, idTracks, idCluster, idCues, idChapters,
		idTags, idAttachments, idVoid, idCRC32:
		return true
	}
	return false
}

// isClusterChild reports IDs that may appear inside a Cluster. Anything else
// terminates an unknown-size cluster.
func isClusterChild(id uint32) bool {
	if id == idVoid || id == idCRC32 {
		return true
	}
	return !isSegmentChild(id) && id != idSegment && id != idEBML
}

// Segment is the parsed header of a Matroska segment.
type Segment struct {
	DocType       string
	TimecodeScale uint64  // Nanoseconds per timecode tick
	Duration      float64 // Seconds, 0 if not stored
	Tracks        []TrackInfo

	dataOffset   int64
	end          int64
	firstCluster int64 // -1 if no cluster was seen
}

// TrackByNumber returns the track with the given number, or nil.
func (s *Segment) TrackByNumber(n uint64) *TrackInfo {
	for i := range s.Tracks {
		if s.Tracks[i].Number == n {
			return &s.Tracks[i]
		}
	}
	return nil
}

// FirstTrack returns the first track of the given type, or nil.
func (s *Segment) FirstTrack(t TrackType) *TrackInfo {
	for i := range s.Tracks {
		if s.Tracks[i].Type == t {
			return &s.Tracks[i]
		}
	}
	return nil
}

// AudioTrackAt returns the index-th audio track (0-based) in track order, or nil.
func (s *Segment) AudioTrackAt(index int) *TrackInfo {
	if index < 0 {
		return nil
	}
	for i := range s.Tracks {
		if s.Tracks[i].Type != TrackTypeAudio {
			continue
		}
		if index == 0 {
			return &s.Tracks[i]
		}
		index--
	}
	return nil
}

// parseSegment reads the EBML header and the segment header up to the first
// cluster (or further if Info or Tracks follow clusters).
func parseSegment(er *ebmlReader) (*Segment, error) {
	hdr, err := er.readHeader(0, er.length)
	if err != nil || hdr.id != idEBML || hdr.size == unknownElementSize {
		return nil, errors.Wrap(ErrInvalidEBMLHeader, "missing EBML element")
	}

	seg := &Segment{
		TimecodeScale: defaultTimecodeScale,
		firstCluster:  -1,
	}
	err = er.children(hdr, er.length, nil, func(el ebmlElement) error {
		if el.id == idDocType {
			seg.DocType, err = er.readString(el)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidEBMLHeader, err.Error())
	}
	if seg.DocType != "" && seg.DocType != "webm" && seg.DocType != "matroska" {
		return nil, errors.Wrapf(ErrInvalidEBMLHeader, "unsupported doctype %q", seg.DocType)
	}

	// Find the segment, skipping any top-level padding.
	pos := hdr.dataOffset + hdr.size
	var segEl ebmlElement
	for {
		el, err := er.readHeader(pos, er.length)
		if err != nil {
			return nil, errors.Wrap(ErrNoSegment, err.Error())
		}
		if el.id == idSegment {
			segEl = el
			break
		}
		if el.size == unknownElementSize {
			return nil, errors.Wrapf(ErrNoSegment, "unknown-size element 0x%X", el.id)
		}
		pos = el.dataOffset + el.size
	}

	seg.dataOffset = segEl.dataOffset
	seg.end = segEl.end(er.length)

	var haveInfo, haveTracks bool
	pos = seg.dataOffset
	for pos < seg.end {
		el, err := er.readHeader(pos, seg.end)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(ErrSegmentLoad, err.Error())
		}

		switch el.id {
		case idInfo:
			if err := parseInfo(er, el, seg); err != nil {
				return nil, errors.Wrap(ErrSegmentLoad, err.Error())
			}
			haveInfo = true
		case idTracks:
			if err := parseTracks(er, el, seg); err != nil {
				return nil, errors.Wrap(ErrSegmentLoad, err.Error())
			}
			haveTracks = true
		case idCluster:
			if seg.firstCluster < 0 {
				seg.firstCluster = el.offset
			}
		}

		if haveInfo && haveTracks && seg.firstCluster >= 0 {
			break
		}
		if el.size == unknownElementSize {
			// Only clusters may be live; the header cannot be past one.
			break
		}
		pos = el.dataOffset + el.size
	}

	if !haveTracks {
		return nil, errors.Wrap(ErrSegmentLoad, "no tracks element")
	}
	if !haveInfo {
		return nil, ErrNoSegmentInfo
	}
	return seg, nil
}

func parseInfo(er *ebmlReader, info ebmlElement, seg *Segment) error {
	var rawDuration float64
	err := er.children(info, seg.end, nil, func(el ebmlElement) error {
		var err error
		switch el.id {
		case idTimecodeScale:
			seg.TimecodeScale, err = er.readUint(el)
		case idDuration:
			rawDuration, err = er.readFloat(el)
		}
		return err
	})
	if err != nil {
		return err
	}
	if seg.TimecodeScale == 0 {
		seg.TimecodeScale = defaultTimecodeScale
	}
	if rawDuration > 0 {
		seg.Duration = rawDuration * float64(seg.TimecodeScale) / 1e9
	}
	return nil
}

func parseTracks(er *ebmlReader, tracks ebmlElement, seg *Segment) error {
	return er.children(tracks, seg.end, nil, func(el ebmlElement) error {
		if el.id != idTrackEntry {
			return nil
		}
		t, err := parseTrackEntry(er, el, seg.end)
		if err != nil {
			return err
		}
		if t.Number == 0 {
			return errors.Wrap(ErrMalformedElement, "track entry without number")
		}
		seg.Tracks = append(seg.Tracks, t)
		return nil
	})
}

func parseTrackEntry(er *ebmlReader, entry ebmlElement, end int64) (TrackInfo, error) {
	var t TrackInfo
	err := er.children(entry, end, nil, func(el ebmlElement) error {
		var err error
		switch el.id {
		case idTrackNumber:
			t.Number, err = er.readUint(el)
		case idTrackType:
			var v uint64
			v, err = er.readUint(el)
			t.Type = trackTypeFromMatroska(v)
		case idCodecID:
			t.CodecID, err = er.readString(el)
		case idCodecPrivate:
			t.CodecPrivate, err = er.readBytes(el)
		case idDefaultDuration:
			t.DefaultDuration, err = er.readUint(el)
		case idVideo:
			err = er.children(el, end, nil, func(v ebmlElement) error {
				var n uint64
				var err error
				switch v.id {
				case idPixelWidth:
					n, err = er.readUint(v)
					t.Width = int(n)
				case idPixelHeight:
					n, err = er.readUint(v)
					t.Height = int(n)
				}
				return err
			})
		case idAudio:
			t.SampleRate = 8000
			t.Channels = 1
			err = er.children(el, end, nil, func(a ebmlElement) error {
				var n uint64
				var err error
				switch a.id {
				case idSamplingFrequency:
					t.SampleRate, err = er.readFloat(a)
				case idChannels:
					n, err = er.readUint(a)
					t.Channels = int(n)
				case idBitDepth:
					n, err = er.readUint(a)
					t.BitDepth = int(n)
				}
				return err
			})
		}
		return err
	})
	return t, err
}

// Block lacing modes from the block flags.
const (
	lacingNone  = 0x00
	lacingXiph  = 0x02
	lacingFixed = 0x04
	lacingEBML  = 0x06
)

// BlockFrame locates one laced frame inside the source.
type BlockFrame struct {
	Offset int64
	Size   int64
}

// Block is a parsed SimpleBlock or BlockGroup/Block. The Frames slice is
// reused across parses.
type Block struct {
	TrackNumber    uint64
	Timecode       int64 // Absolute, nanoseconds
	Keyframe       bool
	Invisible      bool
	Duration       int64 // Nanoseconds, 0 if unknown
	DiscardPadding int64 // Nanoseconds
	Frames         []BlockFrame
}

// Time returns the block timestamp in seconds.
func (b *Block) Time() float64 {
	return float64(b.Timecode) / 1e9
}

// FrameCount returns the number of laced frames.
func (b *Block) FrameCount() int {
	return len(b.Frames)
}

// ReadFrame reads frame i into buf, growing it if needed.
func (b *Block) ReadFrame(src SourceReader, i int, buf []byte) ([]byte, error) {
	if i < 0 || i >= len(b.Frames) {
		return buf, errors.Errorf("frame index %d out of range [0,%d)", i, len(b.Frames))
	}
	f := b.Frames[i]
	if int64(cap(buf)) < f.Size {
		buf = make([]byte, f.Size)
	}
	buf = buf[:f.Size]
	if err := src.Read(f.Offset, buf); err != nil {
		return buf, err
	}
	return buf, nil
}

func (b *Block) reset() {
	frames := b.Frames[:0]
	*b = Block{Frames: frames}
}

// maxBlockHeader bounds the bytes read up front to parse a block header.
// Lacing tables larger than this trigger a full read.
const maxBlockHeader = 1024

// parseBlockHeader parses the block header at el and fills the frame table.
// scratch is reused between calls and returned.
func parseBlockHeader(er *ebmlReader, el ebmlElement, simple bool, clusterTimecode uint64, scale uint64, b *Block, scratch []byte) ([]byte, error) {
	if el.size < 4 {
		return scratch, errors.Wrapf(ErrMalformedElement, "block at %d too short", el.offset)
	}

	n := el.size
	if n > maxBlockHeader {
		n = maxBlockHeader
	}
	for {
		if int64(cap(scratch)) < n {
			scratch = make([]byte, n)
		}
		hdr := scratch[:n]
		if err := er.src.Read(el.dataOffset, hdr); err != nil {
			return scratch, err
		}

		err := decodeBlockHeader(hdr, el, simple, clusterTimecode, scale, b)
		if err == io.ErrUnexpectedEOF && n < el.size {
			n = el.size
			continue
		}
		return scratch, err
	}
}

func decodeBlockHeader(hdr []byte, el ebmlElement, simple bool, clusterTimecode uint64, scale uint64, b *Block) error {
	track, n, _, err := decodeVint(hdr)
	if err != nil {
		return err
	}
	if len(hdr) < n+3 {
		return io.ErrUnexpectedEOF
	}

	rel := int16(uint16(hdr[n])<<8 | uint16(hdr[n+1]))
	flags := hdr[n+2]
	pos := n + 3

	b.Frames = b.Frames[:0]
	b.TrackNumber = track
	b.Timecode = (int64(clusterTimecode) + int64(rel)) * int64(scale)
	b.Invisible = flags&0x08 != 0
	if simple {
		b.Keyframe = flags&0x80 != 0
	}

	total := el.size
	lacing := flags & 0x06
	if lacing == lacingNone {
		b.Frames = append(b.Frames, BlockFrame{
			Offset: el.dataOffset + int64(pos),
			Size:   total - int64(pos),
		})
		return nil
	}

	if len(hdr) <= pos {
		return io.ErrUnexpectedEOF
	}
	count := int(hdr[pos]) + 1
	pos++

	sizes := make([]int64, count)
	var sum int64
	switch lacing {
	case lacingXiph:
		for i := 0; i < count-1; i++ {
			var size int64
			for {
				if pos >= len(hdr) {
					return io.ErrUnexpectedEOF
				}
				v := hdr[pos]
				pos++
				size += int64(v)
				if v != 0xFF {
					break
				}
			}
			sizes[i] = size
			sum += size
		}
	case lacingEBML:
		first, m, _, err := decodeVint(hdr[pos:])
		if err != nil {
			return err
		}
		pos += m
		sizes[0] = int64(first)
		sum = sizes[0]
		for i := 1; i < count-1; i++ {
			diff, m, err := decodeSignedVint(hdr[pos:])
			if err != nil {
				return err
			}
			pos += m
			sizes[i] = sizes[i-1] + diff
			if sizes[i] < 0 {
				return errors.Wrapf(ErrMalformedElement, "negative laced frame size in block at %d", el.offset)
			}
			sum += sizes[i]
		}
	case lacingFixed:
		payload := total - int64(pos)
		if payload%int64(count) != 0 {
			return errors.Wrapf(ErrMalformedElement, "fixed lacing of %d bytes into %d frames", payload, count)
		}
		for i := range sizes {
			sizes[i] = payload / int64(count)
		}
		sum = payload - sizes[count-1]
	}

	last := total - int64(pos) - sum
	if last < 0 {
		return errors.Wrapf(ErrMalformedElement, "laced frames overrun block at %d", el.offset)
	}
	sizes[count-1] = last

	offset := el.dataOffset + int64(pos)
	for _, size := range sizes {
		b.Frames = append(b.Frames, BlockFrame{Offset: offset, Size: size})
		offset += size
	}
	return nil
}
