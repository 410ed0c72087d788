package webmplay

import (
	"io"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrPoolExhausted is returned by Demux when no packet slot is free. The
// cursor does not move, so the call can be retried once packets are released.
var ErrPoolExhausted = errors.New("packet pool exhausted")

const idReferenceBlock = 0xFB

// Demuxer walks the clusters of a segment and turns blocks of the selected
// tracks into packets on the per-type queues.
type Demuxer struct {
	er  *ebmlReader
	seg *Segment

	pool  *PacketPool
	video *PacketQueue
	audio *PacketQueue

	videoTrack uint64 // 0 = none
	audioTrack uint64 // 0 = none

	// Cursor
	clusterPos      int64
	cluster         ebmlElement
	clusterEnd      int64
	clusterTimecode uint64
	childPos        int64
	inCluster       bool

	scratch []byte
	err     error
	eos     bool

	demuxed atomic.Uint64
}

// NewDemuxer parses the segment header from src. Packets go to the given
// queues, with slots taken from pool.
func NewDemuxer(src SourceReader, pool *PacketPool, video, audio *PacketQueue) (*Demuxer, error) {
	er, err := newEBMLReader(src)
	if err != nil {
		return nil, err
	}
	seg, err := parseSegment(er)
	if err != nil {
		return nil, err
	}

	d := &Demuxer{
		er:    er,
		seg:   seg,
		pool:  pool,
		video: video,
		audio: audio,
	}
	d.Reset()
	return d, nil
}

// Segment returns the parsed segment header.
func (d *Demuxer) Segment() *Segment { return d.seg }

// SelectTracks sets the track numbers whose blocks become packets. Zero
// disables a type.
func (d *Demuxer) SelectTracks(video, audio uint64) {
	d.videoTrack = video
	d.audioTrack = audio
}

// VideoTrack returns the selected video track number.
func (d *Demuxer) VideoTrack() uint64 { return d.videoTrack }

// AudioTrack returns the selected audio track number.
func (d *Demuxer) AudioTrack() uint64 { return d.audioTrack }

// Err returns the error that halted demuxing, if any.
func (d *Demuxer) Err() error { return d.err }

// EOS reports whether the last cluster has been consumed.
func (d *Demuxer) EOS() bool { return d.eos }

// PacketsDemuxed returns the number of packets enqueued since the last Reset.
func (d *Demuxer) PacketsDemuxed() uint64 { return d.demuxed.Load() }

// Reset rewinds the cursor to the first cluster and clears the error state.
func (d *Demuxer) Reset() {
	d.clusterPos = d.seg.firstCluster
	if d.clusterPos < 0 {
		d.clusterPos = d.seg.dataOffset
	}
	d.inCluster = false
	d.clusterTimecode = 0
	d.err = nil
	d.eos = false
	d.demuxed.Store(0)
}

// Demux enqueues the next packet of a selected track and returns its type.
// It returns io.EOF at end of stream and ErrPoolExhausted when no slot is
// free. Any other error is sticky until Reset.
func (d *Demuxer) Demux() (TrackType, error) {
	if d.err != nil {
		return TrackTypeUnknown, d.err
	}
	if d.eos {
		return TrackTypeUnknown, io.EOF
	}

	for {
		p := d.pool.Acquire()
		if p == nil {
			return TrackTypeUnknown, ErrPoolExhausted
		}

		ok, err := d.nextBlock(&p.Block)
		if err != nil {
			d.pool.Release(p)
			d.err = err
			return TrackTypeUnknown, err
		}
		if !ok {
			d.pool.Release(p)
			d.eos = true
			return TrackTypeUnknown, io.EOF
		}

		if d.seg.TrackByNumber(p.Block.TrackNumber) == nil {
			n := p.Block.TrackNumber
			d.pool.Release(p)
			d.err = errors.Wrapf(ErrMalformedElement, "block for unknown track %d", n)
			return TrackTypeUnknown, d.err
		}

		var q *PacketQueue
		switch n := p.Block.TrackNumber; {
		case d.videoTrack != 0 && n == d.videoTrack:
			p.Type = TrackTypeVideo
			q = d.video
		case d.audioTrack != 0 && n == d.audioTrack:
			p.Type = TrackTypeAudio
			q = d.audio
		}
		if q == nil {
			d.pool.Release(p)
			continue
		}

		p.Time = p.Block.Time()
		q.Push(p)
		d.demuxed.Add(1)
		return p.Type, nil
	}
}

// nextBlock advances the cursor to the next block of any track.
func (d *Demuxer) nextBlock(b *Block) (bool, error) {
	for {
		if !d.inCluster {
			ok, err := d.openCluster()
			if err != nil || !ok {
				return false, err
			}
		}

		if d.childPos >= d.clusterEnd {
			d.closeCluster(d.clusterEnd)
			continue
		}

		el, err := d.er.readHeader(d.childPos, d.clusterEnd)
		if err == io.EOF {
			d.closeCluster(d.clusterEnd)
			continue
		}
		if err != nil {
			return false, errors.Wrapf(err, "cluster at %d", d.cluster.offset)
		}
		if d.cluster.size == unknownElementSize && !isClusterChild(el.id) {
			d.closeCluster(el.offset)
			continue
		}
		if el.size == unknownElementSize {
			return false, errors.Wrapf(ErrMalformedElement, "unknown-size element 0x%X in cluster", el.id)
		}
		d.childPos = el.dataOffset + el.size

		switch el.id {
		case idTimecode:
			if d.clusterTimecode, err = d.er.readUint(el); err != nil {
				return false, err
			}
		case idSimpleBlock:
			b.reset()
			d.scratch, err = parseBlockHeader(d.er, el, true, d.clusterTimecode, d.seg.TimecodeScale, b, d.scratch)
			if err != nil {
				return false, err
			}
			return true, nil
		case idBlockGroup:
			found, err := d.parseBlockGroup(el, b)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	}
}

func (d *Demuxer) parseBlockGroup(group ebmlElement, b *Block) (bool, error) {
	b.reset()
	var found, referenced bool
	scale := int64(d.seg.TimecodeScale)

	err := d.er.children(group, d.clusterEnd, nil, func(el ebmlElement) error {
		var err error
		switch el.id {
		case idBlock:
			d.scratch, err = parseBlockHeader(d.er, el, false, d.clusterTimecode, d.seg.TimecodeScale, b, d.scratch)
			found = err == nil
		case idBlockDuration:
			var v uint64
			v, err = d.er.readUint(el)
			b.Duration = int64(v) * scale
		case idDiscardPadding:
			b.DiscardPadding, err = d.er.readInt(el)
		case idReferenceBlock:
			referenced = true
		}
		return err
	})
	if err != nil {
		return false, err
	}
	b.Keyframe = found && !referenced
	return found, nil
}

// openCluster moves to the next cluster at or after clusterPos, skipping
// other segment children.
func (d *Demuxer) openCluster() (bool, error) {
	for d.clusterPos < d.seg.end {
		el, err := d.er.readHeader(d.clusterPos, d.seg.end)
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrapf(err, "segment child at %d", d.clusterPos)
		}

		if el.id == idCluster {
			d.cluster = el
			d.clusterEnd = el.end(d.seg.end)
			d.childPos = el.dataOffset
			d.clusterTimecode = 0
			d.inCluster = true
			return true, nil
		}
		if el.size == unknownElementSize {
			return false, errors.Wrapf(ErrMalformedElement, "unknown-size element 0x%X in segment", el.id)
		}
		d.clusterPos = el.dataOffset + el.size
	}
	return false, nil
}

func (d *Demuxer) closeCluster(next int64) {
	d.inCluster = false
	d.clusterPos = next
}

// scanDuration walks every block and returns the end time of the last one in
// seconds. Used when the segment does not store a duration.
func (d *Demuxer) scanDuration() (float64, error) {
	scan := &Demuxer{er: &ebmlReader{src: d.er.src, length: d.er.length}, seg: d.seg}
	scan.Reset()

	var b Block
	var end int64
	for {
		ok, err := scan.nextBlock(&b)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		t := b.Timecode + b.Duration
		if b.Duration == 0 {
			if track := d.seg.TrackByNumber(b.TrackNumber); track != nil {
				t += int64(track.DefaultDuration) * int64(len(b.Frames))
			}
		}
		if t > end {
			end = t
		}
	}
	return float64(end) / 1e9, nil
}
