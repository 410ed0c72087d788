package webmplay

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type demuxFixture struct {
	src   memSource
	pool  *PacketPool
	video *PacketQueue
	audio *PacketQueue
	d     *Demuxer
}

func newDemuxFixture(t *testing.T, data []byte, poolSize int) *demuxFixture {
	t.Helper()
	f := &demuxFixture{
		src:   memSource(data),
		pool:  NewPacketPool(poolSize),
		video: NewPacketQueue(4),
		audio: NewPacketQueue(4),
	}
	d, err := NewDemuxer(f.src, f.pool, f.video, f.audio)
	require.NoError(t, err)
	f.d = d
	return f
}

// drain demuxes until end of stream and returns the packet types in order.
func (f *demuxFixture) drain(t *testing.T) []TrackType {
	t.Helper()
	var types []TrackType
	for {
		tt, err := f.d.Demux()
		if err == io.EOF {
			return types
		}
		require.NoError(t, err)
		types = append(types, tt)
	}
}

func twoTrackFile() mkvFile {
	return mkvFile{
		scale:    defaultTimecodeScale,
		duration: 2000,
		tracks: []mkvTrack{
			{number: 1, kind: matroskaTrackVideo, codecID: "V_VP8", width: 32, height: 16, defaultDuration: 500000000},
			{number: 2, kind: matroskaTrackAudio, codecID: "A_VORBIS", private: testVorbisPrivate(), channels: 1, rate: 44100},
		},
		clusters: []mkvCluster{
			{timecode: 0, blocks: []mkvBlock{
				{track: 1, timecode: 0, keyframe: true, frames: [][]byte{[]byte("v0")}},
				{track: 2, timecode: 0, keyframe: true, frames: [][]byte{[]byte("a0")}},
				{track: 1, timecode: 500, frames: [][]byte{[]byte("v1")}},
			}},
			{timecode: 1000, blocks: []mkvBlock{
				{track: 2, timecode: 0, keyframe: true, lacing: lacingXiph, frames: [][]byte{[]byte("a1"), []byte("a2x")}},
				{track: 1, timecode: 0, group: true, duration: 500, frames: [][]byte{[]byte("v2")}},
				{track: 1, timecode: 500, group: true, reference: true, frames: [][]byte{[]byte("v3")}},
			}},
		},
	}
}

func TestDemuxer_AllTracks(t *testing.T) {
	f := newDemuxFixture(t, twoTrackFile().bytes(), 16)
	f.d.SelectTracks(1, 2)

	types := f.drain(t)
	assert.Equal(t, []TrackType{
		TrackTypeVideo, TrackTypeAudio, TrackTypeVideo,
		TrackTypeAudio, TrackTypeVideo, TrackTypeVideo,
	}, types)
	assert.True(t, f.d.EOS())
	assert.Equal(t, uint64(6), f.d.PacketsDemuxed())
	assert.Equal(t, 4, f.video.Len())
	assert.Equal(t, 2, f.audio.Len())
	assert.Equal(t, 10, f.pool.Available())

	// End of stream is repeatable.
	_, err := f.d.Demux()
	assert.Equal(t, io.EOF, err)

	want := []struct {
		time     float64
		keyframe bool
		payload  string
	}{
		{0, true, "v0"},
		{0.5, false, "v1"},
		{1.0, true, "v2"},
		{1.5, false, "v3"},
	}
	for i, w := range want {
		p := f.video.Pop()
		require.NotNil(t, p, "video packet %d", i)
		assert.Equal(t, TrackTypeVideo, p.Type)
		assert.InDelta(t, w.time, p.Time, 1e-9)
		assert.Equal(t, w.keyframe, p.Keyframe(), "video packet %d", i)
		buf, err := p.Block.ReadFrame(f.src, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, w.payload, string(buf))
		if i == 2 {
			assert.Equal(t, int64(500*defaultTimecodeScale), p.Block.Duration)
		}
		f.pool.Release(p)
	}

	f.audio.Pop()
	laced := f.audio.Pop()
	require.NotNil(t, laced)
	require.Equal(t, 2, laced.Block.FrameCount())
	buf, err := laced.Block.ReadFrame(f.src, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "a2x", string(buf))
}

func TestDemuxer_TrackSelection(t *testing.T) {
	data := twoTrackFile().bytes()

	t.Run("video only", func(t *testing.T) {
		f := newDemuxFixture(t, data, 16)
		f.d.SelectTracks(1, 0)
		types := f.drain(t)
		assert.Len(t, types, 4)
		assert.Equal(t, 0, f.audio.Len())
		// Skipped audio blocks went back to the pool.
		assert.Equal(t, 12, f.pool.Available())
	})

	t.Run("audio only", func(t *testing.T) {
		f := newDemuxFixture(t, data, 16)
		f.d.SelectTracks(0, 2)
		types := f.drain(t)
		assert.Equal(t, []TrackType{TrackTypeAudio, TrackTypeAudio}, types)
		assert.Equal(t, 0, f.video.Len())
		assert.Equal(t, uint64(2), f.d.AudioTrack())
		assert.Equal(t, uint64(0), f.d.VideoTrack())
	})

	t.Run("nothing selected", func(t *testing.T) {
		f := newDemuxFixture(t, data, 16)
		_, err := f.d.Demux()
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, 16, f.pool.Available())
	})
}

func TestDemuxer_PoolExhausted(t *testing.T) {
	f := newDemuxFixture(t, twoTrackFile().bytes(), 2)
	f.d.SelectTracks(1, 2)

	_, err := f.d.Demux()
	require.NoError(t, err)
	_, err = f.d.Demux()
	require.NoError(t, err)

	_, err = f.d.Demux()
	assert.True(t, errors.Is(err, ErrPoolExhausted))
	assert.NoError(t, f.d.Err(), "pool exhaustion is not sticky")

	// Releasing a slot lets demuxing continue from the same place.
	f.pool.Release(f.video.Pop())
	tt, err := f.d.Demux()
	require.NoError(t, err)
	assert.Equal(t, TrackTypeVideo, tt)
	p := f.video.Pop()
	require.NotNil(t, p)
	assert.InDelta(t, 0.5, p.Time, 1e-9)
}

func TestDemuxer_Reset(t *testing.T) {
	f := newDemuxFixture(t, twoTrackFile().bytes(), 16)
	f.d.SelectTracks(1, 2)
	first := f.drain(t)

	f.video.Destroy(f.pool.Release)
	f.audio.Destroy(f.pool.Release)
	f.d.Reset()
	assert.False(t, f.d.EOS())
	assert.Zero(t, f.d.PacketsDemuxed())

	assert.Equal(t, first, f.drain(t))
	p := f.video.First()
	require.NotNil(t, p)
	assert.Zero(t, p.Time)
}

func TestDemuxer_UnknownSizeClusters(t *testing.T) {
	m := twoTrackFile()
	m.unknownSegment = true
	for i := range m.clusters {
		m.clusters[i].unknownSize = true
	}
	// A trailing Cues element ends the last live cluster.
	data := append(m.bytes(), ebmlElem(idCues, ebmlElem(0xBB))...)

	f := newDemuxFixture(t, data, 16)
	f.d.SelectTracks(1, 2)
	types := f.drain(t)
	assert.Len(t, types, 6)

	var times []float64
	for p := f.video.Pop(); p != nil; p = f.video.Pop() {
		times = append(times, p.Time)
	}
	assert.Equal(t, []float64{0, 0.5, 1.0, 1.5}, times)
}

func TestDemuxer_ClusterTimecodes(t *testing.T) {
	m := mkvFile{
		scale: 100000,
		tracks: []mkvTrack{
			{number: 7, kind: matroskaTrackVideo, codecID: "V_VP9", width: 16, height: 16},
		},
		clusters: []mkvCluster{
			{timecode: 20000, blocks: []mkvBlock{{track: 7, timecode: -100, keyframe: true, frames: [][]byte{{1}}}}},
		},
	}
	f := newDemuxFixture(t, m.bytes(), 4)
	f.d.SelectTracks(7, 0)
	_, err := f.d.Demux()
	require.NoError(t, err)
	p := f.video.Pop()
	require.NotNil(t, p)
	assert.InDelta(t, 1.99, p.Time, 1e-9)
}

func TestDemuxer_CorruptBlockIsSticky(t *testing.T) {
	m := mkvFile{
		tracks: []mkvTrack{{number: 1, kind: matroskaTrackVideo, codecID: "V_VP8", width: 16, height: 16}},
	}
	bad := ebmlElem(idCluster,
		ebmlUint(idTimecode, 0),
		ebmlElem(idSimpleBlock, []byte{0x81, 0, 0, lacingFixed, 0x01, 1, 2, 3}))
	data := append(ebmlElem(idEBML, ebmlString(idDocType, "webm")),
		ebmlElem(idSegment,
			ebmlElem(idInfo),
			ebmlElem(idTracks, m.tracks[0].bytes()),
			bad)...)

	f := newDemuxFixture(t, data, 4)
	f.d.SelectTracks(1, 0)

	_, err := f.d.Demux()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedElement))
	assert.Equal(t, 4, f.pool.Available())

	_, again := f.d.Demux()
	assert.Equal(t, err, again)
	assert.Equal(t, err, f.d.Err())

	f.d.Reset()
	assert.NoError(t, f.d.Err())
}

func TestDemuxer_UnknownTrackIsSticky(t *testing.T) {
	m := twoTrackFile()
	m.clusters[0].blocks = append(m.clusters[0].blocks,
		mkvBlock{track: 9, timecode: 700, keyframe: true, frames: [][]byte{[]byte("x")}})

	f := newDemuxFixture(t, m.bytes(), 16)
	f.d.SelectTracks(1, 2)

	var types []TrackType
	var err error
	for {
		var tt TrackType
		if tt, err = f.d.Demux(); err != nil {
			break
		}
		types = append(types, tt)
	}
	assert.Len(t, types, 3, "blocks before the bad one are delivered")
	assert.True(t, errors.Is(err, ErrMalformedElement))
	assert.Contains(t, err.Error(), "unknown track 9")
	assert.Equal(t, err, f.d.Err())
	assert.False(t, f.d.EOS())
	assert.Equal(t, 13, f.pool.Available())

	_, again := f.d.Demux()
	assert.Equal(t, err, again)

	f.video.Destroy(f.pool.Release)
	f.audio.Destroy(f.pool.Release)
	f.d.Reset()
	assert.NoError(t, f.d.Err())
}

func TestDemuxer_UnselectedKnownTrackSkipped(t *testing.T) {
	m := twoTrackFile()
	m.tracks = append(m.tracks, mkvTrack{number: 3, kind: matroskaTrackAudio, codecID: "A_OPUS", private: testOpusHead(2, 0)})
	m.clusters[0].blocks = append(m.clusters[0].blocks,
		mkvBlock{track: 3, timecode: 700, keyframe: true, frames: [][]byte{{0x08}}})

	f := newDemuxFixture(t, m.bytes(), 16)
	f.d.SelectTracks(1, 2)
	assert.Len(t, f.drain(t), 6)
	assert.NoError(t, f.d.Err())
}

func TestDemuxer_ScanDuration(t *testing.T) {
	m := twoTrackFile()
	m.duration = 0
	f := newDemuxFixture(t, m.bytes(), 16)
	assert.Zero(t, f.d.Segment().Duration)

	d, err := f.d.scanDuration()
	require.NoError(t, err)
	// Last video block at 1.5s plus its 0.5s default duration.
	assert.InDelta(t, 2.0, d, 1e-9)

	// The scan does not disturb the real cursor.
	f.d.SelectTracks(1, 2)
	assert.Len(t, f.drain(t), 6)
}
