package webmplay

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the playback state of a Player.
type State int32

const (
	StateUninitialized State = iota // Nothing loaded
	StateInitialized                // Loaded, never played
	StateBuffering                  // Decoding ahead, clock stopped
	StatePlaying                    // Clock running
	StatePaused                     // Clock stopped, no decode work
	StateStopped                    // Rewound, decode goroutine priming
	StateFinished                   // Play time reached the duration
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// LoadResult is the outcome of Player.Load.
type LoadResult int

const (
	LoadSuccess LoadResult = iota
	LoadFileNotExists
	LoadFailedParseHeader
	LoadFailedCreateInstance
	LoadFailedLoadSegment
	LoadFailedGetSegmentInfo
	LoadFailedInitializeVideoDecoder
	LoadFailedDecodeAudioHeader
	LoadFailedInitializeAudioDecoder
	LoadUnsupportedVideoCodec
	LoadNotInitialized
	LoadInternalError
)

func (r LoadResult) String() string {
	switch r {
	case LoadSuccess:
		return "success"
	case LoadFileNotExists:
		return "file does not exist"
	case LoadFailedParseHeader:
		return "failed to parse header"
	case LoadFailedCreateInstance:
		return "failed to create segment instance"
	case LoadFailedLoadSegment:
		return "failed to load segment"
	case LoadFailedGetSegmentInfo:
		return "failed to get segment info"
	case LoadFailedInitializeVideoDecoder:
		return "failed to initialize video decoder"
	case LoadFailedDecodeAudioHeader:
		return "failed to decode audio header"
	case LoadFailedInitializeAudioDecoder:
		return "failed to initialize audio decoder"
	case LoadUnsupportedVideoCodec:
		return "unsupported video codec"
	case LoadNotInitialized:
		return "not initialized"
	case LoadInternalError:
		return "internal error"
	default:
		return "unknown"
	}
}

// VideoInfo describes the loaded title.
type VideoInfo struct {
	Width     int
	Height    int
	Duration  float64 // Seconds
	FrameRate float64

	HasVideo   bool
	VideoCodec VideoCodec

	HasAudio       bool
	AudioCodec     AudioCodec
	AudioChannels  int
	AudioFrequency int
	AudioSamples   int // Channels * frequency * duration

	DecodeThreadsCount int
}

// Statistics are diagnostics counters for the loaded title.
type Statistics struct {
	FramesDecoded   uint64
	FramesDropped   uint64
	VideoBufferSize int // Compressed video scratch, bytes
	AudioBufferSize int // PCM scratch, samples
	PacketsDemuxed  uint64
	VideoQueueLen   int
	AudioQueueLen   int
	FreePackets     int
	DecodeErrors    uint64
	PlayTime        float64
	WallTime        time.Duration
}

const (
	// Audio is decoded this far ahead of the play time.
	audioPreloadTime = 0.2

	defaultFrameRate = 30

	// maxErrorDescription bounds the decode error text kept between updates.
	maxErrorDescription = 256

	idleInterval = 2 * time.Millisecond

	// audioPacketBufferSize is the initial compressed audio scratch size in
	// bytes. It grows to fit larger packets.
	audioPacketBufferSize = 4 * 1024
)

// Player plays one Matroska/WebM title. Transport calls, Update and frame
// reads come from the caller's goroutine; demuxing and decoding run on a
// goroutine owned by the player.
type Player struct {
	cfg Config
	log logrus.FieldLogger

	// mu guards state transitions, errDesc and the loaded components.
	mu          sync.Mutex
	state       atomic.Int32
	initialized bool
	errDesc     []byte

	reader      *FileReader
	demuxer     *Demuxer
	pool        *PacketPool
	videoQueue  *PacketQueue
	audioQueue  *PacketQueue
	video       VideoDecoder
	audio       AudioDecoder
	frameBuffer *FrameBuffer
	clock       *Clock
	info        VideoInfo
	frameTime   float64

	// Decode goroutine only.
	videoBuf         []byte
	audioBuf         []byte
	demuxErrRecorded bool
	pixelErrRecorded bool
	videoBufferSize  atomic.Int64
	audioBufferSize  atomic.Int64
	framesDecoded    atomic.Uint64
	decodeErrors     atomic.Uint64
	onAudioData      atomic.Pointer[AudioSamplesCallback]
	onVideoFinished  atomic.Pointer[func()]

	// Progress through the front video packet when the frame buffer fills
	// part way: the next lace to decode and a decoded image not yet written.
	videoLace     int
	heldImage     *Image
	heldImageTime float64

	// threadMu serializes goroutine start and stop.
	threadMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
}

// NewPlayer creates a player. Zero config fields take their defaults.
func NewPlayer(cfg Config) *Player {
	cfg = cfg.withDefaults()
	p := &Player{
		cfg:   cfg,
		log:   cfg.Logger.WithField("component", "player"),
		clock: NewClock(),
		wake:  make(chan struct{}, 1),
	}
	p.state.Store(int32(StateUninitialized))
	return p
}

// Load opens fileName and prepares decoders. audioTrack selects the n-th audio
// track (0-based); a negative value disables audio. Any previously loaded
// title is released first.
//
// Audio problems do not fail the load when video is playable; the title then
// plays without sound.
func (p *Player) Load(fileName string, audioTrack int, preload bool) LoadResult {
	p.unload()

	path := p.cfg.resolvePath(fileName)
	log := p.log.WithField("file", path)

	if path == "" {
		return LoadFileNotExists
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		log.WithError(err).Warn("video file not found")
		return LoadFileNotExists
	}

	reader, err := NewFileReader(path, preload)
	if err != nil {
		log.WithError(err).Warn("failed to open video file")
		return LoadFileNotExists
	}

	pool := NewPacketPool(p.cfg.PacketPoolSize)
	videoQueue := NewPacketQueue(p.cfg.FrameBufferCount * 4)
	audioQueue := NewPacketQueue(64)

	demuxer, err := NewDemuxer(reader, pool, videoQueue, audioQueue)
	if err != nil {
		reader.Close()
		res := loadResultForSegmentError(err)
		log.WithError(err).WithField("result", res).Warn("failed to parse container")
		return res
	}
	seg := demuxer.Segment()

	info := VideoInfo{
		Duration:           seg.Duration,
		DecodeThreadsCount: p.cfg.decodeThreads(),
	}

	var video VideoDecoder
	var videoTrackNum uint64
	if vt := seg.FirstTrack(TrackTypeVideo); vt != nil {
		codec := vt.VideoCodec()
		if codec == VideoCodecUnknown {
			reader.Close()
			log.WithField("codec_id", vt.CodecID).Warn("unsupported video codec")
			return LoadUnsupportedVideoCodec
		}
		if vt.Width <= 0 || vt.Height <= 0 {
			w, h, perr := demuxer.probeVideoSize(vt)
			if perr != nil {
				log.WithError(perr).Debug("track carries no dimensions and probe failed")
			} else {
				vt.Width, vt.Height = w, h
			}
		}

		video, err = NewVideoDecoder(VideoDecoderConfig{
			Codec:    codec,
			Provider: p.cfg.videoProvider(),
			Width:    vt.Width,
			Height:   vt.Height,
			Threads:  info.DecodeThreadsCount,
		})
		if err != nil {
			reader.Close()
			log.WithError(err).WithField("codec", codec).Warn("failed to initialize video decoder")
			return LoadFailedInitializeVideoDecoder
		}

		videoTrackNum = vt.Number
		info.HasVideo = true
		info.VideoCodec = codec
		info.Width = vt.Width
		info.Height = vt.Height
		info.FrameRate = vt.FrameRate()
		if info.FrameRate <= 0 {
			info.FrameRate = defaultFrameRate
		}
	}

	var audio AudioDecoder
	var audioTrackNum uint64
	audioResult := LoadSuccess
	if at := seg.AudioTrackAt(audioTrack); at != nil {
		audio, audioResult = p.openAudio(at, log)
		if audio != nil {
			audioTrackNum = at.Number
			info.HasAudio = true
			info.AudioCodec = audio.Codec()
			info.AudioChannels = audio.Channels()
			info.AudioFrequency = audio.SampleRate()
		}
	}

	if video == nil && audio == nil {
		reader.Close()
		if audioResult != LoadSuccess {
			return audioResult
		}
		log.Warn("no playable track")
		return LoadFailedLoadSegment
	}

	if info.Duration <= 0 {
		info.Duration, err = demuxer.scanDuration()
		if err != nil || info.Duration <= 0 {
			if video != nil {
				video.Close()
			}
			reader.Close()
			log.WithError(err).Warn("could not determine duration")
			return LoadFailedGetSegmentInfo
		}
	}
	if info.HasAudio {
		info.AudioSamples = int(float64(info.AudioChannels*info.AudioFrequency) * info.Duration)
	}
	if info.FrameRate <= 0 {
		info.FrameRate = defaultFrameRate
	}

	demuxer.SelectTracks(videoTrackNum, audioTrackNum)

	fbWidth, fbHeight := info.Width, info.Height
	if fbWidth <= 0 || fbHeight <= 0 {
		fbWidth, fbHeight = 16, 16
	}

	p.mu.Lock()
	p.reader = reader
	p.demuxer = demuxer
	p.pool = pool
	p.videoQueue = videoQueue
	p.audioQueue = audioQueue
	p.video = video
	p.audio = audio
	p.frameBuffer = NewFrameBuffer(fbWidth, fbHeight, p.cfg.FrameBufferCount)
	p.info = info
	p.frameTime = 1 / info.FrameRate
	p.videoBuf = make([]byte, p.cfg.VideoDecodeBufferSize)
	p.audioBuf = make([]byte, audioPacketBufferSize)
	p.videoBufferSize.Store(int64(len(p.videoBuf)))
	if audio != nil {
		p.audioBufferSize.Store(int64(audio.BufferSize()))
	}
	p.demuxErrRecorded = false
	p.pixelErrRecorded = false
	p.resetVideoProgress()
	p.errDesc = p.errDesc[:0]
	p.framesDecoded.Store(0)
	p.decodeErrors.Store(0)
	p.clock.Reset()
	p.initialized = true
	p.setState(StateInitialized)
	p.mu.Unlock()

	log.WithFields(logrus.Fields{
		"width":       info.Width,
		"height":      info.Height,
		"duration":    info.Duration,
		"frame_rate":  info.FrameRate,
		"video_codec": info.VideoCodec,
		"has_audio":   info.HasAudio,
		"audio_codec": info.AudioCodec,
		"threads":     info.DecodeThreadsCount,
	}).Info("video loaded")

	return LoadSuccess
}

func (p *Player) openAudio(track *TrackInfo, log logrus.FieldLogger) (AudioDecoder, LoadResult) {
	log = log.WithFields(logrus.Fields{
		"audio_track": track.Number,
		"codec_id":    track.CodecID,
	})

	dec, err := NewAudioDecoder(AudioDecoderConfig{
		Codec:      track.AudioCodec(),
		Channels:   track.Channels,
		SampleRate: int(track.SampleRate),
		BufferSize: p.cfg.AudioDecodeBufferSize,
		OnSamples:  p.forwardAudio,
	})
	if err != nil {
		log.WithError(err).Warn("failed to create audio decoder, playing without audio")
		return nil, LoadFailedInitializeAudioDecoder
	}

	dec.Init()
	if err := dec.InitHeader(track.CodecPrivate); err != nil {
		log.WithError(err).Warn("failed to decode audio header, playing without audio")
		return nil, LoadFailedDecodeAudioHeader
	}
	if err := dec.PostInit(); err != nil {
		log.WithError(err).Warn("failed to initialize audio decoder, playing without audio")
		return nil, LoadFailedInitializeAudioDecoder
	}
	return dec, LoadSuccess
}

func loadResultForSegmentError(err error) LoadResult {
	switch {
	case errors.Is(err, ErrInvalidEBMLHeader):
		return LoadFailedParseHeader
	case errors.Is(err, ErrNoSegment):
		return LoadFailedCreateInstance
	case errors.Is(err, ErrNoSegmentInfo):
		return LoadFailedGetSegmentInfo
	case errors.Is(err, ErrSegmentLoad):
		return LoadFailedLoadSegment
	case errors.Is(err, ErrReaderNotOpen):
		return LoadInternalError
	default:
		return LoadFailedParseHeader
	}
}

// unload stops decoding and releases the loaded title.
func (p *Player) unload() {
	p.stopDecoding()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.video != nil {
		p.video.Close()
		p.video = nil
	}
	p.audio = nil
	if p.videoQueue != nil {
		p.videoQueue.Destroy(p.pool.Release)
		p.audioQueue.Destroy(p.pool.Release)
	}
	if p.reader != nil {
		p.reader.Close()
		p.reader = nil
	}
	p.demuxer = nil
	p.frameBuffer = nil
	p.info = VideoInfo{}
	p.initialized = false
	p.clock.Reset()
	p.setState(StateUninitialized)
}

// Close releases the loaded title. The player can load again afterwards.
func (p *Player) Close() error {
	p.unload()
	return nil
}

// Update advances the clock by dt seconds while playing, fires the finished
// callback when the clock reaches the duration, and returns any decode errors
// recorded since the previous call.
func (p *Player) Update(dt float64) error {
	if p.State() == StatePlaying {
		p.clock.Advance(dt)
	}

	var err error
	finished := false

	p.mu.Lock()
	if len(p.errDesc) > 0 {
		err = errors.New(string(p.errDesc))
		p.errDesc = p.errDesc[:0]
	}
	if p.State() == StatePlaying && p.clock.Time() >= p.info.Duration {
		p.setState(StateFinished)
		p.clock.Pause()
		finished = true
	}
	p.mu.Unlock()

	if err != nil {
		p.log.WithError(err).Warn("decode error")
	}
	if finished {
		p.log.WithField("play_time", p.clock.Time()).Info("video finished")
		if cb := p.onVideoFinished.Load(); cb != nil && *cb != nil {
			(*cb)()
		}
	}
	return err
}

// Play starts or resumes playback. From Paused the clock resumes at once;
// otherwise the player buffers first. Playing a finished title rewinds it.
func (p *Player) Play() {
	if p.State() == StateFinished {
		p.Stop()
	}

	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return
	}

	switch p.State() {
	case StatePlaying, StateBuffering:
		p.mu.Unlock()
		return
	case StatePaused:
		p.log.Debug("resuming video")
		p.clock.Resume()
		p.setState(StatePlaying)
		p.mu.Unlock()
		p.signal()
		return
	}

	p.log.Debug("buffering video")
	p.setState(StateBuffering)
	p.mu.Unlock()

	p.startDecoding()
	p.signal()
}

// Pause stops the clock. The decode goroutine idles until Play.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}
	switch p.State() {
	case StatePlaying, StateBuffering:
		p.clock.Pause()
		p.setState(StatePaused)
	}
}

// Stop rewinds to the start. The decode goroutine is joined, all queued
// packets and frames are dropped, and the goroutine restarts to pre-demux so
// the next Play starts quickly.
func (p *Player) Stop() {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized {
		return
	}

	p.stopDecoding()

	p.mu.Lock()
	p.videoQueue.Destroy(p.pool.Release)
	p.audioQueue.Destroy(p.pool.Release)
	p.frameBuffer.Reset()
	p.demuxer.Reset()
	p.demuxErrRecorded = false
	p.pixelErrRecorded = false
	p.resetVideoProgress()
	if p.video != nil {
		if err := p.video.Reset(); err != nil {
			p.log.WithError(err).Warn("video decoder reset failed")
		}
	}
	if p.audio != nil {
		p.audio.Reset()
	}
	p.framesDecoded.Store(0)
	p.clock.Reset()
	p.setState(StateStopped)
	p.mu.Unlock()

	p.startDecoding()
}

// State returns the playback state.
func (p *Player) State() State { return State(p.state.Load()) }

// setState must be called with mu held.
func (p *Player) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.log.WithFields(logrus.Fields{"from": old, "to": s}).Debug("state change")
	}
}

// IsStopped reports whether the player is stopped.
func (p *Player) IsStopped() bool { return p.State() == StateStopped }

// IsPaused reports whether the player is paused.
func (p *Player) IsPaused() bool { return p.State() == StatePaused }

// IsPlaying reports whether the clock is running.
func (p *Player) IsPlaying() bool { return p.State() == StatePlaying }

// PlayTime returns the play time in seconds.
func (p *Player) PlayTime() float64 { return p.clock.Time() }

// Duration returns the title duration in seconds.
func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.Duration
}

// Info returns the description of the loaded title.
func (p *Player) Info() VideoInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// ReadStats returns diagnostics counters. ok is false when nothing is loaded.
func (p *Player) ReadStats() (stats Statistics, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return Statistics{}, false
	}
	return Statistics{
		FramesDecoded:   p.framesDecoded.Load(),
		FramesDropped:   p.frameBuffer.Dropped(),
		VideoBufferSize: int(p.videoBufferSize.Load()),
		AudioBufferSize: int(p.audioBufferSize.Load()),
		PacketsDemuxed:  p.demuxer.PacketsDemuxed(),
		VideoQueueLen:   p.videoQueue.Len(),
		AudioQueueLen:   p.audioQueue.Len(),
		FreePackets:     p.pool.Available(),
		DecodeErrors:    p.decodeErrors.Load(),
		PlayTime:        p.clock.Time(),
		WallTime:        p.clock.WallTime(),
	}, true
}

// FrameBuffer returns the picture buffer of the loaded title, or nil.
func (p *Player) FrameBuffer() *FrameBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameBuffer
}

// LockRead advances the frame buffer to the play time and returns the
// exposed frame with its read lock held, or nil when nothing is loaded.
// Pair with UnlockRead.
func (p *Player) LockRead() *Frame {
	fb := p.FrameBuffer()
	if fb == nil {
		return nil
	}
	return fb.LockRead(p.clock.Time(), p.frameTime)
}

// UnlockRead releases the lock taken by LockRead.
func (p *Player) UnlockRead() {
	if fb := p.FrameBuffer(); fb != nil {
		fb.UnlockRead()
	}
}

// SetOnAudioData sets the PCM sink. It is called on the decode goroutine.
func (p *Player) SetOnAudioData(fn AudioSamplesCallback) {
	p.onAudioData.Store(&fn)
}

// SetOnVideoFinished sets the callback fired by Update when playback ends.
func (p *Player) SetOnVideoFinished(fn func()) {
	p.onVideoFinished.Store(&fn)
}

func (p *Player) forwardAudio(samples []float32) {
	if cb := p.onAudioData.Load(); cb != nil && *cb != nil {
		(*cb)(samples)
	}
}

// recordError appends to the bounded error description read by Update.
func (p *Player) recordError(err error) {
	p.decodeErrors.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := err.Error()
	if len(p.errDesc) > 0 {
		msg = "; " + msg
	}
	room := maxErrorDescription - len(p.errDesc)
	if room <= 0 {
		return
	}
	if len(msg) > room {
		msg = msg[:room]
	}
	p.errDesc = append(p.errDesc, msg...)
}

// --- Decode goroutine ---

func (p *Player) startDecoding() {
	p.threadMu.Lock()
	defer p.threadMu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.decodeLoop(ctx, p.done)
}

func (p *Player) stopDecoding() {
	p.threadMu.Lock()
	defer p.threadMu.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.done = nil
}

// signal wakes the decode goroutine if it is waiting.
func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// wait blocks until signalled, cancelled or, if timeout > 0, timed out.
func (p *Player) wait(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-p.wake:
			return true
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.wake:
	case <-t.C:
	}
	return true
}

func (p *Player) decodeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		switch st := p.State(); st {
		case StatePlaying, StateBuffering:
			worked := p.decodePass()

			if st == StateBuffering {
				p.mu.Lock()
				if p.State() == StateBuffering {
					p.clock.Resume()
					p.setState(StatePlaying)
				}
				p.mu.Unlock()
			}
			if !worked && !p.wait(ctx, idleInterval) {
				return
			}

		case StateStopped:
			p.prime()
			if !p.wait(ctx, 0) {
				return
			}

		default:
			if !p.wait(ctx, 0) {
				return
			}
		}
	}
}

// prime demuxes ahead while stopped, without decoding.
func (p *Player) prime() {
	target := p.cfg.FrameBufferCount
	for p.videoQueue.Len()+p.audioQueue.Len() < target*2 {
		if _, err := p.demuxer.Demux(); err != nil {
			p.checkDemuxError(err)
			return
		}
	}
}

// decodePass decodes due video into the frame buffer and audio up to the
// preload window. It reports whether any packet was consumed.
func (p *Player) decodePass() bool {
	worked := false
	playTime := p.clock.Time()

	if p.video != nil {
		for !p.frameBuffer.IsFull() {
			pkt := p.getPacket(TrackTypeVideo)
			if pkt == nil {
				break
			}
			done, ok := p.decodeVideoPacket(pkt)
			worked = true
			if done {
				p.pool.Release(p.videoQueue.Pop())
			}
			if !done || !ok {
				break
			}
		}
		p.frameBuffer.Update(playTime, p.frameTime)
	}

	if p.audio != nil {
		for {
			pkt := p.getPacket(TrackTypeAudio)
			if pkt == nil || pkt.Time > playTime+audioPreloadTime {
				break
			}
			p.decodeAudioPacket(pkt)
			p.pool.Release(p.audioQueue.Pop())
			worked = true
		}
	}
	return worked
}

// getPacket returns the front packet of the given type, demuxing until one
// is queued. It returns nil at end of stream, when the pool is exhausted or
// after a demux error.
func (p *Player) getPacket(t TrackType) *Packet {
	q := p.videoQueue
	if t == TrackTypeAudio {
		q = p.audioQueue
	}

	for {
		if pkt := q.First(); pkt != nil {
			return pkt
		}
		if _, err := p.demuxer.Demux(); err != nil {
			p.checkDemuxError(err)
			return nil
		}
	}
}

func (p *Player) checkDemuxError(err error) {
	if err == io.EOF || errors.Is(err, ErrPoolExhausted) || p.demuxErrRecorded {
		return
	}
	p.demuxErrRecorded = true
	p.recordError(errors.Wrap(err, "demux"))
}

// videoWrite is the outcome of writing decoded images to the frame buffer.
type videoWrite int

const (
	videoWritten videoWrite = iota
	videoBufferFull
	videoWriteFailed
)

// decodeVideoPacket decodes the frames of pkt into the frame buffer, picking
// up where an earlier call stopped. done reports that the packet is fully
// consumed and can be released; ok is false if draining should stop. When
// the frame buffer fills part way it returns done false and keeps its place.
func (p *Player) decodeVideoPacket(pkt *Packet) (done, ok bool) {
	switch p.writeVideoImages() {
	case videoBufferFull:
		return false, true
	case videoWriteFailed:
		p.resetVideoProgress()
		return true, false
	}

	for p.videoLace < pkt.Block.FrameCount() {
		i := p.videoLace
		buf, err := pkt.Block.ReadFrame(p.reader, i, p.videoBuf)
		if cap(buf) > cap(p.videoBuf) {
			p.videoBufferSize.Store(int64(cap(buf)))
		}
		p.videoBuf = buf[:cap(buf)]
		if err != nil {
			p.recordError(errors.Wrapf(err, "read video frame at %.3fs", pkt.Time))
			p.resetVideoProgress()
			return true, false
		}

		if err := p.video.Decode(buf); err != nil {
			p.recordError(errors.Wrapf(err, "decode video frame at %.3fs", pkt.Time))
			p.resetVideoProgress()
			return true, false
		}
		p.videoLace++
		p.heldImageTime = pkt.Time + float64(i)*p.frameTime

		switch p.writeVideoImages() {
		case videoBufferFull:
			return false, true
		case videoWriteFailed:
			p.resetVideoProgress()
			return true, false
		}
	}
	p.resetVideoProgress()
	return true, true
}

// writeVideoImages copies every image the decoder has ready into the frame
// buffer, starting with one held back by an earlier call. An image that finds
// no free slot is held for the next call.
func (p *Player) writeVideoImages() videoWrite {
	for {
		img := p.heldImage
		if img == nil {
			img = p.video.NextFrame()
		}
		if img == nil {
			return videoWritten
		}
		p.heldImage = nil

		if img.Format != PixelFormatI420 {
			if !p.pixelErrRecorded {
				p.pixelErrRecorded = true
				p.recordError(errors.Wrapf(ErrUnsupportedPixelFormat, "%s at %.3fs", img.Format, p.heldImageTime))
			}
			return videoWriteFailed
		}

		f := p.frameBuffer.LockWrite(p.heldImageTime)
		if f == nil {
			p.heldImage = img
			return videoBufferFull
		}
		f.writeImage(img)
		p.frameBuffer.UnlockWrite()
		p.framesDecoded.Add(1)
	}
}

func (p *Player) resetVideoProgress() {
	p.videoLace = 0
	p.heldImage = nil
	p.heldImageTime = 0
}

func (p *Player) decodeAudioPacket(pkt *Packet) {
	for i := 0; i < pkt.Block.FrameCount(); i++ {
		buf, err := pkt.Block.ReadFrame(p.reader, i, p.audioBuf)
		p.audioBuf = buf[:cap(buf)]
		if err != nil {
			p.recordError(errors.Wrapf(err, "read audio frame at %.3fs", pkt.Time))
			return
		}

		_, err = p.audio.Decode(buf)
		p.audioBufferSize.Store(int64(p.audio.BufferSize()))
		switch {
		case err == nil:
		case errors.Is(err, ErrNotAudioPacket), errors.Is(err, ErrAudioNotReady):
			p.log.WithError(err).WithField("time", pkt.Time).Debug("skipping audio packet")
		default:
			p.recordError(errors.Wrapf(err, "decode audio at %.3fs", pkt.Time))
			return
		}
	}
}
