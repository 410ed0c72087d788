package webmplay

import "github.com/pion/webrtc/v4"

// TrackType is the media kind of a track. It is pion's codec type, so track
// kinds can be passed to WebRTC code unchanged.
type TrackType = webrtc.RTPCodecType

const (
	TrackTypeUnknown = webrtc.RTPCodecTypeUnknown
	TrackTypeAudio   = webrtc.RTPCodecTypeAudio
	TrackTypeVideo   = webrtc.RTPCodecTypeVideo
)

// Matroska TrackType element values.
const (
	matroskaTrackVideo = 1
	matroskaTrackAudio = 2
)

func trackTypeFromMatroska(v uint64) TrackType {
	switch v {
	case matroskaTrackVideo:
		return TrackTypeVideo
	case matroskaTrackAudio:
		return TrackTypeAudio
	default:
		return TrackTypeUnknown
	}
}

// TrackInfo describes one track entry of a segment.
type TrackInfo struct {
	Number          uint64    // TrackNumber used by blocks
	Type            TrackType // Audio, video or unknown (subtitles, metadata)
	CodecID         string    // Matroska codec ID, e.g. "V_VP9"
	CodecPrivate    []byte    // Codec setup data, nil if absent
	DefaultDuration uint64    // Nanoseconds per frame, 0 if absent

	// Video
	Width  int
	Height int

	// Audio
	Channels   int
	SampleRate float64
	BitDepth   int
}

// VideoCodec maps the codec ID to a supported video codec.
func (t *TrackInfo) VideoCodec() VideoCodec {
	if t.Type != TrackTypeVideo {
		return VideoCodecUnknown
	}
	return VideoCodecFromID(t.CodecID)
}

// AudioCodec maps the codec ID to a supported audio codec.
func (t *TrackInfo) AudioCodec() AudioCodec {
	if t.Type != TrackTypeAudio {
		return AudioCodecUnknown
	}
	return AudioCodecFromID(t.CodecID)
}

// FrameRate derives frames per second from DefaultDuration, or 0.
func (t *TrackInfo) FrameRate() float64 {
	if t.DefaultDuration == 0 {
		return 0
	}
	return 1e9 / float64(t.DefaultDuration)
}
