package webmplay

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	default:
		return "Unknown"
	}
}

// CodecID returns the Matroska codec identifier for this codec.
func (c VideoCodec) CodecID() string {
	switch c {
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	default:
		return ""
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return "video/VP8"
	case VideoCodecVP9:
		return "video/VP9"
	default:
		return ""
	}
}

// VideoCodecFromID maps a Matroska codec identifier to a VideoCodec.
func VideoCodecFromID(id string) VideoCodec {
	switch id {
	case "V_VP8":
		return VideoCodecVP8
	case "V_VP9":
		return VideoCodecVP9
	default:
		return VideoCodecUnknown
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecVorbis
	AudioCodecOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecVorbis:
		return "Vorbis"
	case AudioCodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// CodecID returns the Matroska codec identifier for this codec.
func (c AudioCodec) CodecID() string {
	switch c {
	case AudioCodecVorbis:
		return "A_VORBIS"
	case AudioCodecOpus:
		return "A_OPUS"
	default:
		return ""
	}
}

// MimeType returns the MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecVorbis:
		return "audio/vorbis"
	case AudioCodecOpus:
		return "audio/opus"
	default:
		return ""
	}
}

// AudioCodecFromID maps a Matroska codec identifier to an AudioCodec.
func AudioCodecFromID(id string) AudioCodec {
	switch id {
	case "A_VORBIS":
		return AudioCodecVorbis
	case "A_OPUS":
		return AudioCodecOpus
	default:
		return AudioCodecUnknown
	}
}
