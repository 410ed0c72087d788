package webmplay

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config defaults.
const (
	DefaultDecodeThreadsCount    = 1
	DefaultVideoDecodeBufferSize = 2 * 1024 * 1024
	DefaultAudioDecodeBufferSize = 4 * 1024
	DefaultFrameBufferCount      = 4

	maxFrameBufferCount = 64
)

// Config holds player settings. The zero value of any field means its default.
type Config struct {
	// FileRoot is prepended to relative file names passed to Load.
	FileRoot string `yaml:"file_root"`

	// DecodeThreadsCount is the video decoder thread hint, clamped to the
	// number of CPUs.
	DecodeThreadsCount int `yaml:"decode_threads"`

	// VideoDecodeBufferSize is the initial compressed video scratch size in bytes.
	VideoDecodeBufferSize int `yaml:"video_decode_buffer_size"`

	// AudioDecodeBufferSize is the initial PCM scratch size in samples given
	// to the audio decoder. It is reported as Statistics.AudioBufferSize.
	AudioDecodeBufferSize int `yaml:"audio_decode_buffer_size"`

	// FrameBufferCount is the number of decoded picture slots.
	FrameBufferCount int `yaml:"frame_buffer_count"`

	// PacketPoolSize is the number of demuxed packet slots.
	PacketPoolSize int `yaml:"packet_pool_size"`

	// VideoProvider selects the video decoder implementation by name.
	// Empty means auto.
	VideoProvider string `yaml:"video_provider"`

	// Logger receives player events. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger `yaml:"-"`
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig() Config {
	return Config{
		DecodeThreadsCount:    DefaultDecodeThreadsCount,
		VideoDecodeBufferSize: DefaultVideoDecodeBufferSize,
		AudioDecodeBufferSize: DefaultAudioDecodeBufferSize,
		FrameBufferCount:      DefaultFrameBufferCount,
		PacketPoolSize:        DefaultPacketPoolSize,
		Logger:                logrus.StandardLogger(),
	}
}

// LoadConfig reads a YAML config file. Fields missing from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg.withDefaults(), nil
}

// withDefaults replaces zero and out-of-range values.
func (c Config) withDefaults() Config {
	if c.DecodeThreadsCount <= 0 {
		c.DecodeThreadsCount = DefaultDecodeThreadsCount
	}
	if c.VideoDecodeBufferSize <= 0 {
		c.VideoDecodeBufferSize = DefaultVideoDecodeBufferSize
	}
	if c.AudioDecodeBufferSize <= 0 {
		c.AudioDecodeBufferSize = DefaultAudioDecodeBufferSize
	}
	if c.FrameBufferCount <= 0 {
		c.FrameBufferCount = DefaultFrameBufferCount
	}
	if c.FrameBufferCount > maxFrameBufferCount {
		c.FrameBufferCount = maxFrameBufferCount
	}
	if c.PacketPoolSize <= 0 {
		c.PacketPoolSize = DefaultPacketPoolSize
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// decodeThreads clamps the thread hint to the host.
func (c Config) decodeThreads() int {
	n := c.DecodeThreadsCount
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}

// videoProvider resolves VideoProvider to a Provider, or ProviderAuto.
func (c Config) videoProvider() Provider {
	for p := Provider(0); p < providerCount; p++ {
		if p.String() == c.VideoProvider {
			return p
		}
	}
	return ProviderAuto
}

// resolvePath joins relative names onto FileRoot.
func (c Config) resolvePath(name string) string {
	if name == "" || c.FileRoot == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.FileRoot, name)
}
