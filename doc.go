// Package webmplay plays Matroska/WebM files: it demuxes blocks into
// per-track packets, decodes VP8/VP9 video and Vorbis/Opus audio on a
// background goroutine, and hands out pictures and PCM paced by a caller
// driven clock.
//
// Key pieces include:
//   - FileReader: random-access byte source, optionally preloaded
//   - Demuxer: EBML/Matroska cluster walker feeding PacketQueues from a PacketPool
//   - VideoDecoder/AudioDecoder: codec adapters behind a provider registry
//   - FrameBuffer: fixed picture slots with a free/ready split and one exposed frame
//   - Player: load, play, pause, stop and the decode goroutine
//
// # Architecture
//
//	FileReader -> Demuxer -> PacketQueue (video) -> VideoDecoder -> FrameBuffer -> LockRead
//	                      -> PacketQueue (audio) -> AudioDecoder -> OnAudioData
//
// The caller drives time with Player.Update(dt) once per rendered frame and
// reads the current picture with Player.LockRead/UnlockRead.
//
// # Native Libraries
//
// VP8/VP9 decoding loads libmedia_vpx with purego (no cgo). Set
// MEDIA_VPX_LIB_PATH or MEDIA_SDK_LIB_PATH to the directory containing it.
// Vorbis (jfreymuth/vorbis) and Opus (pion/opus) are pure Go.
//
// # Build Tags
//
//   - novpx: disable the libmedia_vpx provider
package webmplay
