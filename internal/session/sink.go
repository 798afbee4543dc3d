package session

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Sink is the destination of one track's audio.
type Sink interface {
	WritePCM(pcm []byte) error
	WriteSilence(frames int) error
	Close() error
}

// SinkOpener opens the sink for a track file.
type SinkOpener func(path string) (Sink, error)

var pcmFormat = &audio.Format{NumChannels: Channels, SampleRate: SampleRate}

// wavSink encodes 16-bit stereo PCM into a WAV file. The RIFF header sizes
// are finalized on Close.
type wavSink struct {
	f       *os.File
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	silence *audio.IntBuffer
}

// OpenWAV creates path (and its directory) and writes the WAV header.
func OpenWAV(path string) (Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	s := &wavSink{
		f:       f,
		enc:     wav.NewEncoder(f, SampleRate, BitDepth, Channels, 1),
		buf:     &audio.IntBuffer{Format: pcmFormat, SourceBitDepth: BitDepth},
		silence: &audio.IntBuffer{Format: pcmFormat, SourceBitDepth: BitDepth, Data: make([]int, FrameBytes/bytesPerSample)},
	}
	// 空 buffer 只写 header
	if err := s.enc.Write(&audio.IntBuffer{Format: pcmFormat, SourceBitDepth: BitDepth}); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *wavSink) WritePCM(pcm []byte) error {
	n := len(pcm) / bytesPerSample
	if cap(s.buf.Data) < n {
		s.buf.Data = make([]int, n)
	}
	s.buf.Data = s.buf.Data[:n]
	for i := 0; i < n; i++ {
		s.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return s.enc.Write(s.buf)
}

func (s *wavSink) WriteSilence(frames int) error {
	for i := 0; i < frames; i++ {
		if err := s.enc.Write(s.silence); err != nil {
			return err
		}
	}
	return nil
}

func (s *wavSink) Close() error {
	err := s.enc.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
