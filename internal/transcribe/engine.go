package transcribe

import (
	"context"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Segment is one utterance, with offsets relative to the start of the file.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Request describes one track to transcribe.
type Request struct {
	Path        string
	Model       string
	Device      string
	ComputeType string
	Language    string
}

// Engine turns an audio file into timed segments.
type Engine interface {
	Transcribe(ctx context.Context, req Request) ([]Segment, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request) ([]Segment, error)

func (f EngineFunc) Transcribe(ctx context.Context, req Request) ([]Segment, error) {
	return f(ctx, req)
}

// ProbeWAV validates a track file and returns its playback length.
func ProbeWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errInvalidWAV
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, err
	}
	bytesPerSec := int(dec.SampleRate) * int(dec.NumChans) * int(dec.BitDepth) / 8
	if bytesPerSec == 0 {
		return 0, errInvalidWAV
	}
	return time.Duration(float64(dec.PCMSize) / float64(bytesPerSec) * float64(time.Second)), nil
}
