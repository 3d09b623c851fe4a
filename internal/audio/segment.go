package audio

import (
	"errors"
	"fmt"
)

// Segment is a buffered piece of captured audio in one of several shapes.
// Normalize flattens any of them into one interleaved PCM16LE sequence.
type Segment interface {
	segment()
}

// Frame is a single captured audio frame.
type Frame struct {
	Data       []int16
	SampleRate int
	Channels   int
}

// Frames is an ordered sequence of frames sharing one format.
type Frames []Frame

// RawPCM is a raw byte container: PCM16LE, or a RIFF/WAVE file.
type RawPCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

func (Frame) segment()  {}
func (Frames) segment() {}
func (RawPCM) segment() {}

// PCM is a normalized interleaved PCM16LE buffer.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// ErrFormatMismatch is returned when frames in one segment disagree on format.
var ErrFormatMismatch = errors.New("audio format mismatch")

// Normalize converts any Segment into interleaved PCM16LE. Zero sample
// rates and channel counts are filled from defaults.
func Normalize(seg Segment, defaults Format) (PCM, error) {
	switch s := seg.(type) {
	case nil:
		return PCM{SampleRate: defaults.SampleRate, Channels: defaults.Channels}, nil
	case Frame:
		return PCM{
			Data:       Int16ToPCM(s.Data),
			SampleRate: orDefault(s.SampleRate, defaults.SampleRate),
			Channels:   orDefault(s.Channels, defaults.Channels),
		}, nil
	case *Frame:
		if s == nil {
			return Normalize(nil, defaults)
		}
		return Normalize(*s, defaults)
	case Frames:
		return normalizeFrames(s, defaults)
	case RawPCM:
		return normalizeRaw(s, defaults)
	case *RawPCM:
		if s == nil {
			return Normalize(nil, defaults)
		}
		return normalizeRaw(*s, defaults)
	default:
		return PCM{}, fmt.Errorf("unsupported segment type %T", seg)
	}
}

func normalizeFrames(frames Frames, defaults Format) (PCM, error) {
	out := PCM{SampleRate: defaults.SampleRate, Channels: defaults.Channels}
	if len(frames) == 0 {
		return out, nil
	}
	out.SampleRate = orDefault(frames[0].SampleRate, defaults.SampleRate)
	out.Channels = orDefault(frames[0].Channels, defaults.Channels)
	total := 0
	for _, f := range frames {
		total += len(f.Data)
	}
	data := make([]byte, 0, total*2)
	for i, f := range frames {
		rate := orDefault(f.SampleRate, out.SampleRate)
		channels := orDefault(f.Channels, out.Channels)
		if rate != out.SampleRate || channels != out.Channels {
			return PCM{}, fmt.Errorf("%w: frame %d is %d Hz/%d ch, want %d Hz/%d ch",
				ErrFormatMismatch, i, rate, channels, out.SampleRate, out.Channels)
		}
		data = append(data, Int16ToPCM(f.Data)...)
	}
	out.Data = data
	return out, nil
}

func normalizeRaw(raw RawPCM, defaults Format) (PCM, error) {
	if IsWAV(raw.Data) {
		return DecodeWAVPCM16(raw.Data)
	}
	if len(raw.Data)%2 != 0 {
		return PCM{}, fmt.Errorf("pcm payload not aligned: %d bytes", len(raw.Data))
	}
	return PCM{
		Data:       raw.Data,
		SampleRate: orDefault(raw.SampleRate, defaults.SampleRate),
		Channels:   orDefault(raw.Channels, defaults.Channels),
	}, nil
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
