package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a container is not a readable RIFF/WAVE file.
var ErrInvalidWAV = errors.New("invalid wav container")

// Waveform is decoded audio with interleaved normalized samples.
type Waveform struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration reports the waveform length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 || w.Channels <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate*w.Channels)
}

// Mono averages interleaved channels into a single plane.
func (w Waveform) Mono() []float32 {
	if w.Channels <= 1 {
		return w.Samples
	}
	frames := len(w.Samples) / w.Channels
	mono := make([]float32, frames)
	for i := range mono {
		var sum float32
		for c := 0; c < w.Channels; c++ {
			sum += w.Samples[i*w.Channels+c]
		}
		mono[i] = sum / float32(w.Channels)
	}
	return mono
}

// Loader reads an audio file from disk. Backends receive one at
// construction time instead of relying on a process-wide decoder.
type Loader interface {
	Load(path string) (Waveform, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(path string) (Waveform, error)

func (f LoaderFunc) Load(path string) (Waveform, error) { return f(path) }

// WAVLoader decodes RIFF/WAVE files using go-audio.
type WAVLoader struct{}

func (WAVLoader) Load(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return decodeWAV(f)
}

// DecodeWAV decodes an in-memory WAV container.
func DecodeWAV(data []byte) (Waveform, error) {
	return decodeWAV(bytes.NewReader(data))
}

func decodeWAV(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Waveform{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("read pcm: %w", err)
	}
	bitDepth := int(dec.BitDepth)
	switch bitDepth {
	case 16, 24, 32:
	default:
		return Waveform{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bitDepth)
	}
	scale := float32(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return Waveform{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}

// DecodeWAVPCM16 decodes an in-memory WAV container straight to PCM16LE.
// 16-bit sources are copied without a float round trip.
func DecodeWAVPCM16(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("read pcm: %w", err)
	}
	out := PCM{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	shift := int(dec.BitDepth) - 16
	if shift < 0 {
		return PCM{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v >> shift)
	}
	out.Data = Int16ToPCM(samples)
	return out, nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// WriteWAV encodes interleaved PCM16LE bytes into a WAV container.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile writes interleaved PCM16LE bytes as a WAV file at path.
func WriteWAVFile(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, pcm, sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
