package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding tags used when a stream is initialized.
const (
	MimePCM  = "audio/pcm"
	MimeMPEG = "audio/mpeg"
)

// Format fixes the framing of a stream for its lifetime.
type Format struct {
	SampleRate int
	Channels   int
	MimeType   string
}

// BytesPerSecond returns the PCM16 byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// FloatToPCM16 scales planar normalized waveforms into interleaved PCM16LE.
// Planes shorter than the longest plane are padded with silence.
func FloatToPCM16(planes [][]float32) []byte {
	if len(planes) == 0 {
		return nil
	}
	frames := 0
	for _, plane := range planes {
		if len(plane) > frames {
			frames = len(plane)
		}
	}
	out := make([]byte, frames*len(planes)*2)
	offset := 0
	for i := 0; i < frames; i++ {
		for _, plane := range planes {
			var sample int16
			if i < len(plane) {
				sample = floatToInt16(plane[i])
			}
			binary.LittleEndian.PutUint16(out[offset:], uint16(sample))
			offset += 2
		}
	}
	return out
}

func floatToInt16(v float32) int16 {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	f = math.Max(-1.0, math.Min(1.0, f))
	return int16(f * math.MaxInt16)
}

// PCM16ToFloat converts interleaved PCM16LE bytes into normalized float samples.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned: %d bytes", len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(sample) / 32768.0
	}
	return out, nil
}

// Int16ToPCM serializes samples as PCM16LE.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
