package audio

import (
	"fmt"
	"time"
)

// SilenceGenerator produces fixed-duration blocks of silence matching a
// stream's format.
type SilenceGenerator struct {
	Duration time.Duration
}

// DefaultSilence is the fallback block length used when none is configured.
const DefaultSilence = time.Second

// NewSilenceGenerator returns a generator for blocks of duration d.
func NewSilenceGenerator(d time.Duration) SilenceGenerator {
	if d <= 0 {
		d = DefaultSilence
	}
	return SilenceGenerator{Duration: d}
}

// Block returns one silence block for the format. PCM streams get zero
// samples; MPEG streams get a run of silent audio frames so the container
// framing stays valid.
func (g SilenceGenerator) Block(f Format) ([]byte, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	switch f.MimeType {
	case "", MimePCM:
		return make([]byte, g.Samples(f.SampleRate)*channels*2), nil
	case MimeMPEG:
		return silentMPEG(f.SampleRate, channels, g.Duration)
	default:
		return nil, fmt.Errorf("no silence encoding for %q", f.MimeType)
	}
}

// Samples returns the per-channel sample count of one block.
func (g SilenceGenerator) Samples(sampleRate int) int {
	d := g.Duration
	if d <= 0 {
		d = DefaultSilence
	}
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

type mpegLayout struct {
	version         byte // header version bits
	rateIndex       byte
	samplesPerFrame int
	bitrateKbps     int
	bitrateIndex    byte
	sideInfoMono    int
	sideInfoStereo  int
	slotFactor      int
}

var mpegRates = map[int]mpegLayout{
	44100: {version: 0x3, rateIndex: 0, samplesPerFrame: 1152, bitrateKbps: 32, bitrateIndex: 1, sideInfoMono: 17, sideInfoStereo: 32, slotFactor: 144},
	48000: {version: 0x3, rateIndex: 1, samplesPerFrame: 1152, bitrateKbps: 32, bitrateIndex: 1, sideInfoMono: 17, sideInfoStereo: 32, slotFactor: 144},
	32000: {version: 0x3, rateIndex: 2, samplesPerFrame: 1152, bitrateKbps: 32, bitrateIndex: 1, sideInfoMono: 17, sideInfoStereo: 32, slotFactor: 144},
	22050: {version: 0x2, rateIndex: 0, samplesPerFrame: 576, bitrateKbps: 8, bitrateIndex: 1, sideInfoMono: 9, sideInfoStereo: 17, slotFactor: 72},
	24000: {version: 0x2, rateIndex: 1, samplesPerFrame: 576, bitrateKbps: 8, bitrateIndex: 1, sideInfoMono: 9, sideInfoStereo: 17, slotFactor: 72},
	16000: {version: 0x2, rateIndex: 2, samplesPerFrame: 576, bitrateKbps: 8, bitrateIndex: 1, sideInfoMono: 9, sideInfoStereo: 17, slotFactor: 72},
}

// silentMPEG builds Layer III frames whose side info declares no main data,
// which decoders render as digital silence.
func silentMPEG(sampleRate, channels int, d time.Duration) ([]byte, error) {
	layout, ok := mpegRates[sampleRate]
	if !ok {
		return nil, fmt.Errorf("no mpeg layer iii layout for %d Hz", sampleRate)
	}
	frameLen := layout.slotFactor * layout.bitrateKbps * 1000 / sampleRate
	sideInfo := layout.sideInfoMono
	mode := byte(0x3) // single channel
	if channels > 1 {
		sideInfo = layout.sideInfoStereo
		mode = 0x0
	}
	if frameLen < 4+sideInfo {
		return nil, fmt.Errorf("mpeg frame too short for %d Hz", sampleRate)
	}

	total := int(int64(sampleRate) * int64(d) / int64(time.Second))
	frames := (total + layout.samplesPerFrame - 1) / layout.samplesPerFrame
	if frames == 0 {
		frames = 1
	}

	header := [4]byte{
		0xFF,
		0xE0 | layout.version<<3 | 0x1<<1 | 0x1, // layer III, no CRC
		layout.bitrateIndex<<4 | layout.rateIndex<<2,
		mode << 6,
	}
	out := make([]byte, frames*frameLen)
	for i := 0; i < frames; i++ {
		copy(out[i*frameLen:], header[:])
	}
	return out, nil
}
