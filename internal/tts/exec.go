package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/mattn/go-shellwords"
)

// codeMaxTrials is the error code a model process reports when token
// sampling gives up.
const codeMaxTrials = "max_trials"

type execBackend struct {
	cmd      []string
	modelDir string
	format   audio.Format
	loader   audio.Loader
}

type execRequest struct {
	Text             string `json:"text"`
	Voice            string `json:"voice,omitempty"`
	ModelDir         string `json:"model_dir,omitempty"`
	PromptPath       string `json:"prompt_path,omitempty"`
	PromptSampleRate int    `json:"prompt_sample_rate,omitempty"`
	PromptPCMBase64  string `json:"prompt_pcm_base64,omitempty"` // mono PCM16LE
	SampleRate       int    `json:"sample_rate"`
	Channels         int    `json:"channels"`
	Stream           bool   `json:"stream"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Channels    int    `json:"channels"`
	Error       string `json:"error"`
	Code        string `json:"code"`
}

// NewExecBackend runs command once per request. The process receives one
// JSON request on stdin and answers with JSON lines carrying base64
// float32 little-endian audio, or an error with a code.
func NewExecBackend(command, modelDir string, format audio.Format, loader audio.Loader) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	if loader == nil {
		loader = audio.WAVLoader{}
	}
	if format.MimeType == "" {
		format.MimeType = audio.MimePCM
	}
	return &execBackend{cmd: args, modelDir: modelDir, format: format, loader: loader}, nil
}

func (e *execBackend) Format() audio.Format { return e.format }

func (e *execBackend) Inference(ctx context.Context, req InferenceRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		payload, err := e.buildRequest(req)
		if err != nil {
			errs <- err
			return
		}

		cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
		cmd.Stdin = bytes.NewReader(payload)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- fmt.Errorf("start tts process: %w", err)
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		sequence := 0
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fmt.Errorf("decode tts response: %w", err)
				_ = cmd.Wait()
				return
			}
			if resp.Error != "" || resp.Code != "" {
				errs <- responseError(resp)
				_ = cmd.Wait()
				return
			}
			planes, err := decodeFloat32(resp.AudioBase64, orChannels(resp.Channels, e.format.Channels))
			if err != nil {
				errs <- err
				_ = cmd.Wait()
				return
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				_ = cmd.Wait()
				return
			case chunks <- Chunk{Sequence: sequence, Samples: planes}:
			}
			sequence++
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
			_ = cmd.Wait()
			return
		}
		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
			errs <- processError(err, stderr.String())
		}
	}()
	return chunks, errs
}

func (e *execBackend) buildRequest(req InferenceRequest) ([]byte, error) {
	payload := execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		ModelDir:   e.modelDir,
		PromptPath: req.PromptPath,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
		Stream:     req.Stream,
	}
	if req.PromptPath != "" {
		wave, err := e.loader.Load(req.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("load prompt audio: %w", err)
		}
		payload.PromptSampleRate = wave.SampleRate
		payload.PromptPCMBase64 = base64.StdEncoding.EncodeToString(audio.FloatToPCM16([][]float32{wave.Mono()}))
	}
	return json.Marshal(payload)
}

func responseError(resp execResponse) error {
	if resp.Code == codeMaxTrials || strings.Contains(resp.Error, "max_trials") {
		return fmt.Errorf("%w: %s", ErrSamplingExhausted, resp.Error)
	}
	if resp.Code != "" {
		return fmt.Errorf("tts process error %s: %s", resp.Code, resp.Error)
	}
	return fmt.Errorf("tts process error: %s", resp.Error)
}

func processError(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if strings.Contains(msg, "max_trials") {
		return fmt.Errorf("%w: %s", ErrSamplingExhausted, lastLine(msg))
	}
	if msg != "" {
		return fmt.Errorf("tts process failed: %w: %s", err, lastLine(msg))
	}
	return fmt.Errorf("tts process failed: %w", err)
}

// decodeFloat32 splits interleaved float32 little-endian samples into one
// plane per channel.
func decodeFloat32(encoded string, channels int) ([][]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tts audio: %w", err)
	}
	if len(raw)%(4*channels) != 0 {
		return nil, fmt.Errorf("tts audio payload of %d bytes is not whole %d-channel float32 frames", len(raw), channels)
	}
	frames := len(raw) / (4 * channels)
	planes := make([][]float32, channels)
	for c := range planes {
		planes[c] = make([]float32, frames)
	}
	for i := 0; i < frames*channels; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		planes[i%channels][i/channels] = math.Float32frombits(bits)
	}
	return planes, nil
}

func orChannels(v, fallback int) int {
	if v > 0 {
		return v
	}
	if fallback > 0 {
		return fallback
	}
	return 1
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
