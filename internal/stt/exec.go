package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/mattn/go-shellwords"
)

type execBackend struct {
	cmd    []string
	model  string
	device string
}

// NewExecBackend runs command once per Generate call. Each waveform is
// written to a temporary WAV file and passed with --audio; the process
// prints a JSON list of {"text": ...} objects (a single object is also
// accepted).
func NewExecBackend(command, model, device string) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execBackend{cmd: args, model: model, device: device}, nil
}

func (r *execBackend) Generate(ctx context.Context, waves [][]float32, opts GenerateOptions) ([]Hypothesis, error) {
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	for _, wave := range waves {
		file, err := os.CreateTemp("", "loqa_stt_*.wav")
		if err != nil {
			return nil, fmt.Errorf("temp file: %w", err)
		}
		name := file.Name()
		defer os.Remove(name)
		err = audio.WriteWAV(file, audio.FloatToPCM16([][]float32{wave}), sampleRate, 1)
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		cmdArgs = append(cmdArgs, "--audio", name)
	}
	if r.model != "" {
		cmdArgs = append(cmdArgs, "--model", r.model)
	}
	if r.device != "" {
		cmdArgs = append(cmdArgs, "--device", r.device)
	}
	if opts.Language != "" {
		cmdArgs = append(cmdArgs, "--language", opts.Language)
	}
	cmdArgs = append(cmdArgs, "--use-itn", strconv.FormatBool(opts.UseITN))

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return decodeHypotheses(stdout.Bytes())
}

func decodeHypotheses(data []byte) ([]Hypothesis, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var hyps []Hypothesis
		if err := json.Unmarshal(data, &hyps); err != nil {
			return nil, fmt.Errorf("decode stt response: %w", err)
		}
		return hyps, nil
	}
	var hyp Hypothesis
	if err := json.Unmarshal(data, &hyp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}
	return []Hypothesis{hyp}, nil
}
