package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

const (
	hostedSampleRate = 24000
	hostedChunkSize  = 4096
	DefaultVoice     = "th-TH-PremwadeeNeural"

	// hostedHeaderTimeout bounds connection setup only. The stream itself
	// runs until the request context ends.
	hostedHeaderTimeout = 30 * time.Second
)

type hostedBackend struct {
	endpoint string
	voice    string
	client   *http.Client
}

type hostedRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

// NewHTTPBackend streams MPEG audio from a hosted synthesis endpoint. The
// stream is 24 kHz mono and is forwarded without re-encoding.
func NewHTTPBackend(endpoint, voice string, client *http.Client) Backend {
	if voice == "" {
		voice = DefaultVoice
	}
	if client == nil {
		client = newHostedClient(hostedHeaderTimeout)
	}
	return &hostedBackend{endpoint: endpoint, voice: voice, client: client}
}

// newHostedClient has no overall Timeout, which would cut long replies off
// mid-body.
func newHostedClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	transport.TLSHandshakeTimeout = 10 * time.Second
	return &http.Client{Transport: transport}
}

func (h *hostedBackend) Format() audio.Format {
	return audio.Format{SampleRate: hostedSampleRate, Channels: 1, MimeType: audio.MimeMPEG}
}

func (h *hostedBackend) Inference(ctx context.Context, req InferenceRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := h.stream(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (h *hostedBackend) stream(ctx context.Context, req InferenceRequest, chunks chan<- Chunk) error {
	voice := req.Voice
	if voice == "" {
		voice = h.voice
	}
	body, err := json.Marshal(hostedRequest{Text: req.Text, Voice: voice, Format: audio.MimeMPEG})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", audio.MimeMPEG)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hosted tts returned status %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	buf := make([]byte, hostedChunkSize)
	sequence := 0
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case chunks <- Chunk{Sequence: sequence, Encoded: data}:
			}
			sequence++
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
