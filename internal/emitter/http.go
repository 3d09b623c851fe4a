package emitter

import (
	"errors"
	"net/http"
	"strconv"
)

// Response headers describing an HTTP audio stream.
const (
	HeaderRequestID  = "X-Request-ID"
	HeaderSampleRate = "X-Sample-Rate"
	HeaderChannels   = "X-Channels"
	HeaderOutcome    = "X-Synthesis-Outcome"
	HeaderPushes     = "X-Synthesis-Pushes"
	HeaderError      = "X-Synthesis-Error"
)

// HTTPSink streams raw audio as a chunked response body. The format goes
// out in headers at Start and the outcome in trailers at Finish.
type HTTPSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewHTTPSink wraps w. Nothing is written until the stream starts.
func NewHTTPSink(w http.ResponseWriter) *HTTPSink {
	return &HTTPSink{w: w, rc: http.NewResponseController(w)}
}

func (s *HTTPSink) Start(info Info) error {
	h := s.w.Header()
	h.Set("Content-Type", info.MimeType)
	h.Set(HeaderRequestID, info.RequestID)
	h.Set(HeaderSampleRate, strconv.Itoa(info.SampleRate))
	h.Set(HeaderChannels, strconv.Itoa(info.Channels))
	h.Set("Trailer", HeaderOutcome+", "+HeaderPushes+", "+HeaderError)
	h.Set("Cache-Control", "no-store")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

func (s *HTTPSink) Write(_ int, data []byte) error {
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	return s.flush()
}

func (s *HTTPSink) Finish(_ Info, sum Summary) error {
	h := s.w.Header()
	h.Set(HeaderOutcome, sum.Outcome)
	h.Set(HeaderPushes, strconv.Itoa(sum.Pushes))
	if sum.Err != "" {
		h.Set(HeaderError, sum.Err)
	}
	return nil
}

func (s *HTTPSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
