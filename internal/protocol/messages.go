package protocol

import "time"

// AudioFrame represents PCM audio data streamed from a room participant.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
	Language   string `json:"language,omitempty"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Language   string    `json:"language,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// TTSRequest asks the synthesis service to speak text into a session.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// TTSCancel aborts in-flight synthesis for a session.
type TTSCancel struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// SessionEnded is published by the room owner when a session goes away.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamStart announces the fixed format of an audio stream.
type StreamStart struct {
	SessionID  string    `json:"session_id"`
	Target     string    `json:"target,omitempty"`
	RequestID  string    `json:"request_id"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	MimeType   string    `json:"mime_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// AudioChunk carries one ordered piece of a synthesized stream.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	RequestID  string `json:"request_id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	MimeType   string `json:"mime_type"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
}

// TTSStatus closes a stream.
type TTSStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	RequestID string    `json:"request_id"`
	Completed bool      `json:"completed"`
	Outcome   string    `json:"outcome,omitempty"`
	Pushes    int       `json:"pushes"`
	Bytes     int64     `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"

	SubjectTTSRequest     = "tts.request"
	SubjectTTSCancel      = "tts.cancel"
	SubjectTTSStreamStart = "tts.stream.start"
	SubjectTTSAudio       = "tts.audio"
	SubjectTTSDone        = "tts.done"

	SubjectSessionEnded = "session.ended"
)
