package emitter

import (
	"time"

	"github.com/gorilla/websocket"
)

// WSMessage is the JSON control frame sent around binary audio frames.
type WSMessage struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Pushes     int    `json:"pushes,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WSSink writes a stream to a websocket: a JSON "start" frame, one binary
// frame per push, then a JSON "done" frame. The connection is left open.
type WSSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSSink wraps conn. A zero writeTimeout disables write deadlines.
func NewWSSink(conn *websocket.Conn, writeTimeout time.Duration) *WSSink {
	return &WSSink{conn: conn, writeTimeout: writeTimeout}
}

func (s *WSSink) Start(info Info) error {
	return s.writeJSON(WSMessage{
		Type:       "start",
		RequestID:  info.RequestID,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		MimeType:   info.MimeType,
	})
}

func (s *WSSink) Write(_ int, data []byte) error {
	s.deadline()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *WSSink) Finish(info Info, sum Summary) error {
	return s.writeJSON(WSMessage{
		Type:      "done",
		RequestID: info.RequestID,
		Outcome:   sum.Outcome,
		Pushes:    sum.Pushes,
		Bytes:     sum.Bytes,
		Error:     sum.Err,
	})
}

func (s *WSSink) writeJSON(msg WSMessage) error {
	s.deadline()
	return s.conn.WriteJSON(msg)
}

func (s *WSSink) deadline() {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
}
