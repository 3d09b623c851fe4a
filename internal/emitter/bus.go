package emitter

import (
	"encoding/json"
	"time"

	"github.com/loqalabs/loqa-voice/internal/protocol"
)

// Publisher is the subset of *nats.Conn used by BusSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusSink publishes a stream as tts.stream.start, tts.audio and tts.done
// messages for one session.
type BusSink struct {
	pub       Publisher
	sessionID string
	target    string
	clock     func() time.Time
	info      Info
}

// NewBusSink returns a sink publishing for sessionID/target.
func NewBusSink(pub Publisher, sessionID, target string) *BusSink {
	return &BusSink{pub: pub, sessionID: sessionID, target: target, clock: time.Now}
}

func (b *BusSink) Start(info Info) error {
	b.info = info
	return b.publish(protocol.SubjectTTSStreamStart, protocol.StreamStart{
		SessionID:  b.sessionID,
		Target:     b.target,
		RequestID:  info.RequestID,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		MimeType:   info.MimeType,
		Timestamp:  b.clock().UTC(),
	})
}

func (b *BusSink) Write(seq int, data []byte) error {
	// Chunks repeat the format fixed at Start for stateless consumers.
	return b.publish(protocol.SubjectTTSAudio, protocol.AudioChunk{
		SessionID:  b.sessionID,
		Target:     b.target,
		RequestID:  b.info.RequestID,
		SampleRate: b.info.SampleRate,
		Channels:   b.info.Channels,
		MimeType:   b.info.MimeType,
		Sequence:   seq,
		PCM:        data,
	})
}

func (b *BusSink) Finish(info Info, sum Summary) error {
	return b.publish(protocol.SubjectTTSDone, protocol.TTSStatus{
		SessionID: b.sessionID,
		Target:    b.target,
		RequestID: info.RequestID,
		Completed: sum.Err == "",
		Outcome:   sum.Outcome,
		Pushes:    sum.Pushes,
		Bytes:     sum.Bytes,
		Error:     sum.Err,
		Timestamp: b.clock().UTC(),
	})
}

func (b *BusSink) publish(subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.pub.Publish(subject, data)
}
