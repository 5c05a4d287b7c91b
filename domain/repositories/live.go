package repositories

import (
	"context"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// MediaFrame is one outbound realtime audio frame, base64-encoded PCM with
// its declared MIME type.
type MediaFrame struct {
	Data     string
	MIMEType string
}

// LiveConfig is the one-time configuration sent when a live conversation
// opens.
type LiveConfig struct {
	SystemInstruction string
	Voice             string
}

// ToolResponse is the single correlated reply to one tool call.
type ToolResponse struct {
	ID     string
	Name   string
	Result string
}

// LiveEvent is the closed set of inbound events a live conversation can
// produce. Payloads from the remote endpoint are narrowed into this union at
// the adapter boundary; the session controller never sees raw protocol
// messages.
type LiveEvent interface {
	liveEvent()
}

// TranscriptDelta carries an incremental transcription fragment for one
// speaker within the current turn.
type TranscriptDelta struct {
	Speaker entities.Speaker
	Text    string
}

// AudioChunk carries base64-encoded 24 kHz mono PCM synthesized speech.
type AudioChunk struct {
	Data string
}

// TurnComplete marks the authoritative end of the current turn.
type TurnComplete struct{}

// Interrupted signals model barge-in; all scheduled playback must stop.
type Interrupted struct{}

// ToolCall is a request from the model to invoke a named local function.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// SessionClosed is the final event on the stream. Err is nil for a clean
// close.
type SessionClosed struct {
	Err error
}

func (TranscriptDelta) liveEvent() {}
func (AudioChunk) liveEvent()      {}
func (TurnComplete) liveEvent()    {}
func (Interrupted) liveEvent()     {}
func (ToolCall) liveEvent()        {}
func (SessionClosed) liveEvent()   {}

// LiveSession is an open bidirectional conversation with the remote
// endpoint.
type LiveSession interface {
	// SendAudio forwards one captured audio frame. It returns an error once
	// the session has begun closing; callers drop the frame in that case.
	SendAudio(frame MediaFrame) error

	// SendToolResponse replies to previously received tool calls, in the
	// order the calls arrived.
	SendToolResponse(ctx context.Context, responses []ToolResponse) error

	// Events returns the inbound event stream. The channel is closed after a
	// SessionClosed event has been delivered.
	Events() <-chan LiveEvent

	// Close tears the conversation down. Safe to call more than once.
	Close() error
}

// LiveDialer opens live conversations against the remote endpoint.
type LiveDialer interface {
	Dial(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}
