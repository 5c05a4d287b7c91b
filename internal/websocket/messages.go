package websocket

import (
	"encoding/json"
	"time"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Messages from the browser client.
const (
	MessageTypeSessionStart MessageType = "session_start"
	MessageTypeSessionStop  MessageType = "session_stop"
	MessageTypeMicDenied    MessageType = "mic_denied"
	MessageTypePing         MessageType = "ping"
)

// Messages to the browser client.
const (
	MessageTypeStatus        MessageType = "status"
	MessageTypeCaptionUpdate MessageType = "caption_update"
	MessageTypeCaptionFinal  MessageType = "caption_final"
	MessageTypeAudio         MessageType = "audio"
	MessageTypeInterrupted   MessageType = "interrupted"
	MessageTypeOrderPlaced   MessageType = "order_placed"
	MessageTypeOrderUpdate   MessageType = "order_update"
	MessageTypeError         MessageType = "error"
	MessageTypePong          MessageType = "pong"
)

// ClientMessage is the envelope for inbound control messages. Raw microphone
// samples travel separately as binary frames.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// CaptureSupported declares microphone capability on session_start.
	CaptureSupported bool `json:"capture_supported,omitempty"`
}

// StatusMessage reports a session lifecycle transition.
type StatusMessage struct {
	Type   MessageType            `json:"type"`
	Status entities.SessionStatus `json:"status"`
}

// CaptionMessage carries partial or finalized transcription text.
type CaptionMessage struct {
	Type    MessageType      `json:"type"`
	Speaker entities.Speaker `json:"speaker"`
	Text    string           `json:"text"`
}

// AudioMessage carries one synthesized speech chunk ready to play.
type AudioMessage struct {
	Type       MessageType `json:"type"`
	Data       string      `json:"data"` // base64 PCM, 24 kHz mono
	DurationMS int64       `json:"duration_ms"`
	SampleRate int         `json:"sample_rate"`
}

// InterruptedMessage tells the client to flush any queued playback.
type InterruptedMessage struct {
	Type MessageType `json:"type"`
}

// OrderMessage carries a placed order or one of its status updates.
type OrderMessage struct {
	Type  MessageType    `json:"type"`
	Order entities.Order `json:"order"`
}

// ErrorMessage carries a classified user-facing error.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// PongMessage answers an application-level ping.
type PongMessage struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

func newPong() PongMessage {
	return PongMessage{Type: MessageTypePong, Timestamp: time.Now().Unix()}
}

func mustMarshal(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		// All message types above marshal unconditionally.
		panic(err)
	}
	return out
}
