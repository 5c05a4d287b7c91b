package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/cheesyocean/voicedesk/domain/entities"
	"github.com/cheesyocean/voicedesk/domain/repositories"
)

// DefaultModel is the native-audio live model used for voice ordering.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// ErrSessionClosing is returned for frames sent after Close has begun.
var ErrSessionClosing = errors.New("live session is closing")

// Dialer opens Gemini Live conversations and narrows their wire messages
// into the domain event union.
type Dialer struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewDialer creates a dialer. An empty apiKey defers to the credentials the
// genai client resolves from its environment.
func NewDialer(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Dialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Dialer{client: client, model: model, logger: logger}, nil
}

// Dial opens a live conversation. System instruction, tool declarations,
// voice selection and both-direction transcription are sent once at open.
func (d *Dialer) Dial(ctx context.Context, cfg repositories.LiveConfig) (repositories.LiveSession, error) {
	connectConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		Tools:                    []*genai.Tool{{FunctionDeclarations: toolDeclarations()}},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	sess, err := d.client.Live.Connect(ctx, d.model, connectConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open live session: %w", err)
	}

	ls := &liveSession{
		sess:    sess,
		events:  make(chan repositories.LiveEvent, 64),
		closing: make(chan struct{}),
		logger:  d.logger,
	}
	go ls.receive()
	return ls, nil
}

type liveSession struct {
	sess    *genai.Session
	events  chan repositories.LiveEvent
	closing chan struct{}
	closed  sync.Once
	logger  *zap.Logger
}

// SendAudio forwards one captured frame as realtime input.
func (s *liveSession) SendAudio(frame repositories.MediaFrame) error {
	select {
	case <-s.closing:
		return ErrSessionClosing
	default:
	}
	data, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return fmt.Errorf("invalid audio frame payload: %w", err)
	}
	return s.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: frame.MIMEType},
	})
}

// SendToolResponse replies to tool calls, preserving call order.
func (s *liveSession) SendToolResponse(_ context.Context, responses []repositories.ToolResponse) error {
	select {
	case <-s.closing:
		return ErrSessionClosing
	default:
	}
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		})
	}
	return s.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
}

func (s *liveSession) Events() <-chan repositories.LiveEvent {
	return s.events
}

// Close tears the conversation down. Safe to call more than once.
func (s *liveSession) Close() error {
	s.closed.Do(func() {
		close(s.closing)
		if err := s.sess.Close(); err != nil {
			s.logger.Debug("Gemini session close", zap.Error(err))
		}
	})
	return nil
}

// receive narrows every inbound wire message into domain events. The
// relative order within one message mirrors the wire layout: transcription
// deltas, turn boundary, synthesized audio, interruption, tool calls.
func (s *liveSession) receive() {
	defer close(s.events)
	for {
		msg, err := s.sess.Receive()
		if err != nil {
			select {
			case <-s.closing:
				s.events <- repositories.SessionClosed{}
			default:
				s.events <- repositories.SessionClosed{Err: err}
			}
			return
		}
		s.narrow(msg)
	}
}

func (s *liveSession) narrow(msg *genai.LiveServerMessage) {
	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			s.emit(repositories.TranscriptDelta{
				Speaker: entities.SpeakerUser,
				Text:    sc.InputTranscription.Text,
			})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			s.emit(repositories.TranscriptDelta{
				Speaker: entities.SpeakerModel,
				Text:    sc.OutputTranscription.Text,
			})
		}
		if sc.TurnComplete {
			s.emit(repositories.TurnComplete{})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					s.emit(repositories.AudioChunk{
						Data: base64.StdEncoding.EncodeToString(part.InlineData.Data),
					})
				}
			}
		}
		if sc.Interrupted {
			s.emit(repositories.Interrupted{})
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			s.emit(repositories.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
}

func (s *liveSession) emit(ev repositories.LiveEvent) {
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}
