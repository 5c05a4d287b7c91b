package session

import (
	"strings"
	"sync"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// TerminationToken is the literal the model is instructed to emit when it
// decides to end the conversation for policy reasons.
const TerminationToken = "***TERMINATE_SESSION***"

// TurnAccumulator buffers streaming transcription deltas per speaker until
// the turn-complete signal. Deltas are concatenated, never replaced, because
// the endpoint delivers transcripts incrementally within a turn. The growing
// partial text is reported through onUpdate for live captioning; onComplete
// fires exactly once per non-empty speaker when the turn ends.
type TurnAccumulator struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder

	onUpdate   func(speaker entities.Speaker, text string)
	onComplete func(speaker entities.Speaker, text string)
}

// NewTurnAccumulator creates an accumulator with the given notification
// callbacks. Either callback may be nil.
func NewTurnAccumulator(
	onUpdate func(entities.Speaker, string),
	onComplete func(entities.Speaker, string),
) *TurnAccumulator {
	return &TurnAccumulator{onUpdate: onUpdate, onComplete: onComplete}
}

// AddDelta appends one transcription fragment to the speaker's buffer and
// reports the buffer's new content.
func (a *TurnAccumulator) AddDelta(speaker entities.Speaker, text string) {
	a.mu.Lock()
	buf := a.bufferFor(speaker)
	buf.WriteString(text)
	current := buf.String()
	update := a.onUpdate
	a.mu.Unlock()

	if update != nil {
		update(speaker, current)
	}
}

// CompleteTurn finalizes the current turn. If the model buffer contains the
// termination token the turn is treated as a policy violation: no completion
// events fire and terminated is true. Otherwise each speaker whose trimmed
// buffer is non-empty gets exactly one completion event. Both buffers are
// cleared on every path. modelText carries the finalized model utterance
// (empty when the model said nothing this turn, or on the terminated path).
func (a *TurnAccumulator) CompleteTurn() (modelText string, terminated bool) {
	a.mu.Lock()
	input := a.input.String()
	output := a.output.String()
	a.input.Reset()
	a.output.Reset()
	complete := a.onComplete
	a.mu.Unlock()

	if strings.Contains(output, TerminationToken) {
		return "", true
	}

	if strings.TrimSpace(input) != "" && complete != nil {
		complete(entities.SpeakerUser, input)
	}
	if strings.TrimSpace(output) != "" {
		if complete != nil {
			complete(entities.SpeakerModel, output)
		}
		modelText = output
	}
	return modelText, false
}

func (a *TurnAccumulator) bufferFor(speaker entities.Speaker) *strings.Builder {
	if speaker == entities.SpeakerUser {
		return &a.input
	}
	return &a.output
}
