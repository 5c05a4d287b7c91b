package session

import (
	"testing"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

type captionEvent struct {
	speaker entities.Speaker
	text    string
}

func TestAddDeltaConcatenates(t *testing.T) {
	var updates []captionEvent
	turns := NewTurnAccumulator(func(speaker entities.Speaker, text string) {
		updates = append(updates, captionEvent{speaker, text})
	}, nil)

	turns.AddDelta(entities.SpeakerUser, "I want ")
	turns.AddDelta(entities.SpeakerUser, "two large ")
	turns.AddDelta(entities.SpeakerUser, "pizzas")

	if len(updates) != 3 {
		t.Fatalf("Expected 3 updates, got %d", len(updates))
	}
	if updates[2].text != "I want two large pizzas" {
		t.Errorf("Expected concatenated text, got %q", updates[2].text)
	}
}

func TestAddDeltaKeepsSpeakersSeparate(t *testing.T) {
	var updates []captionEvent
	turns := NewTurnAccumulator(func(speaker entities.Speaker, text string) {
		updates = append(updates, captionEvent{speaker, text})
	}, nil)

	turns.AddDelta(entities.SpeakerUser, "hello")
	turns.AddDelta(entities.SpeakerModel, "hi there")

	if updates[0].text != "hello" || updates[0].speaker != entities.SpeakerUser {
		t.Errorf("Unexpected user update: %+v", updates[0])
	}
	if updates[1].text != "hi there" || updates[1].speaker != entities.SpeakerModel {
		t.Errorf("Unexpected model update: %+v", updates[1])
	}
}

func TestCompleteTurnFinalizesBothSpeakers(t *testing.T) {
	var completed []captionEvent
	turns := NewTurnAccumulator(nil, func(speaker entities.Speaker, text string) {
		completed = append(completed, captionEvent{speaker, text})
	})

	turns.AddDelta(entities.SpeakerUser, "one margherita please")
	turns.AddDelta(entities.SpeakerModel, "Sure, one Margherita.")

	modelText, terminated := turns.CompleteTurn()
	if terminated {
		t.Fatal("Unexpected termination")
	}
	if modelText != "Sure, one Margherita." {
		t.Errorf("Unexpected model text: %q", modelText)
	}
	if len(completed) != 2 {
		t.Fatalf("Expected 2 completion events, got %d", len(completed))
	}
	if completed[0].speaker != entities.SpeakerUser {
		t.Error("Expected the user utterance to finalize first")
	}
}

func TestCompleteTurnSkipsEmptyBuffers(t *testing.T) {
	completions := 0
	turns := NewTurnAccumulator(nil, func(entities.Speaker, string) {
		completions++
	})

	turns.AddDelta(entities.SpeakerModel, "Welcome to Cheesy Occean!")

	modelText, terminated := turns.CompleteTurn()
	if terminated {
		t.Fatal("Unexpected termination")
	}
	if completions != 1 {
		t.Errorf("Expected 1 completion event, got %d", completions)
	}
	if modelText == "" {
		t.Error("Expected model text from the only speaker")
	}

	// Whitespace-only buffers must not fire completions.
	turns.AddDelta(entities.SpeakerUser, "   ")
	if _, _ = turns.CompleteTurn(); completions != 1 {
		t.Errorf("Expected no completion for whitespace, got %d", completions)
	}
}

func TestCompleteTurnClearsBuffers(t *testing.T) {
	var completed []captionEvent
	turns := NewTurnAccumulator(nil, func(speaker entities.Speaker, text string) {
		completed = append(completed, captionEvent{speaker, text})
	})

	turns.AddDelta(entities.SpeakerModel, "first turn")
	turns.CompleteTurn()
	turns.AddDelta(entities.SpeakerModel, "second turn")
	turns.CompleteTurn()

	if len(completed) != 2 {
		t.Fatalf("Expected 2 completion events, got %d", len(completed))
	}
	if completed[1].text != "second turn" {
		t.Errorf("Expected a clean buffer for the second turn, got %q", completed[1].text)
	}
}

func TestCompleteTurnTerminationToken(t *testing.T) {
	completions := 0
	turns := NewTurnAccumulator(nil, func(entities.Speaker, string) {
		completions++
	})

	turns.AddDelta(entities.SpeakerUser, "some abuse")
	turns.AddDelta(entities.SpeakerModel, "Goodbye. "+TerminationToken)

	modelText, terminated := turns.CompleteTurn()
	if !terminated {
		t.Fatal("Expected the termination token to be detected")
	}
	if modelText != "" {
		t.Errorf("Expected no model text on termination, got %q", modelText)
	}
	if completions != 0 {
		t.Errorf("Expected no completion events on termination, got %d", completions)
	}

	// Buffers must be cleared even on the terminated path.
	turns.AddDelta(entities.SpeakerModel, "fresh text")
	if _, terminated := turns.CompleteTurn(); terminated {
		t.Error("Termination must not leak into the next turn")
	}
}
