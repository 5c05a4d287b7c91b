package audio

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func encodeChunk(byteLen int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, byteLen))
}

func TestChunkDuration(t *testing.T) {
	// One second of 24 kHz mono 16-bit audio.
	if d := ChunkDuration(OutputSampleRate * 2); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := ChunkDuration(OutputSampleRate); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}
	if d := ChunkDuration(0); d != 0 {
		t.Errorf("Expected 0, got %v", d)
	}
}

func TestEnqueueRejectsBadBase64(t *testing.T) {
	player := NewPlayer(func([]byte, time.Duration) {}, zap.NewNop())
	if err := player.Enqueue("not-base64!!!"); err == nil {
		t.Error("Expected an error for malformed base64")
	}
}

func TestEnqueueDeliversChunksInOrder(t *testing.T) {
	var mu sync.Mutex
	var delivered []int
	done := make(chan struct{}, 2)

	player := NewPlayer(func(pcm []byte, _ time.Duration) {
		mu.Lock()
		delivered = append(delivered, len(pcm))
		mu.Unlock()
		done <- struct{}{}
	}, zap.NewNop())

	// Two tiny chunks, both due essentially immediately but scheduled
	// back-to-back on the virtual clock.
	if err := player.Enqueue(encodeChunk(48)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := player.Enqueue(encodeChunk(96)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for chunk delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 || delivered[0] != 48 || delivered[1] != 96 {
		t.Errorf("Expected chunks [48 96], got %v", delivered)
	}
}

func TestEnqueueSkipsEmptyChunk(t *testing.T) {
	player := NewPlayer(func([]byte, time.Duration) {
		t.Error("Empty chunk must not reach the sink")
	}, zap.NewNop())

	if err := player.Enqueue(""); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if player.Pending() != 0 {
		t.Errorf("Expected no pending chunks, got %d", player.Pending())
	}
}

func TestInterruptCancelsPending(t *testing.T) {
	player := NewPlayer(func([]byte, time.Duration) {
		t.Error("Interrupted chunk must not reach the sink")
	}, zap.NewNop())

	// A large chunk keeps the virtual clock well ahead so the follow-up
	// chunks sit pending long enough to be interrupted.
	for i := 0; i < 3; i++ {
		if err := player.Enqueue(encodeChunk(OutputSampleRate * 2)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if player.Pending() == 0 {
		t.Fatal("Expected pending chunks before interrupt")
	}

	player.Interrupt()

	if player.Pending() != 0 {
		t.Errorf("Expected no pending chunks after interrupt, got %d", player.Pending())
	}
	// Give any mistakenly surviving timer a chance to fire.
	time.Sleep(50 * time.Millisecond)
}

func TestInterruptResetsClock(t *testing.T) {
	now := time.Unix(1000, 0)
	player := NewPlayer(func([]byte, time.Duration) {}, zap.NewNop())
	player.now = func() time.Time { return now }
	player.epoch = now

	if err := player.Enqueue(encodeChunk(OutputSampleRate * 2)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	player.mu.Lock()
	advanced := player.nextStart
	player.mu.Unlock()
	if advanced != 1.0 {
		t.Errorf("Expected nextStart to advance to 1.0s, got %f", advanced)
	}

	player.Interrupt()

	player.mu.Lock()
	reset := player.nextStart
	epoch := player.epoch
	player.mu.Unlock()
	if reset != 0 {
		t.Errorf("Expected nextStart to reset to 0, got %f", reset)
	}
	if !epoch.Equal(now) {
		t.Errorf("Expected epoch to reset to the current time, got %v", epoch)
	}
}
