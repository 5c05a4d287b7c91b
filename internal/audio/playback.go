package audio

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OutputSampleRate is the synthesized speech sample rate in Hz.
const OutputSampleRate = 24000

const outputBytesPerSample = 2 // mono, 16-bit

// Player is the outbound half of the audio pipeline. It schedules decoded
// 24 kHz PCM chunks back-to-back on a virtual output clock and delivers each
// chunk to the sink when its scheduled start arrives. Interrupt cancels all
// pending chunks and resets the clock so no stale audio plays after a model
// barge-in.
type Player struct {
	sink   func(pcm []byte, duration time.Duration)
	logger *zap.Logger

	mu        sync.Mutex
	epoch     time.Time
	nextStart float64 // seconds on the virtual clock
	pending   map[*time.Timer]struct{}
	now       func() time.Time
}

// NewPlayer creates a playback scheduler delivering chunks to sink.
func NewPlayer(sink func(pcm []byte, duration time.Duration), logger *zap.Logger) *Player {
	now := time.Now
	return &Player{
		sink:    sink,
		logger:  logger,
		epoch:   now(),
		pending: make(map[*time.Timer]struct{}),
		now:     now,
	}
}

// currentTime is the virtual clock reading in seconds.
func (p *Player) currentTime() float64 {
	return p.now().Sub(p.epoch).Seconds()
}

// Enqueue decodes one base64 PCM chunk and schedules it to start at
// max(nextStartTime, now), then advances nextStartTime by the chunk's
// duration.
func (p *Player) Enqueue(data string) error {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("failed to decode audio chunk: %w", err)
	}
	if len(pcm) == 0 {
		return nil
	}
	duration := ChunkDuration(len(pcm))

	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.nextStart
	if now := p.currentTime(); start < now {
		start = now
	}
	delay := time.Duration((start - p.currentTime()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		_, live := p.pending[timer]
		delete(p.pending, timer)
		p.mu.Unlock()
		if live {
			p.sink(pcm, duration)
		}
	})
	p.pending[timer] = struct{}{}
	p.nextStart = start + duration.Seconds()
	return nil
}

// Interrupt stops every scheduled chunk, clears the tracking set and resets
// the virtual clock to zero.
func (p *Player) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	canceled := len(p.pending)
	for timer := range p.pending {
		timer.Stop()
		delete(p.pending, timer)
	}
	p.nextStart = 0
	p.epoch = p.now()
	if canceled > 0 {
		p.logger.Debug("Playback interrupted", zap.Int("canceled_chunks", canceled))
	}
}

// Pending reports how many chunks are scheduled but not yet delivered.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ChunkDuration computes the playback duration of a raw PCM chunk.
func ChunkDuration(byteLen int) time.Duration {
	samples := byteLen / outputBytesPerSample
	return time.Duration(float64(samples) / OutputSampleRate * float64(time.Second))
}
