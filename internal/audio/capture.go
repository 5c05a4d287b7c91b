package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/repositories"
)

// InputMIMEType declares the capture format forwarded to the live endpoint.
const InputMIMEType = "audio/pcm;rate=16000"

// InputSampleRate is the capture sample rate in Hz.
const InputSampleRate = 16000

// EncodePCM16 converts floating samples to little-endian signed 16-bit PCM,
// clamping each sample to [-1, 1] before scaling.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * math.MaxInt16))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM back to floating
// samples in [-1, 1].
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / float32(math.MaxInt16)
	}
	return out
}

// EncodeFrame builds one realtime media frame from a block of captured
// samples.
func EncodeFrame(samples []float32) repositories.MediaFrame {
	return repositories.MediaFrame{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM16(samples)),
		MIMEType: InputMIMEType,
	}
}

// Capture is the inbound half of the audio pipeline. It converts captured
// sample blocks into media frames and forwards them in arrival order.
// Frames arriving after Close are dropped silently, never raised as errors.
type Capture struct {
	forward func(repositories.MediaFrame) error
	closed  atomic.Bool
	logger  *zap.Logger
}

// NewCapture creates a capture pipeline forwarding frames through fn.
func NewCapture(fn func(repositories.MediaFrame) error, logger *zap.Logger) *Capture {
	return &Capture{forward: fn, logger: logger}
}

// Process encodes and forwards one block of captured samples. Forwarding
// errors are logged and swallowed so a failing transport cannot crash the
// capture callback path.
func (c *Capture) Process(samples []float32) {
	if c.closed.Load() || len(samples) == 0 {
		return
	}
	if err := c.forward(EncodeFrame(samples)); err != nil {
		c.logger.Warn("Dropping captured audio frame", zap.Error(err))
	}
}

// Close stops the pipeline. Idempotent; frames processed afterwards are
// dropped.
func (c *Capture) Close() {
	c.closed.Store(true)
}
