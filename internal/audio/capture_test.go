package audio

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/cheesyocean/voicedesk/domain/repositories"
)

func TestEncodePCM16(t *testing.T) {
	data := EncodePCM16([]float32{0, 1, -1})
	if len(data) != 6 {
		t.Fatalf("Expected 6 bytes, got %d", len(data))
	}

	decoded := DecodePCM16(data)
	if decoded[0] != 0 {
		t.Errorf("Expected silence to round-trip to 0, got %f", decoded[0])
	}
	if decoded[1] != 1 {
		t.Errorf("Expected full-scale sample to round-trip to 1, got %f", decoded[1])
	}
	if math.Abs(float64(decoded[2]+1)) > 1.0/math.MaxInt16*2 {
		t.Errorf("Expected -1 to round-trip close to -1, got %f", decoded[2])
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	data := EncodePCM16([]float32{2.5, -3.0})
	decoded := DecodePCM16(data)

	if decoded[0] != 1 {
		t.Errorf("Expected over-range sample to clamp to 1, got %f", decoded[0])
	}
	if decoded[1] > -0.999 {
		t.Errorf("Expected under-range sample to clamp near -1, got %f", decoded[1])
	}
}

func TestEncodePCM16RoundTrip(t *testing.T) {
	samples := []float32{0.25, -0.5, 0.75, -0.125, 0.01}
	decoded := DecodePCM16(EncodePCM16(samples))

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if math.Abs(float64(samples[i]-decoded[i])) > 1.0/math.MaxInt16 {
			t.Errorf("Sample %d drifted: sent %f, got %f", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeFrame(t *testing.T) {
	frame := EncodeFrame([]float32{0.5, -0.5})

	if frame.MIMEType != InputMIMEType {
		t.Errorf("Expected MIME type %s, got %s", InputMIMEType, frame.MIMEType)
	}
	raw, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		t.Fatalf("Frame data is not valid base64: %v", err)
	}
	if len(raw) != 4 {
		t.Errorf("Expected 4 encoded bytes, got %d", len(raw))
	}
}

func TestCaptureForwardsFrames(t *testing.T) {
	var forwarded []repositories.MediaFrame
	capture := NewCapture(func(frame repositories.MediaFrame) error {
		forwarded = append(forwarded, frame)
		return nil
	}, zap.NewNop())

	capture.Process([]float32{0.1, 0.2})
	capture.Process([]float32{0.3})
	capture.Process(nil)

	if len(forwarded) != 2 {
		t.Errorf("Expected 2 forwarded frames, got %d", len(forwarded))
	}
}

func TestCaptureDropsAfterClose(t *testing.T) {
	count := 0
	capture := NewCapture(func(repositories.MediaFrame) error {
		count++
		return nil
	}, zap.NewNop())

	capture.Process([]float32{0.1})
	capture.Close()
	capture.Process([]float32{0.2})
	capture.Close()
	capture.Process([]float32{0.3})

	if count != 1 {
		t.Errorf("Expected only the pre-close frame to forward, got %d", count)
	}
}

func TestCaptureSwallowsForwardErrors(t *testing.T) {
	capture := NewCapture(func(repositories.MediaFrame) error {
		return errors.New("transport gone")
	}, zap.NewNop())

	// Must not panic and must keep accepting frames.
	capture.Process([]float32{0.1})
	capture.Process([]float32{0.2})
}
