package websocket

import (
	"encoding/base64"
	"errors"

	"github.com/cheesyocean/voicedesk/internal/session"
)

// classifyError maps a session failure to a wire code and a message safe to
// show the customer. Unrecognized errors collapse into a generic code so
// internal detail never reaches the browser.
func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, session.ErrConfiguration):
		return "configuration", "Valid Gemini API key is missing. Please contact the shop."
	case errors.Is(err, session.ErrShopClosed):
		return "shop_closed", "The shop is closed right now. Please come back during working hours."
	case errors.Is(err, session.ErrUnsupportedEnvironment):
		return "unsupported", "Your browser does not support microphone capture. Please try a different browser."
	case errors.Is(err, session.ErrPermissionDenied):
		return "mic_denied", "Microphone access was denied. Please allow microphone access and try again."
	case errors.Is(err, session.ErrBanned):
		return "banned", "You are temporarily blocked from starting sessions."
	case errors.Is(err, session.ErrConnectionTimeout):
		return "timeout", "Connection timed out. Please check your internet and try again."
	case errors.Is(err, session.ErrPolicyViolation):
		return "policy_violation", "The session was terminated."
	case errors.Is(err, session.ErrTransport):
		return "connection", "Connection failed. Please try again."
	default:
		return "internal", "Something went wrong. Please try again."
	}
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
