package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// placeholder key values left behind by deployment templates.
var placeholderKeys = map[string]bool{
	"PLACEHOLDER_API_KEY":        true,
	"PLACEHOLDER_GEMINI_API_KEY": true,
}

// CredentialResolver decides whether a usable model credential exists before
// a session may connect. A locally configured key wins; otherwise a
// key-status probe endpoint is consulted, and a session may proceed only
// when it reports a server-side key is configured.
type CredentialResolver struct {
	apiKey    string
	statusURL string
	client    *http.Client
	logger    *zap.Logger
}

// NewCredentialResolver creates a resolver. statusURL may be empty when no
// probe endpoint is deployed.
func NewCredentialResolver(apiKey, statusURL string, logger *zap.Logger) *CredentialResolver {
	return &CredentialResolver{
		apiKey:    apiKey,
		statusURL: statusURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
	}
}

// HasLocalKey reports whether a usable key is configured on this process.
func (r *CredentialResolver) HasLocalKey() bool {
	key := strings.TrimSpace(r.apiKey)
	return key != "" && !placeholderKeys[key]
}

// Resolve checks that some usable credential exists. It returns
// ErrConfiguration when neither a local key nor a remote one is available.
func (r *CredentialResolver) Resolve(ctx context.Context) error {
	if r.HasLocalKey() {
		return nil
	}
	if r.statusURL == "" {
		return ErrConfiguration
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.statusURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("Key status probe failed", zap.Error(err))
		return fmt.Errorf("%w: key status probe failed", ErrConfiguration)
	}
	defer resp.Body.Close()

	var status struct {
		Present bool `json:"present"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("%w: invalid key status response", ErrConfiguration)
	}
	if !status.Present {
		return ErrConfiguration
	}

	r.logger.Info("Using server-side model credential reported by status probe")
	return nil
}
