package repositories

import (
	"context"

	"github.com/cheesyocean/voicedesk/domain/entities"
)

// SettingsRepository stores the shop configuration. Get seeds a default
// document (with a generated admin key) when the shop does not exist yet.
type SettingsRepository interface {
	Get(ctx context.Context) (*entities.Settings, error)
	Save(ctx context.Context, settings *entities.Settings) error
}
