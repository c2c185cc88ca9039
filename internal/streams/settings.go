package streams

import (
	"fmt"

	"github.com/smazurov/framecast/internal/egress"
	"github.com/smazurov/framecast/internal/ffmpeg"
)

// NewSettings builds Settings from configuration values. When egress is
// enabled the endpoint and stream key must be present, so a missing key is
// reported at startup instead of at the first Start.
func NewSettings(enabled bool, mode string, params ffmpeg.StreamParams) (Settings, error) {
	m, err := egress.ParseMode(mode)
	if err != nil {
		return Settings{}, err
	}
	if enabled {
		if err := params.Validate(); err != nil {
			return Settings{}, fmt.Errorf("%w: %w", egress.ErrConfig, err)
		}
	}
	return Settings{Egress: enabled, Mode: m, Params: params}, nil
}
