package mirror

import (
	"context"
	"fmt"

	"wbm-go/internal/config"
)

// NewRemoteFromConfig creates a Remote based on the mirror config type.
func NewRemoteFromConfig(ctx context.Context, cfg config.MirrorConfig) (Remote, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryRemote(), nil
	case "s3":
		return NewS3Remote(ctx, cfg)
	case "":
		return nil, fmt.Errorf("no mirror configured")
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
