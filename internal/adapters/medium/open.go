package medium

import (
	"context"
	"fmt"

	"github.com/Jincoo/youtube-music-remote/internal/config"
	"github.com/Jincoo/youtube-music-remote/internal/discovery"
)

// Open builds the medium named in cfg. Memory endpoints join hub, which
// must be non-nil for that medium.
func Open(ctx context.Context, cfg config.Discovery, node string, hub *Hub) (discovery.Medium, error) {
	switch cfg.Medium {
	case "memory":
		if hub == nil {
			return nil, fmt.Errorf("memory medium needs a hub")
		}
		return hub.Join(), nil
	case "multicast":
		return NewMulticast(cfg.MulticastAddr, node)
	case "redis":
		return NewRedis(ctx, cfg.RedisAddr, cfg.RedisChannel, node)
	case "nats":
		return NewNATS(cfg.NatsURL, cfg.NatsSubject, node)
	default:
		return nil, fmt.Errorf("unknown discovery medium %q", cfg.Medium)
	}
}
