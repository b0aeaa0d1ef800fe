package redis

import (
	"context"
	"fmt"

	"github.com/knowton/bondledger/internal/domain"
	"github.com/redis/go-redis/v9"
)

const pauseKey = "ledger:paused"

// PauseFlag implements domain.PauseSwitch as a single Redis key, so the
// emergency halt is shared by every ledger replica and survives restarts.
type PauseFlag struct {
	rdb *redis.Client
}

// NewPauseFlag creates a PauseFlag backed by the given Client.
func NewPauseFlag(c *Client) *PauseFlag {
	return &PauseFlag{rdb: c.Underlying()}
}

// IsPaused reports whether the halt flag is set.
func (p *PauseFlag) IsPaused(ctx context.Context) (bool, error) {
	n, err := p.rdb.Exists(ctx, pauseKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis: pause check: %w", err)
	}
	return n > 0, nil
}

// Pause sets the halt flag. The key carries no TTL; a halt stays in effect
// until explicitly resumed.
func (p *PauseFlag) Pause(ctx context.Context) error {
	if err := p.rdb.Set(ctx, pauseKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("redis: pause: %w", err)
	}
	return nil
}

// Resume clears the halt flag.
func (p *PauseFlag) Resume(ctx context.Context) error {
	if err := p.rdb.Del(ctx, pauseKey).Err(); err != nil {
		return fmt.Errorf("redis: resume: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PauseSwitch = (*PauseFlag)(nil)
