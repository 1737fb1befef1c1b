package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// ToggleStore implements domain.ToggleStore over the two well-known toggle
// keys. The keys have no TTL; writers (operators, the ops API) may change
// them at any time.
type ToggleStore struct {
	rdb *redis.Client

	// defaults are returned for keys that have never been written.
	defaults domain.Toggles
}

// NewToggleStore creates a ToggleStore backed by the given Client. The
// defaults seed the values reported for unset keys.
func NewToggleStore(c *Client, defaults domain.Toggles) *ToggleStore {
	return &ToggleStore{rdb: c.Underlying(), defaults: defaults}
}

// Read fetches both toggles in one round trip. Unset keys fall back to the
// configured defaults; unparseable values are reported as errors so callers
// can keep their last-known value.
func (ts *ToggleStore) Read(ctx context.Context) (domain.Toggles, error) {
	values, err := ts.rdb.MGet(ctx, domain.KeyAutoTrade, domain.KeyMode).Result()
	if err != nil {
		return domain.Toggles{}, fmt.Errorf("redis: read toggles: %w", err)
	}

	out := ts.defaults
	if len(values) > 0 && values[0] != nil {
		s, _ := values[0].(string)
		v, err := domain.ParseToggleBool(s)
		if err != nil {
			return domain.Toggles{}, fmt.Errorf("redis: read toggles: %w", err)
		}
		out.AutoTrade = v
	}
	if len(values) > 1 && values[1] != nil {
		s, _ := values[1].(string)
		if !domain.ValidMode(s) {
			return domain.Toggles{}, fmt.Errorf("redis: read toggles: mode %q is not recognized", s)
		}
		out.Mode = s
	}
	return out, nil
}

// SetAutoTrade writes the canonical "true"/"false" form.
func (ts *ToggleStore) SetAutoTrade(ctx context.Context, on bool) error {
	if err := ts.rdb.Set(ctx, domain.KeyAutoTrade, domain.FormatToggleBool(on), 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", domain.KeyAutoTrade, err)
	}
	return nil
}

// SetMode writes the mode toggle after validating it.
func (ts *ToggleStore) SetMode(ctx context.Context, mode string) error {
	if !domain.ValidMode(mode) {
		return fmt.Errorf("redis: set %s: mode %q is not recognized", domain.KeyMode, mode)
	}
	if err := ts.rdb.Set(ctx, domain.KeyMode, mode, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", domain.KeyMode, err)
	}
	return nil
}

// SeedDefaults writes the default toggle values for keys that are not already
// set, so a fresh deployment starts from the configured state. SETNX keeps an
// operator's live values intact across restarts.
func (ts *ToggleStore) SeedDefaults(ctx context.Context) error {
	if err := ts.rdb.SetNX(ctx, domain.KeyAutoTrade, domain.FormatToggleBool(ts.defaults.AutoTrade), 0).Err(); err != nil {
		return fmt.Errorf("redis: seed %s: %w", domain.KeyAutoTrade, err)
	}
	if err := ts.rdb.SetNX(ctx, domain.KeyMode, ts.defaults.Mode, 0).Err(); err != nil {
		return fmt.Errorf("redis: seed %s: %w", domain.KeyMode, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ToggleStore = (*ToggleStore)(nil)
