package directory

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source is a Lookup that can also hand out the whole cacheable profile in
// one read.
type Source interface {
	Lookup
	Profile(ctx context.Context, identity string) (Profile, error)
}

// CachedLookup fronts a Source with a Redis read-through cache for the
// slow-changing profile fields (role, display name). Those are hit once per
// admin on every support ring fan-out, so they should not cost a Postgres
// round trip each time. Liveness is never cached; the presence registry is the
// authority for routing and the DB flag is only reporting.
//
// Cache failures degrade to the underlying lookup, logged at debug level.

type CachedLookup struct {
	next Source
	rdb  *redis.Client
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedLookup(next Source, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedLookup{next: next, rdb: rdb, ttl: ttl, log: log}
}

func profileKey(identity string) string { return "directory:profile:" + identity }

func (c *CachedLookup) cachedProfile(ctx context.Context, identity string) (Profile, bool) {
	vals, err := c.rdb.HGetAll(ctx, profileKey(identity)).Result()
	if err != nil || len(vals) == 0 {
		if err != nil {
			c.log.Debug("directory cache read failed", "identity", identity, "err", err)
		}
		return Profile{}, false
	}
	return Profile{
		Identity:    identity,
		DisplayName: vals["display_name"],
		Role:        vals["role"],
	}, true
}

func (c *CachedLookup) storeProfile(ctx context.Context, p Profile) {
	key := profileKey(p.Identity)
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, "display_name", p.DisplayName, "role", p.Role)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Debug("directory cache write failed", "identity", p.Identity, "err", err)
	}
}

func (c *CachedLookup) profile(ctx context.Context, identity string) (Profile, error) {
	if p, ok := c.cachedProfile(ctx, identity); ok {
		return p, nil
	}
	p, err := c.next.Profile(ctx, identity)
	if err != nil {
		return Profile{}, err
	}
	c.storeProfile(ctx, p)
	return p, nil
}

func (c *CachedLookup) IsAdmin(ctx context.Context, identity string) (bool, error) {
	p, err := c.profile(ctx, identity)
	if err != nil {
		return false, err
	}
	return isAdminRole(p.Role), nil
}

func (c *CachedLookup) DisplayName(ctx context.Context, identity string) (string, error) {
	p, err := c.profile(ctx, identity)
	if err != nil {
		return "", err
	}
	return p.DisplayName, nil
}

func (c *CachedLookup) IsReachable(ctx context.Context, identity string) (bool, error) {
	return c.next.IsReachable(ctx, identity)
}

func (c *CachedLookup) SetLiveness(ctx context.Context, identity string, online bool, at time.Time) error {
	return c.next.SetLiveness(ctx, identity, online, at)
}
