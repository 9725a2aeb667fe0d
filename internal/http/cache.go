package http

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
)

// permissionCache keeps recently looked-up permission rows in redis for a
// short TTL. The client is optional; without one every lookup misses and the
// store is consulted directly.
type permissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newPermissionCache(client *redis.Client, ttl time.Duration) *permissionCache {
	return &permissionCache{client: client, ttl: ttl}
}

func permissionKey(roleID string, module model.Module, schoolCode string) string {
	return fmt.Sprintf("perm:%s:%s:%s", schoolCode, roleID, module)
}

func (c *permissionCache) get(ctx context.Context, roleID string, module model.Module, schoolCode string) (model.Capabilities, bool) {
	if c.client == nil {
		return model.Capabilities{}, false
	}
	value, err := c.client.Get(ctx, permissionKey(roleID, module, schoolCode)).Result()
	if err != nil {
		return model.Capabilities{}, false
	}
	var caps model.Capabilities
	if err := json.Unmarshal([]byte(value), &caps); err != nil {
		return model.Capabilities{}, false
	}
	return caps, true
}

func (c *permissionCache) set(ctx context.Context, roleID string, module model.Module, schoolCode string, caps model.Capabilities) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(caps)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, permissionKey(roleID, module, schoolCode), payload, c.ttl).Err()
}

// invalidate drops a cached entry after a permission write so a cached
// denial cannot outlive a fresh grant.
func (c *permissionCache) invalidate(ctx context.Context, roleID string, module model.Module, schoolCode string) {
	if c.client == nil {
		return
	}
	_ = c.client.Del(ctx, permissionKey(roleID, module, schoolCode)).Err()
}
