package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis shares generations across processes and survives restarts.
// Generation keys carry no TTL; an expired key would reset the epoch to 0.
type Redis struct {
	rdb         redis.UniversalClient
	ns          string
	closeClient bool
}

var _ GenStore = (*Redis)(nil)

// NewRedis creates a Redis-backed generation store. Keys are
// "gen:<namespace>:<scope>". closeClient makes Close also close client.
func NewRedis(client redis.UniversalClient, namespace string, closeClient bool) *Redis {
	return &Redis{rdb: client, ns: namespace, closeClient: closeClient}
}

func (s *Redis) key(scope string) string { return "gen:" + s.ns + ":" + scope }

func (s *Redis) Snapshot(ctx context.Context, scope string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump is a single INCR, atomic across processes.
func (s *Redis) Bump(ctx context.Context, scope string) (uint64, error) {
	v, err := s.rdb.Incr(ctx, s.key(scope)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		return s.rdb.Close()
	}
	return nil
}
