package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/fieldservice-engine/engine"
)

// DefaultTTL bounds how long a crashed worker can hold a key.
const DefaultTTL = 30 * time.Second

// Redis obtains short-lived locks through redislock. Obtain does not retry:
// a held key means another replica is already reconciling it.
type Redis struct {
	locker *redislock.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{locker: redislock.New(client), ttl: ttl, log: log}
}

// Connect pings addr and returns a client.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := r.locker.Obtain(ctx, "lock:"+key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, engine.ErrLockNotObtained
	} else if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithFields(logrus.Fields{"module": "lock", "funcName": "Lock", "key": key}).
				Warn("release lock: " + err.Error())
		}
	}, nil
}
