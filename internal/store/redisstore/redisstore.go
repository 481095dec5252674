// Package redisstore backs store.Store with github.com/go-redis/redis/v8,
// pooled and wrapped in a single circuit breaker shared by every call;
// admission-path calls and best-effort paths (recent-buffer writes,
// metrics) count toward the same failure threshold.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vanboompow/ai-agent-dashboard/internal/resilience"
	"github.com/vanboompow/ai-agent-dashboard/internal/store"
	"github.com/vanboompow/ai-agent-dashboard/pkg/logger"
)

// Config configures the Redis-backed store adapter.
type Config struct {
	Addr     string
	Password string
	DB       int

	// PoolSize mirrors RedisConnectionManager's connection pool sizing.
	PoolSize int
}

// Store is a store.Store implementation backed by Redis.
type Store struct {
	client *redis.Client
	cb     *resilience.CircuitBreaker
	log    *logger.Logger
}

// New connects to Redis and wraps every call in a circuit breaker tuned for
// the shared-store path (resilience.DefaultServiceCBConfig).
func New(cfg Config, log *logger.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	cbCfg := resilience.DefaultServiceCBConfig(log)
	return &Store{
		client: client,
		cb:     resilience.New(cbCfg),
		log:    log,
	}
}

// HealthCheck pings Redis, grounded on RedisConnectionManager.health_check.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.Ping(ctx).Err()
	})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return store.ErrMiss
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.Exists(ctx, key).Result()
		n = v
		return err
	})
	return n > 0, err
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	return s.cb.Execute(ctx, func() error {
		args := make([]interface{}, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
			return err
		}
		if ttl > 0 {
			return s.client.Expire(ctx, key, ttl).Err()
		}
		return nil
	})
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.HGetAll(ctx, key).Result()
		out = v
		return err
	})
	return out, err
}

func (s *Store) HDelete(ctx context.Context, key string) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

func (s *Store) ZAdd(ctx context.Context, key string, member string, score float64) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
	})
}

func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	var out []string
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: formatFloat(min), Max: formatFloat(max),
		}).Result()
		out = v
		return err
	})
	return out, err
}

func (s *Store) ZRangeByRank(ctx context.Context, key string, start, stop int64, reverse bool) ([]string, error) {
	var out []string
	err := s.cb.Execute(ctx, func() error {
		var v []string
		var err error
		if reverse {
			v, err = s.client.ZRevRange(ctx, key, start, stop).Result()
		} else {
			v, err = s.client.ZRange(ctx, key, start, stop).Result()
		}
		out = v
		return err
	})
	return out, err
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.ZCard(ctx, key).Result()
		n = v
		return err
	})
	return n, err
}

func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.ZRemRangeByScore(ctx, key, formatFloat(min), formatFloat(max)).Err()
	})
}

func (s *Store) ZRem(ctx context.Context, key string, member string) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.ZRem(ctx, key, member).Err()
	})
}

func (s *Store) LPush(ctx context.Context, key string, value string) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.LPush(ctx, key, value).Err()
	})
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.LRange(ctx, key, start, stop).Result()
		out = v
		return err
	})
	return out, err
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.LTrim(ctx, key, start, stop).Err()
	})
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.cb.Execute(ctx, func() error {
		v, err := s.client.LLen(ctx, key).Result()
		n = v
		return err
	})
	return n, err
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.Expire(ctx, key, ttl).Err()
	})
}

// Publish fails fast on broker unavailability; it never blocks the caller
// on subscriber delivery.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.cb.Execute(ctx, func() error {
		return s.client.Publish(ctx, channel, payload).Err()
	})
}

type subscription struct {
	pubsub *redis.PubSub
	out    chan store.Message
	cancel context.CancelFunc
}

func (sub *subscription) Channel() <-chan store.Message { return sub.out }

func (sub *subscription) Close() error {
	sub.cancel()
	return sub.pubsub.Close()
}

func (s *Store) Subscribe(ctx context.Context, channels ...string) (store.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(subCtx, channels...)
	out := make(chan store.Message, 256)
	sub := &subscription{pubsub: pubsub, out: out, cancel: cancel}

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- store.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

func (s *Store) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.cb.Execute(ctx, func() error {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				return err
			}
			out = append(out, keys...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return out, err
}

func (s *Store) Close() error {
	return s.client.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
