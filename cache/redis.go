package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/xIceArcher/go-livewatch/config"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%v", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}

	return val, err
}

func (s *RedisStore) Put(ctx context.Context, key string, val string) error {
	return s.client.Set(ctx, key, val, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key ...string) error {
	if len(key) == 0 {
		return nil
	}

	return s.client.Del(ctx, key...).Err()
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) (ret map[string]string, err error) {
	const prefixFormat = "%s*"
	var cursor uint64

	keysMap := make(map[string]struct{})
	for {
		var keys []string
		keys, cursor, err = s.client.Scan(ctx, cursor, fmt.Sprintf(prefixFormat, prefix), 0).Result()
		if err != nil {
			return nil, err
		}

		for _, key := range keys {
			keysMap[key] = struct{}{}
		}

		if cursor == 0 {
			break
		}
	}

	allKeys := make([]string, 0, len(keysMap))
	for key := range keysMap {
		allKeys = append(allKeys, key)
	}

	ret = make(map[string]string)
	if len(allKeys) == 0 {
		return ret, nil
	}

	values, err := s.client.MGet(ctx, allKeys...).Result()
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(values); i++ {
		// Keys deleted between SCAN and MGET come back as nil
		valStr, ok := values[i].(string)
		if !ok {
			continue
		}
		ret[allKeys[i]] = valStr
	}

	return ret, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
