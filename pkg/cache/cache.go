package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口. Values are opaque bytes so the local and redis backends
// behave the same.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	// Delete 删除缓存
	Delete(ctx context.Context, keys ...string) error
	// Clear 清空所有缓存
	Clear(ctx context.Context) error
	Close() error
}

// Config 缓存配置
type Config struct {
	// 缓存类型: "local" 或 "redis"
	Type  string
	Redis RedisConfig
	Local LocalConfig
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string // 键前缀
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LocalConfig 本地缓存配置
type LocalConfig struct {
	DefaultExpiration time.Duration
	CleanupInterval   time.Duration
}

// GetJSON decodes the cached value for key into dst.
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	b, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, c Cache, key string, v any, expiration time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, b, expiration)
}
