package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type ConnectionInfo struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	PoolSize    int
}

type Client = goredis.Client

const defaultTimeout = 3 * time.Second

// Options maps the connection info onto client options. Zero timeouts fall
// back to a short default so a dead server fails fast at startup.
func (info ConnectionInfo) Options() *goredis.Options {
	timeout := info.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dial := info.DialTimeout
	if dial <= 0 {
		dial = timeout
	}
	return &goredis.Options{
		Addr:         info.Addr,
		Password:     info.Password,
		DB:           info.DB,
		MaxRetries:   info.MaxRetries,
		DialTimeout:  dial,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     info.PoolSize,
	}
}

func NewRedisConnection(info ConnectionInfo) (*Client, error) {
	opts := info.Options()
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", info.Addr, err)
	}

	return rdb, nil
}

func Close(c *Client) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
