package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLedgerConfig 描述 Redis 账本的连接参数。
type RedisLedgerConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLedger 使用 Redis INCRBY 维护每日支出，自带跨进程原子性。
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger 创建 Redis 账本实例。
func NewRedisLedger(cfg RedisLedgerConfig) (*RedisLedger, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentpay:spend"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisLedger{client: client, prefix: prefix}, nil
}

func (l *RedisLedger) key(principalID string, day Day) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, principalID, day)
}

// Spent 实现 Ledger 接口。
func (l *RedisLedger) Spent(ctx context.Context, principalID string, day Day) (int64, error) {
	value, err := l.client.Get(ctx, l.key(principalID, day)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("读取支出记录失败: %w", err)
	}
	return value, nil
}

// Add 实现 Ledger 接口。
func (l *RedisLedger) Add(ctx context.Context, principalID string, day Day, amountSats int64) error {
	if err := l.client.IncrBy(ctx, l.key(principalID, day), amountSats).Err(); err != nil {
		return fmt.Errorf("累加支出记录失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (l *RedisLedger) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

var _ Ledger = (*RedisLedger)(nil)
