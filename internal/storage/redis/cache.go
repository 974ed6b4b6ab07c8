package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage"
)

// Cache Redis 附件列表缓存
//
// 以 JSON 保存记录字段下的附件列表快照，
// 键格式为 attachments:{ownerType}:{ownerID}:{field}。
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewCacheWithClient(client, ttl), nil
}

// NewCacheWithClient 使用已有客户端创建缓存
func NewCacheWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// GetAttachmentList 获取缓存的附件列表，未命中或解析失败时 ok 为 false
func (c *Cache) GetAttachmentList(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, bool) {
	data, err := c.client.Get(ctx, storage.ListKey(owner, fieldKey)).Bytes()
	if err != nil {
		return nil, false
	}

	var list []domain.Attachment
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false
	}
	return list, true
}

// SetAttachmentList 缓存附件列表
func (c *Cache) SetAttachmentList(ctx context.Context, fieldKey string, owner domain.OwnerRef, list []domain.Attachment) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, storage.ListKey(owner, fieldKey), data, c.ttl).Err()
}

// InvalidateOwner 删除记录下指定字段及全部字段的列表缓存
func (c *Cache) InvalidateOwner(ctx context.Context, owner domain.OwnerRef, fieldKeys ...string) error {
	keys := storage.InvalidationKeys(owner, fieldKeys...)

	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
