package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalCache 进程内缓存（L1 缓存）
//
// 超过容量时淘汰最久未使用的条目，过期条目由后台协程清理。
type LocalCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，0 表示不限制
//   - ttl: 过期时间，0 表示不过期
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	return &LocalCache[V]{lru: expirable.NewLRU[string, V](maxSize, nil, ttl)}
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set 设置缓存值，返回是否淘汰了旧条目
func (c *LocalCache[V]) Set(key string, value V) bool {
	return c.lru.Add(key, value)
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Len 返回当前条目数
func (c *LocalCache[V]) Len() int {
	return c.lru.Len()
}

// Close 清空缓存
func (c *LocalCache[V]) Close() {
	c.lru.Purge()
}
