package cache

import (
	"context"
	"time"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage"
)

// ListCache 基于 LocalCache 的附件列表缓存，未配置 Redis 时使用
type ListCache struct {
	local *LocalCache[[]domain.Attachment]
}

// NewListCache 创建本地附件列表缓存
func NewListCache(maxSize int, ttl time.Duration) *ListCache {
	return &ListCache{local: NewLocalCache[[]domain.Attachment](maxSize, ttl)}
}

// GetAttachmentList 获取缓存的附件列表副本
func (c *ListCache) GetAttachmentList(_ context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, bool) {
	val, ok := c.local.Get(storage.ListKey(owner, fieldKey))
	if !ok {
		return nil, false
	}
	return cloneList(val), true
}

// SetAttachmentList 缓存附件列表副本
func (c *ListCache) SetAttachmentList(_ context.Context, fieldKey string, owner domain.OwnerRef, list []domain.Attachment) error {
	c.local.Set(storage.ListKey(owner, fieldKey), cloneList(list))
	return nil
}

// InvalidateOwner 删除记录下指定字段及全部字段的列表缓存
func (c *ListCache) InvalidateOwner(_ context.Context, owner domain.OwnerRef, fieldKeys ...string) error {
	for _, key := range storage.InvalidationKeys(owner, fieldKeys...) {
		c.local.Delete(key)
	}
	return nil
}

// Close 清空缓存
func (c *ListCache) Close() {
	c.local.Close()
}

func cloneList(list []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(list))
	for i := range list {
		out = append(out, *list[i].Clone())
	}
	return out
}
