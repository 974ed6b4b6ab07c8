package memory

import (
	"context"
	"fmt"
	"sync"

	"draftfiles/backend/internal/domain"
)

// BlobStore 内存存储卷，用于开发与测试。
type BlobStore struct {
	mu    sync.RWMutex
	disk  string
	blobs map[string][]byte
}

// NewBlobStore 创建内存存储卷
func NewBlobStore(disk string) *BlobStore {
	if disk == "" {
		disk = "memory"
	}
	return &BlobStore{
		disk:  disk,
		blobs: make(map[string][]byte),
	}
}

// Disk 返回存储卷名称
func (b *BlobStore) Disk() string {
	return b.disk
}

// Put 写入文件内容（保存副本）
func (b *BlobStore) Put(ctx context.Context, path string, content []byte) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", domain.ErrStorageWrite)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[path] = append([]byte(nil), content...)
	return nil
}

// Get 读取文件内容
func (b *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	content, ok := b.blobs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

// Delete 删除文件，不存在视为成功
func (b *BlobStore) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.blobs, path)
	return nil
}

// Exists 判断文件是否存在
func (b *BlobStore) Exists(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.blobs[path]
	return ok
}

// Len 返回文件数量
func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
