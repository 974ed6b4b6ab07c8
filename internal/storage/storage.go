package storage

import (
	"context"
	"time"

	"draftfiles/backend/internal/domain"
)

// AttachmentRepository 定义附件记录的存取操作。
//
// 批量操作（ReassignOwner、ReconcileOwner、Delete*）在实现内部必须是
// 单个事务：要么全部生效，要么全部不生效。
type AttachmentRepository interface {
	// InsertAttachment 插入附件记录，ID 已存在时返回 domain.ErrDuplicateID
	InsertAttachment(ctx context.Context, att *domain.Attachment) error
	// GetAttachment 按 ID 获取，不存在时返回 domain.ErrNotFound
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	// ListDraftAttachments 按插入顺序返回草稿下的附件
	ListDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error)
	// ListOwnerAttachments 按插入顺序返回记录字段下的附件，fieldKey 为空表示所有字段
	ListOwnerAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error)

	// ReassignOwner 将草稿下的所有附件绑定到记录，返回绑定数量
	ReassignOwner(ctx context.Context, draftID string, owner domain.OwnerRef) (int, error)
	// ReconcileOwner 根据正文引用集合调整 attached/orphaned 状态，返回本次新变为 orphaned 的附件
	ReconcileOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef, referenced map[string]struct{}) ([]domain.Attachment, error)

	// DeleteAttachment 删除单条记录并返回被删除的行，不存在时返回 domain.ErrNotFound
	DeleteAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	// DeleteAttachments 批量删除，不存在的 ID 被忽略
	DeleteAttachments(ctx context.Context, ids []string) ([]domain.Attachment, error)
	// DeleteOrphaned 在同一事务内复核 disposition，只删除仍为 orphaned 的附件
	DeleteOrphaned(ctx context.Context, ids []string) ([]domain.Attachment, error)
	// DeleteDraftAttachments 删除草稿下所有 pending 附件
	DeleteDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error)

	// ListStaleDrafts 返回最新上传早于 before 的草稿标识
	ListStaleDrafts(ctx context.Context, before time.Time) ([]string, error)
	// ListOrphaned 返回标记为 orphaned 且早于 before 的附件
	ListOrphaned(ctx context.Context, before time.Time, limit int) ([]domain.Attachment, error)

	Health(ctx context.Context) error
	Close() error
}

// BlobStore 是命名存储卷上的字节读写适配器。
//
// 路径永不复用，因此不同附件的并发写入不会冲突。
type BlobStore interface {
	// Disk 返回存储卷名称
	Disk() string
	// Put 写入文件，失败时返回包装了 domain.ErrStorageWrite 的错误
	Put(ctx context.Context, path string, content []byte) error
	// Get 读取文件，不存在时返回 domain.ErrNotFound
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete 删除文件，文件不存在视为成功
	Delete(ctx context.Context, path string) error
}

// ListCache 缓存记录字段下的附件列表快照。
type ListCache interface {
	GetAttachmentList(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, bool)
	SetAttachmentList(ctx context.Context, fieldKey string, owner domain.OwnerRef, list []domain.Attachment) error
	InvalidateOwner(ctx context.Context, owner domain.OwnerRef, fieldKeys ...string) error
}

// ListKey 返回记录字段附件列表的缓存键，fieldKey 为空表示全部字段
func ListKey(owner domain.OwnerRef, fieldKey string) string {
	if fieldKey == "" {
		fieldKey = "_all"
	}
	return "attachments:" + owner.Type + ":" + owner.ID + ":" + fieldKey
}

// InvalidationKeys 返回记录变更后需要失效的缓存键（指定字段及全部字段）
func InvalidationKeys(owner domain.OwnerRef, fieldKeys ...string) []string {
	seen := make(map[string]struct{}, len(fieldKeys)+1)
	keys := make([]string, 0, len(fieldKeys)+1)
	for _, field := range fieldKeys {
		key := ListKey(owner, field)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if key := ListKey(owner, ""); !containsKey(seen, key) {
		keys = append(keys, key)
	}
	return keys
}

func containsKey(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
