package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/logger"
	"draftfiles/backend/internal/monitoring"
	"draftfiles/backend/internal/registry"
	"draftfiles/backend/internal/scanner"
	"draftfiles/backend/internal/security"
	"draftfiles/backend/internal/storage"
)

// Lifecycle 富文本字段附件的生命周期操作。
//
// 表单层在渲染前调用 BeginDraft 获取草稿标识，编辑期间调用 Store、Detach、
// DiscardDraft，记录持久化之后调用且只调用一次 PersistDraft。
type Lifecycle interface {
	BeginDraft() string
	Store(ctx context.Context, in StoreInput) (*domain.Attachment, error)
	Detach(ctx context.Context, id string) (*domain.Attachment, error)
	DetachSource(ctx context.Context, fieldKey, src string) (*domain.Attachment, error)
	Delete(ctx context.Context, ids []string) ([]domain.Attachment, error)
	DeleteOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error)
	DiscardDraft(ctx context.Context, draftID string) ([]domain.Attachment, error)
	PersistDraft(ctx context.Context, in PersistInput) (*PersistResult, error)
	ListAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.AttachmentView, error)
	ListDraft(ctx context.Context, draftID string) ([]domain.AttachmentView, error)
	Open(ctx context.Context, id string) (*domain.Attachment, []byte, error)
	View(att *domain.Attachment) domain.AttachmentView
}

var _ Lifecycle = (*Manager)(nil)

// maxIDAttempts 标识冲突时的最大尝试次数
const maxIDAttempts = 3

// Options 生命周期管理器配置
type Options struct {
	// PruneOnSave 为 true 时保存草稿会立即删除孤儿附件
	PruneOnSave bool

	Scanner *scanner.Scanner
	Policy  *security.UploadPolicy
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Manager 附件生命周期管理器
type Manager struct {
	repo     storage.AttachmentRepository
	blobs    storage.BlobStore
	registry *registry.Registry
	scanner  *scanner.Scanner
	policy   *security.UploadPolicy
	metrics  *monitoring.Metrics
	log      *zap.Logger

	pruneOnSave bool

	now   func() time.Time
	newID func() string
}

// NewManager 创建生命周期管理器
func NewManager(repo storage.AttachmentRepository, blobs storage.BlobStore, opts Options) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("attachment repository is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}

	sc := opts.Scanner
	if sc == nil {
		var err error
		if sc, err = scanner.New("/files/", ""); err != nil {
			return nil, fmt.Errorf("create scanner: %w", err)
		}
	}
	policy := opts.Policy
	if policy == nil {
		policy = security.NewUploadPolicy(0, nil)
	}

	return &Manager{
		repo:        repo,
		blobs:       blobs,
		registry:    registry.New(repo),
		scanner:     sc,
		policy:      policy,
		metrics:     opts.Metrics,
		log:         logger.OrNop(opts.Logger).Named("lifecycle"),
		pruneOnSave: opts.PruneOnSave,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}, nil
}

// Scanner 返回管理器使用的引用扫描器
func (m *Manager) Scanner() *scanner.Scanner {
	return m.scanner
}

// PruneOnSave 返回是否在保存时删除孤儿附件
func (m *Manager) PruneOnSave() bool {
	return m.pruneOnSave
}

// BeginDraft 为新的编辑会话生成草稿标识
func (m *Manager) BeginDraft() string {
	id := m.registry.BeginDraft()
	m.metrics.RecordOperation("begin_draft", time.Now(), nil)
	return id
}

// removeBlobs 删除已删除记录对应的文件，失败只记录日志
func (m *Manager) removeBlobs(ctx context.Context, rows []domain.Attachment) {
	for i := range rows {
		m.removeBlob(ctx, &rows[i])
	}
}

func (m *Manager) removeBlob(ctx context.Context, att *domain.Attachment) {
	if att.Disk != "" && att.Disk != m.blobs.Disk() {
		m.log.Warn("attachment stored on unknown disk, leaving bytes in place",
			append(logger.Attachment(att), zap.String("disk", att.Disk))...)
		return
	}
	if err := m.blobs.Delete(ctx, att.StoragePath); err != nil {
		m.metrics.RecordError("blob_delete", "lifecycle")
		m.log.Warn("failed to delete attachment bytes",
			append(logger.Attachment(att), zap.String("path", att.StoragePath), zap.Error(err))...)
	}
}

// markDeleted 将已删除的记录标记为终态
func markDeleted(rows []domain.Attachment, at time.Time) []domain.Attachment {
	for i := range rows {
		rows[i].Disposition = domain.DispositionDeleted
		rows[i].UpdatedAt = at
	}
	return rows
}
