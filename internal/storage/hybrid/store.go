package hybrid

import (
	"context"

	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage"
)

// Store 混合存储实现，结合数据库记录存储与附件列表缓存
//
// 列表查询先读缓存，未命中时回源并写回；所有改变记录归属或状态的
// 操作完成后失效相关记录的缓存。缓存失败只记录日志，不影响操作结果。
type Store struct {
	storage.AttachmentRepository
	cache storage.ListCache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(repo storage.AttachmentRepository, cache storage.ListCache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		AttachmentRepository: repo,
		cache:                cache,
		log:                  log,
	}
}

// ListOwnerAttachments 先读缓存，未命中时从数据库获取并写回缓存
func (s *Store) ListOwnerAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error) {
	if list, ok := s.cache.GetAttachmentList(ctx, fieldKey, owner); ok {
		return list, nil
	}

	list, err := s.AttachmentRepository.ListOwnerAttachments(ctx, fieldKey, owner)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetAttachmentList(ctx, fieldKey, owner, list); err != nil {
		s.log.Warn("failed to cache attachment list",
			zap.Stringer("owner", owner),
			zap.String("field_key", fieldKey),
			zap.Error(err),
		)
	}
	return list, nil
}

// ReassignOwner 绑定草稿后失效记录下所有字段的缓存
func (s *Store) ReassignOwner(ctx context.Context, draftID string, owner domain.OwnerRef) (int, error) {
	n, err := s.AttachmentRepository.ReassignOwner(ctx, draftID, owner)
	if err != nil || n == 0 {
		return n, err
	}

	// 绑定后的字段集合以数据库为准
	fields := []string{}
	if list, err := s.AttachmentRepository.ListOwnerAttachments(ctx, "", owner); err == nil {
		fields = fieldKeys(list)
	}
	s.invalidate(ctx, owner, fields...)
	return n, nil
}

// ReconcileOwner 调整状态后失效该字段的缓存
func (s *Store) ReconcileOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef, referenced map[string]struct{}) ([]domain.Attachment, error) {
	orphaned, err := s.AttachmentRepository.ReconcileOwner(ctx, fieldKey, owner, referenced)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, owner, fieldKey)
	return orphaned, nil
}

// DeleteAttachment 删除记录并失效所属记录的缓存
func (s *Store) DeleteAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	removed, err := s.AttachmentRepository.DeleteAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidateRows(ctx, []domain.Attachment{*removed})
	return removed, nil
}

// DeleteAttachments 批量删除并失效所属记录的缓存
func (s *Store) DeleteAttachments(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	removed, err := s.AttachmentRepository.DeleteAttachments(ctx, ids)
	if err != nil {
		return nil, err
	}
	s.invalidateRows(ctx, removed)
	return removed, nil
}

// DeleteOrphaned 删除仍为 orphaned 的附件并失效所属记录的缓存
func (s *Store) DeleteOrphaned(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	removed, err := s.AttachmentRepository.DeleteOrphaned(ctx, ids)
	if err != nil {
		return nil, err
	}
	s.invalidateRows(ctx, removed)
	return removed, nil
}

func (s *Store) invalidateRows(ctx context.Context, rows []domain.Attachment) {
	byOwner := make(map[domain.OwnerRef][]string)
	for i := range rows {
		if owner, ok := rows[i].Owner(); ok {
			byOwner[owner] = append(byOwner[owner], rows[i].FieldKey)
		}
	}
	for owner, fields := range byOwner {
		s.invalidate(ctx, owner, fields...)
	}
}

func (s *Store) invalidate(ctx context.Context, owner domain.OwnerRef, fields ...string) {
	if err := s.cache.InvalidateOwner(ctx, owner, fields...); err != nil {
		s.log.Warn("failed to invalidate attachment list cache",
			zap.Stringer("owner", owner),
			zap.Strings("fields", fields),
			zap.Error(err),
		)
	}
}

func fieldKeys(list []domain.Attachment) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, att := range list {
		if _, ok := seen[att.FieldKey]; ok {
			continue
		}
		seen[att.FieldKey] = struct{}{}
		out = append(out, att.FieldKey)
	}
	return out
}
