package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/logger"
)

// Detach 删除单个附件的记录与文件
//
// 先删除记录再删除文件，文件删除失败只记录日志。
// 附件不存在视为已删除，返回 nil 且不报错。
func (m *Manager) Detach(ctx context.Context, id string) (att *domain.Attachment, err error) {
	started := time.Now()
	defer func() { m.metrics.RecordOperation("detach", started, err) }()

	if !domain.IsCanonicalUUID(id) {
		return nil, nil
	}

	removed, err := m.repo.DeleteAttachment(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("detach attachment %s: %w", id, err)
	}

	m.removeBlob(ctx, removed)
	removed.Disposition = domain.DispositionDeleted
	removed.UpdatedAt = m.now()
	m.log.Info("attachment detached", logger.Attachment(removed)...)
	return removed, nil
}

// DetachSource 根据编辑器中的链接删除附件
//
// 链接不是本服务生成的附件地址或附件属于其他字段时不做任何操作。
func (m *Manager) DetachSource(ctx context.Context, fieldKey, src string) (*domain.Attachment, error) {
	if err := domain.ValidateFieldKey(fieldKey); err != nil {
		return nil, err
	}

	id, ok := m.scanner.IDFromURL(src)
	if !ok {
		return nil, nil
	}

	att, err := m.repo.GetAttachment(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup attachment %s: %w", id, err)
	}
	if att.FieldKey != fieldKey {
		m.log.Warn("detach source belongs to another field",
			zap.String("attachment_id", id),
			zap.String("field_key", fieldKey),
			zap.String("attachment_field", att.FieldKey))
		return nil, nil
	}
	return m.Detach(ctx, id)
}

// Delete 批量删除附件，已不存在的标识会被跳过
func (m *Manager) Delete(ctx context.Context, ids []string) (removed []domain.Attachment, err error) {
	started := time.Now()
	defer func() { m.metrics.RecordOperation("delete", started, err) }()

	valid := canonicalIDs(ids)
	if len(valid) == 0 {
		return []domain.Attachment{}, nil
	}

	removed, err = m.repo.DeleteAttachments(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}

	m.removeBlobs(ctx, removed)
	m.log.Info("attachments deleted", zap.Int("requested", len(valid)), zap.Int("deleted", len(removed)))
	return markDeleted(removed, m.now()), nil
}

// PruneOrphans 删除仍处于 orphaned 状态的附件及其文件
//
// 状态在删除事务内复核，列出之后又被正文重新引用的附件会被跳过。
func (m *Manager) PruneOrphans(ctx context.Context, ids []string) (removed []domain.Attachment, err error) {
	started := time.Now()
	defer func() { m.metrics.RecordOperation("prune_orphans", started, err) }()

	valid := canonicalIDs(ids)
	if len(valid) == 0 {
		return []domain.Attachment{}, nil
	}

	removed, err = m.repo.DeleteOrphaned(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("prune orphaned attachments: %w", err)
	}

	m.removeBlobs(ctx, removed)
	if skipped := len(valid) - len(removed); skipped > 0 {
		m.log.Info("orphans no longer eligible for pruning", zap.Int("skipped", skipped))
	}
	return markDeleted(removed, m.now()), nil
}

// canonicalIDs 去重并过滤非法标识，保持原有顺序
func canonicalIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if !domain.IsCanonicalUUID(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}
	return valid
}

// DeleteOwner 删除记录的附件，用于记录本身被删除时
//
// fieldKey 为空时删除该记录所有字段的附件。
func (m *Manager) DeleteOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error) {
	if fieldKey != "" {
		if err := domain.ValidateFieldKey(fieldKey); err != nil {
			return nil, err
		}
	}
	if err := domain.ValidateOwner(owner); err != nil {
		return nil, err
	}

	rows, err := m.repo.ListOwnerAttachments(ctx, fieldKey, owner)
	if err != nil {
		return nil, fmt.Errorf("list attachments for %s: %w", owner, err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return m.Delete(ctx, ids)
}

// DiscardDraft 丢弃草稿中所有未绑定的附件
//
// 草稿没有附件（从未上传、已保存或标识格式非法）时不做任何操作，
// 与 Detach 对非法附件标识的处理一致。
func (m *Manager) DiscardDraft(ctx context.Context, draftID string) (removed []domain.Attachment, err error) {
	started := time.Now()
	defer func() { m.metrics.RecordOperation("discard_draft", started, err) }()

	if domain.ValidateDraftID(draftID) != nil {
		m.log.Debug("discard ignored malformed draft id", zap.String("draft_id", draftID))
		return []domain.Attachment{}, nil
	}

	removed, err = m.registry.Clear(ctx, draftID)
	if err != nil {
		return nil, err
	}

	m.removeBlobs(ctx, removed)
	if len(removed) > 0 {
		m.log.Info("draft discarded", zap.String("draft_id", draftID), zap.Int("deleted", len(removed)))
	}
	return markDeleted(removed, m.now()), nil
}
