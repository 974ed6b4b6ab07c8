// Package registry 维护草稿会话与其上传附件之间的映射。
//
// 注册表没有独立存储，所有数据都是附件记录按 draft_id 过滤后的视图。
package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage"
)

// Registry 草稿注册表
type Registry struct {
	repo storage.AttachmentRepository
}

// New 创建草稿注册表
func New(repo storage.AttachmentRepository) *Registry {
	return &Registry{repo: repo}
}

// BeginDraft 生成新的草稿标识，表单渲染前调用
func (r *Registry) BeginDraft() string {
	return uuid.NewString()
}

// Lookup 按插入顺序返回草稿下的附件 ID
func (r *Registry) Lookup(ctx context.Context, draftID string) ([]string, error) {
	if err := domain.ValidateDraftID(draftID); err != nil {
		return nil, err
	}

	rows, err := r.repo.ListDraftAttachments(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("lookup draft %s: %w", draftID, err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// Register 将附件登记到草稿下，这是创建 pending 记录的唯一入口
func (r *Registry) Register(ctx context.Context, draftID string, att *domain.Attachment) error {
	if err := domain.ValidateDraftID(draftID); err != nil {
		return err
	}

	d := draftID
	att.DraftID = &d
	att.OwnerType = nil
	att.OwnerID = nil
	att.Disposition = domain.DispositionPending
	att.AttachedAt = nil
	att.OrphanedAt = nil

	return r.repo.InsertAttachment(ctx, att)
}

// Clear 删除草稿下所有 pending 记录并返回被删除的行，未知草稿返回空
func (r *Registry) Clear(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	if err := domain.ValidateDraftID(draftID); err != nil {
		return nil, err
	}

	removed, err := r.repo.DeleteDraftAttachments(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("clear draft %s: %w", draftID, err)
	}
	return removed, nil
}
