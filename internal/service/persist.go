package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
)

// PersistInput 保存草稿所需的输入
type PersistInput struct {
	// DraftID 为空表示本次编辑没有上传新附件，只做引用核对
	DraftID  string
	FieldKey string
	Owner    domain.OwnerRef
	Body     string
}

// PersistResult 保存草稿的结果
type PersistResult struct {
	Reassigned int      `json:"reassigned"`
	Orphaned   []string `json:"orphaned"`
	Pruned     []string `json:"pruned"`
	Warnings   []string `json:"warnings"`
}

// 降级阶段，用于日志与指标
const (
	stageReassign  = "reassign"
	stageScan      = "scan"
	stageReconcile = "reconcile"
	stagePrune     = "prune"
)

// PersistDraft 在记录持久化之后绑定草稿附件并核对正文引用
//
// 绑定失败时返回 domain.ErrReassignFailure，结果中带有警告，调用方不应回滚记录保存；
// 扫描、核对、清理阶段的失败只作为警告返回。
func (m *Manager) PersistDraft(ctx context.Context, in PersistInput) (result *PersistResult, err error) {
	started := time.Now()
	defer func() { m.metrics.RecordOperation("persist_draft", started, err) }()

	if err := domain.ValidateFieldKey(in.FieldKey); err != nil {
		return nil, err
	}
	if err := domain.ValidateOwner(in.Owner); err != nil {
		return nil, err
	}
	if in.DraftID != "" {
		if err := domain.ValidateDraftID(in.DraftID); err != nil {
			return nil, err
		}
	}

	result = &PersistResult{Orphaned: []string{}, Pruned: []string{}, Warnings: []string{}}
	log := m.log.With(
		zap.String("draft_id", in.DraftID),
		zap.String("field_key", in.FieldKey),
		zap.Stringer("owner", in.Owner))

	if in.DraftID != "" {
		n, err := m.repo.ReassignOwner(ctx, in.DraftID, in.Owner)
		if err != nil {
			m.warn(result, stageReassign, "attachments could not be bound to the saved record", err)
			log.Error("failed to reassign draft attachments", zap.Error(err))
			return result, fmt.Errorf("%w: %v", domain.ErrReassignFailure, err)
		}
		result.Reassigned = n
	}

	// 扫描失败时视为没有引用，此时跳过清理，孤儿附件在下次保存时仍可恢复
	scanned := true
	refs, err := m.scanner.Collect(in.Body)
	if err != nil {
		m.warn(result, stageScan, "saved body could not be scanned for attachment references", err)
		log.Warn("failed to scan body", zap.Error(err))
		refs = map[string]struct{}{}
		scanned = false
	}

	orphaned, err := m.repo.ReconcileOwner(ctx, in.FieldKey, in.Owner, refs)
	if err != nil {
		m.warn(result, stageReconcile, "unreferenced attachments could not be reconciled", err)
		log.Warn("failed to reconcile attachments", zap.Error(err))
		m.metrics.RecordPersist(result.Reassigned, 0, 0)
		return result, nil
	}
	for _, row := range orphaned {
		result.Orphaned = append(result.Orphaned, row.ID)
	}

	if m.pruneOnSave && scanned && len(orphaned) > 0 {
		// 删除时复核 orphaned 状态，并发保存重新引用的附件不会被删除
		removed, err := m.repo.DeleteOrphaned(ctx, result.Orphaned)
		if err != nil {
			m.warn(result, stagePrune, "orphaned attachments could not be pruned", err)
			log.Warn("failed to prune orphaned attachments", zap.Error(err))
		} else {
			m.removeBlobs(ctx, removed)
			for _, row := range removed {
				result.Pruned = append(result.Pruned, row.ID)
			}
		}
	}

	m.metrics.RecordPersist(result.Reassigned, len(result.Orphaned), len(result.Pruned))
	log.Info("draft persisted",
		zap.Int("reassigned", result.Reassigned),
		zap.Int("orphaned", len(result.Orphaned)),
		zap.Int("pruned", len(result.Pruned)),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

func (m *Manager) warn(result *PersistResult, stage, message string, err error) {
	m.metrics.RecordPersistWarning(stage)
	result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", message, err))
}
