package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"draftfiles/backend/internal/domain"
)

// Store 使用内存保存附件记录，主要用于开发验证与测试。
//
// 单把写锁即事务边界：批量操作在持锁期间完成，外部观察不到中间状态。
type Store struct {
	mu      sync.RWMutex
	rows    map[string]*entry              // attachmentID -> entry
	byDraft map[string]map[string]struct{} // draftID -> attachmentIDs
	byOwner map[string]map[string]struct{} // ownerKey -> attachmentIDs
	seq     uint64
	now     func() time.Time
}

// entry 记录附件与插入序号，用于保证列表按插入顺序返回
type entry struct {
	att *domain.Attachment
	seq uint64
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		rows:    make(map[string]*entry),
		byDraft: make(map[string]map[string]struct{}),
		byOwner: make(map[string]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InsertAttachment 插入附件记录。
func (s *Store) InsertAttachment(ctx context.Context, att *domain.Attachment) error {
	if err := att.CheckBinding(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[att.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, att.ID)
	}

	now := s.now()
	if att.CreatedAt.IsZero() {
		att.CreatedAt = now
	}
	att.UpdatedAt = now

	s.seq++
	att.Seq = int64(s.seq)
	s.rows[att.ID] = &entry{att: att.Clone(), seq: s.seq}
	s.indexLocked(att)
	return nil
}

// GetAttachment 根据 ID 获取附件。
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.att.Clone(), nil
}

// ListDraftAttachments 返回草稿下的附件（插入顺序）。
func (s *Store) ListDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectLocked(s.byDraft[draftID], nil), nil
}

// ListOwnerAttachments 返回记录字段下的附件（插入顺序）。
func (s *Store) ListOwnerAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectLocked(s.byOwner[owner.String()], func(a *domain.Attachment) bool {
		return fieldKey == "" || a.FieldKey == fieldKey
	}), nil
}

// ReassignOwner 将草稿附件整体绑定到记录。
func (s *Store) ReassignOwner(ctx context.Context, draftID string, owner domain.OwnerRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 解除索引会清空 byDraft[draftID]，先复制出条目
	entries := s.sortedLocked(s.byDraft[draftID])
	if len(entries) == 0 {
		return 0, nil
	}

	now := s.now()
	for _, e := range entries {
		s.unindexLocked(e.att)
		e.att.SetOwner(owner, now)
		s.indexLocked(e.att)
	}
	return len(entries), nil
}

// ReconcileOwner 根据引用集合调整附件状态。
func (s *Store) ReconcileOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef, referenced map[string]struct{}) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	orphaned := make([]domain.Attachment, 0)
	for _, e := range s.sortedLocked(s.byOwner[owner.String()]) {
		att := e.att
		if att.FieldKey != fieldKey {
			continue
		}
		_, isReferenced := referenced[att.ID]
		switch {
		case isReferenced && att.Disposition == domain.DispositionOrphaned:
			att.Disposition = domain.DispositionAttached
			att.OrphanedAt = nil
			att.UpdatedAt = now
		case !isReferenced && att.Disposition == domain.DispositionAttached:
			att.Disposition = domain.DispositionOrphaned
			t := now
			att.OrphanedAt = &t
			att.UpdatedAt = now
			orphaned = append(orphaned, *att.Clone())
		}
	}
	return orphaned, nil
}

// DeleteAttachment 删除单条附件记录。
func (s *Store) DeleteAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	s.removeLocked(e.att)
	return e.att.Clone(), nil
}

// DeleteAttachments 批量删除附件记录，不存在的 ID 被忽略。
func (s *Store) DeleteAttachments(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]domain.Attachment, 0, len(ids))
	for _, id := range ids {
		e, ok := s.rows[id]
		if !ok {
			continue
		}
		s.removeLocked(e.att)
		removed = append(removed, *e.att.Clone())
	}
	return removed, nil
}

// DeleteOrphaned 删除仍处于 orphaned 状态的附件，已恢复引用或不存在的 ID 被跳过。
func (s *Store) DeleteOrphaned(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]domain.Attachment, 0, len(ids))
	for _, id := range ids {
		e, ok := s.rows[id]
		if !ok || e.att.Disposition != domain.DispositionOrphaned {
			continue
		}
		s.removeLocked(e.att)
		removed = append(removed, *e.att.Clone())
	}
	return removed, nil
}

// DeleteDraftAttachments 删除草稿下所有 pending 附件。
func (s *Store) DeleteDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]domain.Attachment, 0)
	for _, e := range s.sortedLocked(s.byDraft[draftID]) {
		if e.att.Disposition != domain.DispositionPending {
			continue
		}
		s.removeLocked(e.att)
		removed = append(removed, *e.att.Clone())
	}
	return removed, nil
}

// ListStaleDrafts 返回最新上传早于 before 的草稿。
func (s *Store) ListStaleDrafts(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stale := make([]string, 0)
	for draftID, ids := range s.byDraft {
		newest := time.Time{}
		for id := range ids {
			if created := s.rows[id].att.CreatedAt; created.After(newest) {
				newest = created
			}
		}
		if newest.Before(before) {
			stale = append(stale, draftID)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// ListOrphaned 返回早于 before 的 orphaned 附件。
func (s *Store) ListOrphaned(ctx context.Context, before time.Time, limit int) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Attachment, 0)
	for _, e := range s.sortedAllLocked() {
		att := e.att
		if att.Disposition != domain.DispositionOrphaned || att.OrphanedAt == nil || !att.OrphanedAt.Before(before) {
			continue
		}
		result = append(result, *att.Clone())
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Health 内存存储始终可用
func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}

// Len 返回当前记录数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Snapshot 返回全部记录的副本（插入顺序），用于测试中的不变量检查
func (s *Store) Snapshot() []domain.Attachment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Attachment, 0, len(s.rows))
	for _, e := range s.sortedAllLocked() {
		out = append(out, *e.att.Clone())
	}
	return out
}

func (s *Store) indexLocked(att *domain.Attachment) {
	if att.InDraft() {
		addIndex(s.byDraft, *att.DraftID, att.ID)
	}
	if owner, ok := att.Owner(); ok {
		addIndex(s.byOwner, owner.String(), att.ID)
	}
}

func (s *Store) unindexLocked(att *domain.Attachment) {
	if att.InDraft() {
		removeIndex(s.byDraft, *att.DraftID, att.ID)
	}
	if owner, ok := att.Owner(); ok {
		removeIndex(s.byOwner, owner.String(), att.ID)
	}
}

func (s *Store) removeLocked(att *domain.Attachment) {
	s.unindexLocked(att)
	delete(s.rows, att.ID)
}

func (s *Store) collectLocked(ids map[string]struct{}, keep func(*domain.Attachment) bool) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(ids))
	for _, e := range s.sortedLocked(ids) {
		if keep != nil && !keep(e.att) {
			continue
		}
		out = append(out, *e.att.Clone())
	}
	return out
}

func (s *Store) sortedLocked(ids map[string]struct{}) []*entry {
	entries := make([]*entry, 0, len(ids))
	for id := range ids {
		entries = append(entries, s.rows[id])
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func (s *Store) sortedAllLocked() []*entry {
	entries := make([]*entry, 0, len(s.rows))
	for _, e := range s.rows {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func addIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, id string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}
