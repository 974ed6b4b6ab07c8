package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"draftfiles/backend/internal/domain"
)

// pendingAttachment 草稿期间的附件（pending_attachments 表）
type pendingAttachment struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	Seq          int64  `gorm:"not null;default:0;index"`
	DraftID      string `gorm:"type:varchar(36);not null;index"`
	FieldKey     string `gorm:"type:varchar(191);not null"`
	Disk         string `gorm:"type:varchar(64);not null"`
	Path         string `gorm:"type:varchar(500);not null"`
	OriginalName string `gorm:"type:varchar(255)"`
	ContentType  string `gorm:"type:varchar(100)"`
	Size         int64
	CreatedAt    time.Time `gorm:"index"`
}

func (pendingAttachment) TableName() string {
	return "pending_attachments"
}

// fieldAttachment 已绑定到记录的附件（field_attachments 表）
type fieldAttachment struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	Seq            int64  `gorm:"not null;default:0;index"`
	AttachableType string `gorm:"type:varchar(191);not null;index:idx_field_attachments_owner,priority:1"`
	AttachableID   string `gorm:"type:varchar(191);not null;index:idx_field_attachments_owner,priority:2"`
	Field          string `gorm:"type:varchar(191);not null;index:idx_field_attachments_owner,priority:3"`
	Disk           string `gorm:"type:varchar(64);not null"`
	Path           string `gorm:"type:varchar(500);not null"`
	OriginalName   string `gorm:"type:varchar(255)"`
	ContentType    string `gorm:"type:varchar(100)"`
	Size           int64
	Disposition    domain.Disposition `gorm:"type:varchar(16);not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AttachedAt     *time.Time
	OrphanedAt     *time.Time
}

func (fieldAttachment) TableName() string {
	return "field_attachments"
}

func (p *pendingAttachment) toDomain() domain.Attachment {
	draftID := p.DraftID
	return domain.Attachment{
		ID:           p.ID,
		Seq:          p.Seq,
		FieldKey:     p.FieldKey,
		DraftID:      &draftID,
		Disk:         p.Disk,
		StoragePath:  p.Path,
		OriginalName: p.OriginalName,
		ContentType:  p.ContentType,
		Size:         p.Size,
		Disposition:  domain.DispositionPending,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.CreatedAt,
	}
}

func (f *fieldAttachment) toDomain() domain.Attachment {
	ownerType, ownerID := f.AttachableType, f.AttachableID
	return domain.Attachment{
		ID:           f.ID,
		Seq:          f.Seq,
		FieldKey:     f.Field,
		OwnerType:    &ownerType,
		OwnerID:      &ownerID,
		Disk:         f.Disk,
		StoragePath:  f.Path,
		OriginalName: f.OriginalName,
		ContentType:  f.ContentType,
		Size:         f.Size,
		Disposition:  f.Disposition,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
		AttachedAt:   f.AttachedAt,
		OrphanedAt:   f.OrphanedAt,
	}
}

// CompatStore 使用草稿表与字段表分离的双表结构
//
// 草稿附件保存在 pending_attachments，保存记录时在同一事务中
// 迁移到 field_attachments。适用于已有双表结构的数据库。
type CompatStore struct {
	db  *gorm.DB
	seq *sequence
}

// NewCompatStore 基于已打开的连接创建双表存储并迁移表结构
func NewCompatStore(db *gorm.DB) (*CompatStore, error) {
	store := &CompatStore{db: db, seq: newSequence()}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewCompatStoreWithDialector 打开连接并创建双表存储
func NewCompatStoreWithDialector(dialector gorm.Dialector, opts Options) (*CompatStore, error) {
	db, err := Open(dialector, opts)
	if err != nil {
		return nil, err
	}
	store, err := NewCompatStore(db)
	if err != nil {
		_ = closeDB(db)
		return nil, err
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *CompatStore) Migrate() error {
	return s.db.AutoMigrate(&pendingAttachment{}, &fieldAttachment{})
}

// InsertAttachment 按绑定状态写入草稿表或字段表
func (s *CompatStore) InsertAttachment(ctx context.Context, att *domain.Attachment) error {
	if err := att.CheckBinding(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := compatExists(tx, att.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, att.ID)
		}

		now := tx.NowFunc()
		if att.CreatedAt.IsZero() {
			att.CreatedAt = now
		}
		att.UpdatedAt = now
		att.Seq = s.seq.next()

		if att.InDraft() {
			row := pendingAttachment{
				ID:           att.ID,
				Seq:          att.Seq,
				DraftID:      *att.DraftID,
				FieldKey:     att.FieldKey,
				Disk:         att.Disk,
				Path:         att.StoragePath,
				OriginalName: att.OriginalName,
				ContentType:  att.ContentType,
				Size:         att.Size,
				CreatedAt:    att.CreatedAt,
			}
			return translateError(tx.Create(&row).Error, att.ID)
		}

		owner, _ := att.Owner()
		row := fieldAttachment{
			ID:             att.ID,
			Seq:            att.Seq,
			AttachableType: owner.Type,
			AttachableID:   owner.ID,
			Field:          att.FieldKey,
			Disk:           att.Disk,
			Path:           att.StoragePath,
			OriginalName:   att.OriginalName,
			ContentType:    att.ContentType,
			Size:           att.Size,
			Disposition:    att.Disposition,
			CreatedAt:      att.CreatedAt,
			UpdatedAt:      att.UpdatedAt,
			AttachedAt:     att.AttachedAt,
			OrphanedAt:     att.OrphanedAt,
		}
		return translateError(tx.Create(&row).Error, att.ID)
	})
}

func compatExists(tx *gorm.DB, id string) (bool, error) {
	var count int64
	if err := tx.Model(&pendingAttachment{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := tx.Model(&fieldAttachment{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetAttachment 依次在草稿表和字段表中查找
func (s *CompatStore) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	db := s.db.WithContext(ctx)

	var pending pendingAttachment
	err := db.Where("id = ?", id).First(&pending).Error
	if err == nil {
		att := pending.toDomain()
		return &att, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var field fieldAttachment
	err = db.Where("id = ?", id).First(&field).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	att := field.toDomain()
	return &att, nil
}

// ListDraftAttachments 返回草稿下的附件（插入顺序）
func (s *CompatStore) ListDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	var rows []pendingAttachment
	err := s.db.WithContext(ctx).Where("draft_id = ?", draftID).Order("seq, created_at, id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return pendingToDomain(rows), nil
}

// ListOwnerAttachments 返回记录字段下的附件（插入顺序）
func (s *CompatStore) ListOwnerAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error) {
	query := s.db.WithContext(ctx).
		Where("attachable_type = ? AND attachable_id = ?", owner.Type, owner.ID)
	if fieldKey != "" {
		query = query.Where("field = ?", fieldKey)
	}

	var rows []fieldAttachment
	if err := query.Order("seq, created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fieldToDomain(rows), nil
}

// ReassignOwner 锁定草稿行，写入字段表并删除草稿行，全部在同一事务内完成
func (s *CompatStore) ReassignOwner(ctx context.Context, draftID string, owner domain.OwnerRef) (int, error) {
	moved := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []pendingAttachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("draft_id = ?", draftID).
			Order("seq, created_at, id").
			Find(&pending).Error
		if err != nil || len(pending) == 0 {
			return err
		}

		now := tx.NowFunc()
		rows := make([]fieldAttachment, 0, len(pending))
		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			attachedAt := now
			rows = append(rows, fieldAttachment{
				ID:             p.ID,
				Seq:            p.Seq,
				AttachableType: owner.Type,
				AttachableID:   owner.ID,
				Field:          p.FieldKey,
				Disk:           p.Disk,
				Path:           p.Path,
				OriginalName:   p.OriginalName,
				ContentType:    p.ContentType,
				Size:           p.Size,
				Disposition:    domain.DispositionAttached,
				CreatedAt:      p.CreatedAt,
				UpdatedAt:      now,
				AttachedAt:     &attachedAt,
			})
			ids = append(ids, p.ID)
		}

		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&pendingAttachment{})
		if result.Error != nil {
			return result.Error
		}
		if int(result.RowsAffected) != len(ids) {
			return fmt.Errorf("pending rows changed during reassignment: want %d, deleted %d", len(ids), result.RowsAffected)
		}
		moved = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// ReconcileOwner 根据引用集合在事务中切换 attached/orphaned 状态
func (s *CompatStore) ReconcileOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef, referenced map[string]struct{}) ([]domain.Attachment, error) {
	orphaned := make([]domain.Attachment, 0)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []fieldAttachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("attachable_type = ? AND attachable_id = ? AND field = ?", owner.Type, owner.ID, fieldKey).
			Order("seq, created_at, id").
			Find(&rows).Error
		if err != nil {
			return err
		}

		now := tx.NowFunc()
		var toOrphan, toRestore []string
		for i := range rows {
			_, isReferenced := referenced[rows[i].ID]
			switch {
			case isReferenced && rows[i].Disposition == domain.DispositionOrphaned:
				toRestore = append(toRestore, rows[i].ID)
			case !isReferenced && rows[i].Disposition == domain.DispositionAttached:
				toOrphan = append(toOrphan, rows[i].ID)
				rows[i].Disposition = domain.DispositionOrphaned
				rows[i].OrphanedAt = &now
				rows[i].UpdatedAt = now
				orphaned = append(orphaned, rows[i].toDomain())
			}
		}

		if len(toOrphan) > 0 {
			err := tx.Model(&fieldAttachment{}).Where("id IN ?", toOrphan).
				Updates(map[string]interface{}{
					"disposition": domain.DispositionOrphaned,
					"orphaned_at": now,
					"updated_at":  now,
				}).Error
			if err != nil {
				return err
			}
		}
		if len(toRestore) > 0 {
			return tx.Model(&fieldAttachment{}).Where("id IN ?", toRestore).
				Updates(map[string]interface{}{
					"disposition": domain.DispositionAttached,
					"orphaned_at": nil,
					"updated_at":  now,
				}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

// DeleteAttachment 删除单条附件记录
func (s *CompatStore) DeleteAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	removed, err := s.DeleteAttachments(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, domain.ErrNotFound
	}
	return &removed[0], nil
}

// DeleteAttachments 批量删除附件记录，不存在的 ID 被忽略
func (s *CompatStore) DeleteAttachments(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	removed := make([]domain.Attachment, 0, len(ids))
	if len(ids) == 0 {
		return removed, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []pendingAttachment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&pending).Error; err != nil {
			return err
		}
		var fields []fieldAttachment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id IN ?", ids).Find(&fields).Error; err != nil {
			return err
		}

		if len(pending) > 0 {
			if err := tx.Where("id IN ?", pendingIDs(pending)).Delete(&pendingAttachment{}).Error; err != nil {
				return err
			}
		}
		if len(fields) > 0 {
			if err := tx.Where("id IN ?", fieldIDs(fields)).Delete(&fieldAttachment{}).Error; err != nil {
				return err
			}
		}

		removed = append(removed, pendingToDomain(pending)...)
		removed = append(removed, fieldToDomain(fields)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBySeq(removed)
	return removed, nil
}

// DeleteOrphaned 锁定字段表中的行并复核状态，只删除仍为 orphaned 的附件
func (s *CompatStore) DeleteOrphaned(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	removed := make([]domain.Attachment, 0, len(ids))
	if len(ids) == 0 {
		return removed, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fields []fieldAttachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ? AND disposition = ?", ids, domain.DispositionOrphaned).
			Order("seq, created_at, id").
			Find(&fields).Error
		if err != nil || len(fields) == 0 {
			return err
		}
		if err := tx.Where("id IN ?", fieldIDs(fields)).Delete(&fieldAttachment{}).Error; err != nil {
			return err
		}
		removed = fieldToDomain(fields)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteDraftAttachments 删除草稿下所有附件
func (s *CompatStore) DeleteDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	removed := make([]domain.Attachment, 0)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []pendingAttachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("draft_id = ?", draftID).
			Order("seq, created_at, id").
			Find(&pending).Error
		if err != nil || len(pending) == 0 {
			return err
		}
		if err := tx.Where("id IN ?", pendingIDs(pending)).Delete(&pendingAttachment{}).Error; err != nil {
			return err
		}
		removed = pendingToDomain(pending)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListStaleDrafts 返回最新上传早于 before 的草稿
func (s *CompatStore) ListStaleDrafts(ctx context.Context, before time.Time) ([]string, error) {
	var drafts []string
	err := s.db.WithContext(ctx).Model(&pendingAttachment{}).
		Group("draft_id").
		Having("MAX(created_at) < ?", before).
		Pluck("draft_id", &drafts).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(drafts)
	return drafts, nil
}

// ListOrphaned 返回早于 before 的 orphaned 附件
func (s *CompatStore) ListOrphaned(ctx context.Context, before time.Time, limit int) ([]domain.Attachment, error) {
	query := s.db.WithContext(ctx).
		Where("disposition = ? AND orphaned_at < ?", domain.DispositionOrphaned, before).
		Order("orphaned_at, seq, id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []fieldAttachment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fieldToDomain(rows), nil
}

// Health 检查数据库连接
func (s *CompatStore) Health(ctx context.Context) error {
	return ping(ctx, s.db)
}

// Close 关闭数据库连接
func (s *CompatStore) Close() error {
	return closeDB(s.db)
}

func pendingToDomain(rows []pendingAttachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func fieldToDomain(rows []fieldAttachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func pendingIDs(rows []pendingAttachment) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func fieldIDs(rows []fieldAttachment) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func sortBySeq(list []domain.Attachment) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Seq != list[j].Seq {
			return list[i].Seq < list[j].Seq
		}
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
