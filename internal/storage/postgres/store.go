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

// Store 基于 GORM 的附件记录存储（单表结构）
//
// 支持 PostgreSQL、MySQL 与 SQLite，表名为 draft_attachments。
type Store struct {
	db  *gorm.DB
	seq *sequence
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(PostgresDialector(dsn), DefaultOptions())
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(MySQLDialector(dsn), DefaultOptions())
}

// NewSQLiteStore 创建 SQLite 存储实例，适合单机部署
func NewSQLiteStore(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return NewStoreWithDialector(SQLiteDialector(path), SQLiteOptions())
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	db, err := Open(dialector, opts)
	if err != nil {
		return nil, err
	}
	store, err := NewStoreFromDB(db)
	if err != nil {
		_ = closeDB(db)
		return nil, err
	}
	return store, nil
}

// NewStoreFromDB 复用已打开的连接并迁移表结构
func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	store := &Store{db: db, seq: newSequence()}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&domain.Attachment{})
}

// DB 返回底层 GORM 实例
func (s *Store) DB() *gorm.DB {
	return s.db
}

// InsertAttachment 插入附件记录
func (s *Store) InsertAttachment(ctx context.Context, att *domain.Attachment) error {
	if err := att.CheckBinding(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Attachment{}).Where("id = ?", att.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, att.ID)
		}
		att.Seq = s.seq.next()
		return translateError(tx.Create(att).Error, att.ID)
	})
}

// GetAttachment 根据 ID 获取附件
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var att domain.Attachment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&att).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &att, nil
}

// ListDraftAttachments 返回草稿下的附件（插入顺序）
func (s *Store) ListDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	var list []domain.Attachment
	err := s.db.WithContext(ctx).
		Where("draft_id = ?", draftID).
		Order("seq, created_at, id").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListOwnerAttachments 返回记录字段下的附件（插入顺序）
func (s *Store) ListOwnerAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, error) {
	query := s.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID)
	if fieldKey != "" {
		query = query.Where("field_key = ?", fieldKey)
	}

	var list []domain.Attachment
	if err := query.Order("seq, created_at, id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ReassignOwner 在单个事务中将草稿附件绑定到记录
func (s *Store) ReassignOwner(ctx context.Context, draftID string, owner domain.OwnerRef) (int, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := tx.NowFunc()
		result := tx.Model(&domain.Attachment{}).
			Where("draft_id = ?", draftID).
			Updates(map[string]interface{}{
				"draft_id":    nil,
				"owner_type":  owner.Type,
				"owner_id":    owner.ID,
				"disposition": domain.DispositionAttached,
				"attached_at": now,
				"updated_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// ReconcileOwner 根据引用集合在事务中切换 attached/orphaned 状态
func (s *Store) ReconcileOwner(ctx context.Context, fieldKey string, owner domain.OwnerRef, referenced map[string]struct{}) ([]domain.Attachment, error) {
	var orphaned []domain.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.Attachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner_type = ? AND owner_id = ? AND field_key = ?", owner.Type, owner.ID, fieldKey).
			Where("disposition IN ?", []domain.Disposition{domain.DispositionAttached, domain.DispositionOrphaned}).
			Order("seq, created_at, id").
			Find(&rows).Error
		if err != nil {
			return err
		}

		now := tx.NowFunc()
		var toOrphan, toRestore []string
		orphaned = make([]domain.Attachment, 0)
		for i := range rows {
			_, isReferenced := referenced[rows[i].ID]
			switch {
			case isReferenced && rows[i].Disposition == domain.DispositionOrphaned:
				toRestore = append(toRestore, rows[i].ID)
			case !isReferenced && rows[i].Disposition == domain.DispositionAttached:
				toOrphan = append(toOrphan, rows[i].ID)
				row := rows[i]
				row.Disposition = domain.DispositionOrphaned
				row.OrphanedAt = &now
				row.UpdatedAt = now
				orphaned = append(orphaned, row)
			}
		}

		if len(toOrphan) > 0 {
			err := tx.Model(&domain.Attachment{}).Where("id IN ?", toOrphan).
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
			err := tx.Model(&domain.Attachment{}).Where("id IN ?", toRestore).
				Updates(map[string]interface{}{
					"disposition": domain.DispositionAttached,
					"orphaned_at": nil,
					"updated_at":  now,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

// DeleteAttachment 删除单条附件记录
func (s *Store) DeleteAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var att domain.Attachment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&att).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.Attachment{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &att, nil
}

// DeleteAttachments 批量删除附件记录，不存在的 ID 被忽略
func (s *Store) DeleteAttachments(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	if len(ids) == 0 {
		return []domain.Attachment{}, nil
	}
	return s.deleteWhere(ctx, "id IN ?", ids)
}

// DeleteOrphaned 锁定后复核状态，只删除仍为 orphaned 的附件
func (s *Store) DeleteOrphaned(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	if len(ids) == 0 {
		return []domain.Attachment{}, nil
	}
	return s.deleteWhere(ctx, "id IN ? AND disposition = ?", ids, domain.DispositionOrphaned)
}

// DeleteDraftAttachments 删除草稿下所有 pending 附件
func (s *Store) DeleteDraftAttachments(ctx context.Context, draftID string) ([]domain.Attachment, error) {
	return s.deleteWhere(ctx, "draft_id = ? AND disposition = ?", draftID, domain.DispositionPending)
}

// deleteWhere 在事务中锁定并删除匹配的记录，返回被删除的行
func (s *Store) deleteWhere(ctx context.Context, query string, args ...interface{}) ([]domain.Attachment, error) {
	removed := make([]domain.Attachment, 0)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []domain.Attachment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(query, args...).
			Order("seq, created_at, id").
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		removed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// ListStaleDrafts 返回最新上传早于 before 的草稿
func (s *Store) ListStaleDrafts(ctx context.Context, before time.Time) ([]string, error) {
	var drafts []string
	err := s.db.WithContext(ctx).Model(&domain.Attachment{}).
		Where("draft_id IS NOT NULL").
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
func (s *Store) ListOrphaned(ctx context.Context, before time.Time, limit int) ([]domain.Attachment, error) {
	query := s.db.WithContext(ctx).
		Where("disposition = ? AND orphaned_at < ?", domain.DispositionOrphaned, before).
		Order("orphaned_at, seq, id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var list []domain.Attachment
	if err := query.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	return ping(ctx, s.db)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return closeDB(s.db)
}
