package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/logger"
	"draftfiles/backend/internal/storage/filesystem"
)

// maxDisplayName 原始文件名的最大长度，与 original_name 列一致
const maxDisplayName = 255

// StoreInput 上传附件所需的输入
type StoreInput struct {
	DraftID     string
	FieldKey    string
	Filename    string
	ContentType string
	Content     []byte
}

// Store 保存上传到草稿中的附件
//
// 先写文件再插入记录；写入失败时返回 domain.ErrStorageWrite 且不会留下记录。
func (m *Manager) Store(ctx context.Context, in StoreInput) (att *domain.Attachment, err error) {
	started := time.Now()
	defer func() { m.metrics.RecordOperation("store", started, err) }()

	if err := domain.ValidateDraftID(in.DraftID); err != nil {
		return nil, err
	}
	if err := domain.ValidateFieldKey(in.FieldKey); err != nil {
		return nil, err
	}

	contentType, err := m.policy.Check(in.Filename, in.ContentType, in.Content)
	if err != nil {
		m.log.Info("upload rejected",
			zap.String("draft_id", in.DraftID),
			zap.String("field_key", in.FieldKey),
			zap.String("filename", in.Filename),
			zap.Error(err))
		return nil, err
	}

	safeName := filesystem.SanitizeFilename(in.Filename)
	displayName := displayName(in.Filename, safeName)

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id := m.newID()
		now := m.now()

		// 预先排除已存在的标识，避免覆盖他人的文件
		if _, err := m.repo.GetAttachment(ctx, id); err == nil {
			m.log.Warn("attachment id collision, regenerating", zap.String("attachment_id", id), zap.Int("attempt", attempt))
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("check attachment id: %w", err)
		}

		storagePath := StoragePath(in.FieldKey, now, id, safeName)
		if err := m.blobs.Put(ctx, storagePath, in.Content); err != nil {
			m.metrics.RecordError("storage_write", "lifecycle")
			m.log.Error("failed to write attachment bytes",
				zap.String("draft_id", in.DraftID),
				zap.String("path", storagePath),
				zap.Error(err))
			if !errors.Is(err, domain.ErrStorageWrite) {
				err = fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
			}
			return nil, err
		}

		att = &domain.Attachment{
			ID:           id,
			FieldKey:     in.FieldKey,
			Disk:         m.blobs.Disk(),
			StoragePath:  storagePath,
			OriginalName: displayName,
			ContentType:  contentType,
			Size:         int64(len(in.Content)),
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err := m.registry.Register(ctx, in.DraftID, att)
		if err == nil {
			m.metrics.RecordStored(in.FieldKey, att.Size)
			m.log.Info("attachment stored", append(logger.Attachment(att), zap.Int64("size", att.Size))...)
			return att, nil
		}

		// 插入失败，清理刚写入的文件
		m.discardWritten(ctx, att)
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, fmt.Errorf("register attachment: %w", err)
		}
		m.log.Warn("attachment id collision on insert, retrying", zap.String("attachment_id", id), zap.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("%w: gave up after %d attempts", domain.ErrDuplicateID, maxIDAttempts)
}

// discardWritten 删除插入失败的附件文件
//
// 并发插入同一标识时路径可能与已有记录相同，此时保留文件。
func (m *Manager) discardWritten(ctx context.Context, att *domain.Attachment) {
	if existing, err := m.repo.GetAttachment(ctx, att.ID); err == nil && existing.StoragePath == att.StoragePath {
		return
	}
	m.removeBlob(ctx, att)
}

// Open 读取附件记录与文件内容
//
// 记录存在但文件丢失时返回 domain.ErrMissingBlob。
func (m *Manager) Open(ctx context.Context, id string) (*domain.Attachment, []byte, error) {
	if !domain.IsCanonicalUUID(id) {
		return nil, nil, domain.ErrNotFound
	}

	att, err := m.repo.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	content, err := m.blobs.Get(ctx, att.StoragePath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.metrics.RecordError("missing_blob", "lifecycle")
			m.log.Warn("attachment bytes missing", append(logger.Attachment(att), zap.String("path", att.StoragePath))...)
			return att, nil, fmt.Errorf("%w: %s", domain.ErrMissingBlob, att.ID)
		}
		return att, nil, fmt.Errorf("read attachment bytes: %w", err)
	}
	return att, content, nil
}

// ListAttachments 列出记录某个字段下的附件，fieldKey 为空时列出全部字段
func (m *Manager) ListAttachments(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.AttachmentView, error) {
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
	return m.views(rows), nil
}

// ListDraft 列出草稿中尚未绑定的附件
func (m *Manager) ListDraft(ctx context.Context, draftID string) ([]domain.AttachmentView, error) {
	if err := domain.ValidateDraftID(draftID); err != nil {
		return nil, err
	}

	rows, err := m.repo.ListDraftAttachments(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("list draft %s: %w", draftID, err)
	}
	return m.views(rows), nil
}

// View 生成附件的展示信息
func (m *Manager) View(att *domain.Attachment) domain.AttachmentView {
	link := m.scanner.URLFor(att.ID, path.Base(att.StoragePath))
	view := domain.AttachmentView{
		ID:          att.ID,
		Name:        att.OriginalName,
		URL:         link,
		ContentType: att.ContentType,
		Size:        att.Size,
	}
	if strings.HasPrefix(att.ContentType, "image/") {
		view.Thumb = link
	}
	return view
}

func (m *Manager) views(rows []domain.Attachment) []domain.AttachmentView {
	views := make([]domain.AttachmentView, 0, len(rows))
	for i := range rows {
		views = append(views, m.View(&rows[i]))
	}
	return views
}

// StoragePath 生成附件的存储路径：{field}/{yyyy}/{mm}/{id}/{name}
func StoragePath(fieldKey string, at time.Time, id, safeName string) string {
	return path.Join(fieldKey, at.Format("2006"), at.Format("01"), id, safeName)
}

// displayName 返回用于展示的原始文件名
func displayName(filename, fallback string) string {
	name := strings.TrimSpace(strings.ReplaceAll(filename, "\\", "/"))
	name = path.Base(name)
	if name == "" || name == "." || name == "/" || !utf8.ValidString(name) {
		return fallback
	}
	for len(name) > maxDisplayName {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
