package domain

import (
	"fmt"
	"time"
)

// Disposition 表示附件的生命周期状态。
type Disposition string

const (
	DispositionPending  Disposition = "pending"  // 草稿中，尚未绑定记录
	DispositionAttached Disposition = "attached" // 已绑定到保存后的记录
	DispositionOrphaned Disposition = "orphaned" // 已绑定，但正文中不再引用
	DispositionDeleted  Disposition = "deleted"  // 记录与文件均已删除（终态）
)

// Attachment 表示富文本字段上传的一个文件。
//
// Seq 是写入时分配的单调序号，列表按它保持插入顺序。
// DraftID 与 OwnerType/OwnerID 互斥：草稿期间只有 DraftID，
// 持久化之后只有 Owner。
type Attachment struct {
	ID           string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Seq          int64       `json:"seq,omitempty" gorm:"not null;default:0;index"`
	FieldKey     string      `json:"fieldKey" gorm:"type:varchar(191);not null;index:idx_attachments_owner,priority:3"`
	DraftID      *string     `json:"draftId,omitempty" gorm:"type:varchar(36);index"`
	OwnerType    *string     `json:"ownerType,omitempty" gorm:"type:varchar(191);index:idx_attachments_owner,priority:1"`
	OwnerID      *string     `json:"ownerId,omitempty" gorm:"type:varchar(191);index:idx_attachments_owner,priority:2"`
	Disk         string      `json:"disk" gorm:"type:varchar(64);not null"`
	StoragePath  string      `json:"storagePath" gorm:"type:varchar(500);not null"`
	OriginalName string      `json:"originalName" gorm:"type:varchar(255)"`
	ContentType  string      `json:"contentType" gorm:"type:varchar(100)"`
	Size         int64       `json:"size"`
	Disposition  Disposition `json:"disposition" gorm:"type:varchar(16);not null;index"`
	CreatedAt    time.Time   `json:"createdAt" gorm:"index"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	AttachedAt   *time.Time  `json:"attachedAt,omitempty"`
	OrphanedAt   *time.Time  `json:"orphanedAt,omitempty"`
}

// TableName 指定 GORM 表名
func (Attachment) TableName() string {
	return "draft_attachments"
}

// Owner 返回附件绑定的记录引用，未绑定时 ok 为 false。
func (a *Attachment) Owner() (OwnerRef, bool) {
	if a.OwnerType == nil || a.OwnerID == nil {
		return OwnerRef{}, false
	}
	return OwnerRef{Type: *a.OwnerType, ID: *a.OwnerID}, true
}

// SetOwner 绑定记录并清除草稿标识。
func (a *Attachment) SetOwner(owner OwnerRef, at time.Time) {
	ownerType, ownerID := owner.Type, owner.ID
	a.OwnerType = &ownerType
	a.OwnerID = &ownerID
	a.DraftID = nil
	a.Disposition = DispositionAttached
	a.AttachedAt = &at
	a.UpdatedAt = at
}

// InDraft 判断附件是否仍属于草稿会话
func (a *Attachment) InDraft() bool {
	return a.DraftID != nil && *a.DraftID != ""
}

// CheckBinding 校验草稿标识与记录引用恰好有一个非空。
func (a *Attachment) CheckBinding() error {
	_, owned := a.Owner()
	switch {
	case a.InDraft() && owned:
		return fmt.Errorf("attachment %s: bound to both draft and owner", a.ID)
	case !a.InDraft() && !owned:
		return fmt.Errorf("attachment %s: bound to neither draft nor owner", a.ID)
	}
	return nil
}

// Clone 返回一份深拷贝，避免存储层与调用方共享指针字段。
func (a *Attachment) Clone() *Attachment {
	c := *a
	if a.DraftID != nil {
		v := *a.DraftID
		c.DraftID = &v
	}
	if a.OwnerType != nil {
		v := *a.OwnerType
		c.OwnerType = &v
	}
	if a.OwnerID != nil {
		v := *a.OwnerID
		c.OwnerID = &v
	}
	if a.AttachedAt != nil {
		v := *a.AttachedAt
		c.AttachedAt = &v
	}
	if a.OrphanedAt != nil {
		v := *a.OrphanedAt
		c.OrphanedAt = &v
	}
	return &c
}

// AttachmentView 是提供给编辑器图片管理器的列表项。
type AttachmentView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Thumb       string `json:"thumb"`
	ContentType string `json:"type"`
	Size        int64  `json:"size"`
}
