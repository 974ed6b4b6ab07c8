package httptransport

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/middleware"
	"draftfiles/backend/internal/service"
)

// AttachmentHandler 附件生命周期接口
type AttachmentHandler struct {
	lifecycle     service.Lifecycle
	maxUploadSize int64
	logger        *zap.Logger
}

// NewAttachmentHandler 创建附件处理器
func NewAttachmentHandler(lifecycle service.Lifecycle, maxUploadSize int64, logger *zap.Logger) *AttachmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentHandler{
		lifecycle:     lifecycle,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// beginDraft 为新表单生成草稿标识
func (h *AttachmentHandler) beginDraft(c *gin.Context) {
	Created(c, gin.H{"draftId": h.lifecycle.BeginDraft()})
}

// upload 上传附件到草稿，响应格式兼容富文本编辑器的上传回调
func (h *AttachmentHandler) upload(c *gin.Context) {
	draftID := c.PostForm("draftId")
	if draftID == "" {
		draftID = c.GetHeader("X-Draft-Id")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			BadRequest(c, MsgFileRequired)
			return
		}
		if middleware.IsBodyTooLarge(err) {
			Error(c, http.StatusRequestEntityTooLarge, MsgFileTooLarge)
			return
		}
		respondError(c, fmt.Errorf("%w: %v", domain.ErrUploadRejected, err))
		return
	}
	if h.maxUploadSize > 0 && fileHeader.Size > h.maxUploadSize {
		Error(c, http.StatusRequestEntityTooLarge, MsgFileTooLarge)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondError(c, err)
		return
	}

	att, err := h.lifecycle.Store(c.Request.Context(), service.StoreInput{
		DraftID:     draftID,
		FieldKey:    c.Param("field"),
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUploadResponse(h.lifecycle.View(att)))
}

// detach 删除单个附件，附件不存在时同样返回成功
func (h *AttachmentHandler) detach(c *gin.Context) {
	att, err := h.lifecycle.Detach(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"deleted": att != nil})
}

type detachSourceRequest struct {
	Src string `json:"src" binding:"required"`
}

// detachSource 根据编辑器中的链接删除附件
func (h *AttachmentHandler) detachSource(c *gin.Context) {
	var req detachSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	att, err := h.lifecycle.DetachSource(c.Request.Context(), c.Param("field"), req.Src)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"deleted": att != nil}
	if att != nil {
		resp["id"] = att.ID
	}
	Success(c, resp)
}

// discardDraft 丢弃草稿中的附件，非法或未知的草稿标识返回 deleted=0
func (h *AttachmentHandler) discardDraft(c *gin.Context) {
	removed, err := h.lifecycle.DiscardDraft(c.Request.Context(), c.Param("draftId"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"deleted": len(removed)})
}

// listDraft 列出草稿中尚未绑定的附件
func (h *AttachmentHandler) listDraft(c *gin.Context) {
	views, err := h.lifecycle.ListDraft(c.Request.Context(), c.Param("draftId"))
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, views)
}

type persistRequest struct {
	Field     string `json:"field" binding:"required"`
	OwnerType string `json:"ownerType" binding:"required"`
	OwnerID   string `json:"ownerId" binding:"required"`
	Body      string `json:"body"`
}

// persist 记录保存之后绑定草稿附件
//
// 绑定失败不影响记录本身的保存，返回 200 并附带警告。
func (h *AttachmentHandler) persist(c *gin.Context) {
	var req persistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			Error(c, http.StatusRequestEntityTooLarge, MsgFileTooLarge)
			return
		}
		BadRequest(c, MsgInvalidJSON)
		return
	}

	result, err := h.lifecycle.PersistDraft(c.Request.Context(), service.PersistInput{
		DraftID:  c.Param("draftId"),
		FieldKey: req.Field,
		Owner:    domain.OwnerRef{Type: req.OwnerType, ID: req.OwnerID},
		Body:     req.Body,
	})
	if err != nil {
		if errors.Is(err, domain.ErrReassignFailure) && result != nil {
			h.logger.Warn("degraded save", zap.String("draft_id", c.Param("draftId")), zap.Error(err))
			Degraded(c, MsgDegradedSave, result, result.Warnings)
			return
		}
		respondError(c, err)
		return
	}
	if len(result.Warnings) > 0 {
		Degraded(c, MsgPartialCleanup, result, result.Warnings)
		return
	}
	Success(c, result)
}

// deleteOwner 记录被删除时清理其附件
func (h *AttachmentHandler) deleteOwner(c *gin.Context) {
	owner := domain.OwnerRef{Type: c.Param("type"), ID: c.Param("id")}
	removed, err := h.lifecycle.DeleteOwner(c.Request.Context(), c.Query("field"), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{"deleted": len(removed)})
}

// list 列出记录某个字段下的附件
func (h *AttachmentHandler) list(c *gin.Context) {
	owner := domain.OwnerRef{Type: c.Param("type"), ID: c.Param("id")}
	views, err := h.lifecycle.ListAttachments(c.Request.Context(), c.Param("field"), owner)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, views)
}

// serve 输出附件内容
func (h *AttachmentHandler) serve(c *gin.Context) {
	att, content, err := h.lifecycle.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, msg := GetErrorMessage(err)
		if status == http.StatusNotFound {
			NotFound(c, msg)
			return
		}
		respondError(c, err)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := "inline"
	if !isInlineType(contentType) {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": att.OriginalName}))
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, contentType, content)
}

// isInlineType 图片、音视频与 PDF 直接在浏览器中展示
func isInlineType(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "image/svg"):
		return false
	case strings.HasPrefix(contentType, "image/"),
		strings.HasPrefix(contentType, "video/"),
		strings.HasPrefix(contentType, "audio/"),
		contentType == "application/pdf":
		return true
	}
	return false
}
