package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/middleware"
)

// errorMapping 业务错误到 HTTP 状态码与中文消息的映射
type errorMapping struct {
	err    error
	status int
	msg    string
}

// errorMappings 按顺序匹配，errors.Is 命中第一条即返回
var errorMappings = []errorMapping{
	{domain.ErrInvalidDraftID, http.StatusBadRequest, "草稿标识无效"},
	{domain.ErrInvalidOwner, http.StatusBadRequest, "记录引用无效"},
	{domain.ErrInvalidField, http.StatusBadRequest, "字段名称无效"},
	{domain.ErrUploadRejected, http.StatusUnprocessableEntity, "文件未通过安全检查"},
	{domain.ErrNotFound, http.StatusNotFound, MsgAttachmentNotFound},
	{domain.ErrMissingBlob, http.StatusNotFound, "附件文件已丢失"},
	{domain.ErrDuplicateID, http.StatusConflict, "附件标识冲突，请重试"},
	{domain.ErrStorageWrite, http.StatusInternalServerError, "文件写入失败"},
	{domain.ErrReassignFailure, http.StatusInternalServerError, "附件绑定失败"},
}

// 通用错误消息
const (
	MsgInvalidRequest     = "请求参数格式错误"
	MsgInvalidJSON        = "JSON格式错误"
	MsgFileRequired       = "缺少上传文件"
	MsgFileTooLarge       = "文件超过大小限制"
	MsgAttachmentNotFound = "附件不存在"
	MsgInternalError      = "服务器内部错误"
	MsgDegradedSave       = "记录已保存，但附件绑定失败"
	MsgPartialCleanup     = "记录已保存，部分附件未能核对或清理"
)

// GetErrorMessage 获取错误的状态码与中文消息
func GetErrorMessage(err error) (int, string) {
	if middleware.IsBodyTooLarge(err) {
		return http.StatusRequestEntityTooLarge, MsgFileTooLarge
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// respondError 写入错误响应，客户端错误附带具体原因
func respondError(c *gin.Context, err error) {
	status, msg := GetErrorMessage(err)
	_ = c.Error(err)
	if status < http.StatusInternalServerError && status != http.StatusNotFound {
		msg = msg + ": " + err.Error()
	}
	Error(c, status, msg)
}
