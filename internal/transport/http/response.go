package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"draftfiles/backend/internal/domain"
)

// Response 统一响应结构
type Response struct {
	Code     int         `json:"code"`               // 业务状态码，与 HTTP 状态码一致
	Msg      string      `json:"msg"`                // 中文提示信息
	Data     interface{} `json:"data,omitempty"`     // 数据载荷
	Warnings []string    `json:"warnings,omitempty"` // 操作成功但部分步骤降级
}

// UploadResponse 上传成功的响应
//
// 富文本编辑器直接读取顶层的 link 字段插入图片，因此不使用统一响应结构。
type UploadResponse struct {
	Link  string `json:"link"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	Thumb string `json:"thumb,omitempty"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
}

func newUploadResponse(view domain.AttachmentView) UploadResponse {
	return UploadResponse{
		Link:  view.URL,
		ID:    view.ID,
		Name:  view.Name,
		Thumb: view.Thumb,
		Type:  view.ContentType,
		Size:  view.Size,
	}
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Msg:  "成功",
		Data: data,
	})
}

// Degraded 主操作成功、附属步骤失败时的响应（200）
func Degraded(c *gin.Context, msg string, data interface{}, warnings []string) {
	c.JSON(http.StatusOK, Response{
		Code:     http.StatusOK,
		Msg:      msg,
		Data:     data,
		Warnings: warnings,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// Error 通用错误响应
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
	})
}
