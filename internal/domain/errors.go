package domain

import "errors"

// 附件生命周期错误分类。
var (
	// ErrStorageWrite 文件写入存储卷失败，不会产生任何记录
	ErrStorageWrite = errors.New("storage write failed")
	// ErrNotFound 附件或草稿不存在
	ErrNotFound = errors.New("attachment not found")
	// ErrDuplicateID 附件标识冲突，调用方需重新生成后重试
	ErrDuplicateID = errors.New("duplicate attachment id")
	// ErrReassignFailure 草稿附件绑定事务未能提交
	ErrReassignFailure = errors.New("draft reassignment failed")
	// ErrMissingBlob 记录存在但文件已丢失
	ErrMissingBlob = errors.New("attachment blob missing")

	ErrInvalidDraftID = errors.New("invalid draft id")
	ErrInvalidOwner   = errors.New("invalid owner reference")
	ErrInvalidField   = errors.New("invalid field key")
	ErrUploadRejected = errors.New("upload rejected")
)
