package security

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"draftfiles/backend/internal/domain"
)

// UploadPolicy 上传文件安全策略
type UploadPolicy struct {
	// 最大文件大小（字节）
	maxFileSize int64

	// 允许的 MIME 类型，以 "/" 结尾的条目按前缀匹配
	allowedTypes []string

	// 危险文件扩展名
	dangerousExtensions map[string]bool

	filter *ContentFilter
}

// NewUploadPolicy 创建上传策略
func NewUploadPolicy(maxFileSize int64, allowedTypes []string) *UploadPolicy {
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024 // 10MB
	}
	types := make([]string, 0, len(allowedTypes))
	for _, t := range allowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}

	return &UploadPolicy{
		maxFileSize:  maxFileSize,
		allowedTypes: types,
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".php": true,
			".asp": true,
			".jsp": true,
			".sh":  true,
			".msi": true,
		},
		filter: NewContentFilter(),
	}
}

// MaxFileSize 返回单个文件的大小上限
func (p *UploadPolicy) MaxFileSize() int64 {
	return p.maxFileSize
}

// Check 检查上传文件，返回最终采用的 MIME 类型
//
// 客户端未提供类型或提供 application/octet-stream 时按内容嗅探。
// 拒绝时返回包装了 domain.ErrUploadRejected 的错误。
func (p *UploadPolicy) Check(filename, contentType string, content []byte) (string, error) {
	if len(content) == 0 {
		return "", reject("empty file")
	}
	if int64(len(content)) > p.maxFileSize {
		return "", reject("file too large: %d bytes exceeds %d", len(content), p.maxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if p.dangerousExtensions[ext] {
		return "", reject("dangerous file extension: %s", ext)
	}

	mediaType, err := p.resolveType(contentType, content)
	if err != nil {
		return "", err
	}
	if !p.allowed(mediaType) {
		return "", reject("disallowed MIME type: %s", mediaType)
	}

	if isExecutable(content) {
		return "", reject("executable file detected")
	}
	if p.filter.Applies(mediaType, ext) {
		if malicious, reason := p.filter.Check(content); malicious {
			return "", reject("%s", reason)
		}
	}
	return mediaType, nil
}

// resolveType 解析客户端提供的类型，必要时嗅探内容
func (p *UploadPolicy) resolveType(contentType string, content []byte) (string, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(content)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", reject("invalid MIME type: %s", contentType)
	}
	return strings.ToLower(mediaType), nil
}

func (p *UploadPolicy) allowed(mediaType string) bool {
	if len(p.allowedTypes) == 0 {
		return true
	}
	for _, t := range p.allowedTypes {
		if strings.HasSuffix(t, "/") && strings.HasPrefix(mediaType, t) {
			return true
		}
		if t == mediaType {
			return true
		}
	}
	return false
}

// isExecutable 检查可执行文件魔数
func isExecutable(header []byte) bool {
	executableSignatures := [][]byte{
		{0x4D, 0x5A},             // PE executable
		{0x7F, 0x45, 0x4C, 0x46}, // ELF executable
		{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O executable
		{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O executable (reverse)
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig) {
			return true
		}
	}
	return false
}

func reject(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{domain.ErrUploadRejected}, args...)...)
}
