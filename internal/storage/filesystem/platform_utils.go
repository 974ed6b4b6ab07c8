package filesystem

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// maxNameLength 单个文件名的最大字节数
const maxNameLength = 200

// SanitizeFilename 清理上传文件名，确保跨平台兼容
func SanitizeFilename(filename string) string {
	// 1. 移除路径部分（同时处理 / 与 \）
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = path.Base(filename)

	// 2. 替换不允许的字符
	for _, char := range invalidChars() {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	// 3. 移除控制字符，空白统一为下划线
	filename = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsSpace(r):
			return '_'
		}
		return r
	}, filename)

	// 4. 限制长度并移除前后的点
	filename = strings.Trim(limitLength(filename, maxNameLength), " .")

	if filename == "" || filename == "_" {
		filename = "unnamed"
	}
	return filename
}

// invalidChars 返回文件名中需要替换的字符
func invalidChars() []string {
	if runtime.GOOS == "windows" {
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
	// URL 中有特殊含义的字符同样替换，便于直接作为链接的一部分
	return []string{"/", "\x00", "?", "#", "%", "\"", "<", ">", "\\"}
}

// limitLength 限制字符串长度，保留扩展名
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	if len(ext) >= maxLen {
		ext = ""
	}
	name := strings.TrimSuffix(s, ext)
	available := maxLen - len(ext)

	// 按 rune 截断，避免切断多字节字符
	cut := 0
	for i := range name {
		if i > available {
			break
		}
		cut = i
	}
	if len(name) <= available {
		cut = len(name)
	}
	return name[:cut] + ext
}

// ValidatePath 验证存储路径是否为安全的相对路径
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if len(p) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(p))
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains NUL byte")
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return fmt.Errorf("absolute path not allowed: %s", p)
	}
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", p)
		}
	}
	return nil
}
