package security

import (
	"regexp"
	"strings"
)

// ContentFilter 检查可被浏览器直接渲染的上传文件（SVG、HTML、纯文本）
// 中是否包含脚本等主动内容。
type ContentFilter struct {
	maliciousPatterns []*regexp.Regexp

	// 需要检查的文件扩展名
	extensions map[string]bool
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		maliciousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<script[\s>/]`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)\son[a-z]+\s*=`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			regexp.MustCompile(`(?i)<object[^>]*>`),
			regexp.MustCompile(`(?i)<embed[^>]*>`),
			regexp.MustCompile(`(?i)<foreignObject[^>]*>`),
		},
		extensions: map[string]bool{
			".svg":  true,
			".html": true,
			".htm":  true,
			".xml":  true,
		},
	}
}

// Applies 判断该类型或扩展名的文件是否需要检查
func (cf *ContentFilter) Applies(mediaType, ext string) bool {
	if cf.extensions[ext] {
		return true
	}
	return strings.HasPrefix(mediaType, "text/") || strings.Contains(mediaType, "svg") || strings.Contains(mediaType, "xml")
}

// Check 检查内容，返回是否恶意及原因
func (cf *ContentFilter) Check(content []byte) (bool, string) {
	for _, pattern := range cf.maliciousPatterns {
		if pattern.Match(content) {
			return true, "active content detected: " + pattern.String()
		}
	}
	return false, ""
}
