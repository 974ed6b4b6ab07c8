// Package scanner 从已保存的富文本正文中提取附件引用。
//
// 只有路径以附件前缀开头、紧跟规范 UUID 的链接才算引用，
// 与上传时生成的链接格式一一对应；形状相似的其他链接会被忽略。
package scanner

import (
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"draftfiles/backend/internal/domain"
)

const uuidPattern = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`

// urlAttrs 直接保存链接的属性
var urlAttrs = map[string]bool{
	"src":      true,
	"href":     true,
	"data-src": true,
	"poster":   true,
}

// Scanner 附件引用扫描器
type Scanner struct {
	origin  string // scheme://host，未配置站点地址时为空
	host    string
	prefix  string // 包含站点路径的完整前缀，如 /app/files/
	textual *regexp.Regexp
}

// New 创建扫描器
//
// prefix 为附件访问路径前缀（如 "/files/"），baseURL 为可选的站点地址。
// 配置了 baseURL 时，绝对链接必须指向同一主机；未配置时只识别
// 不带主机的相对链接，任何带主机的绝对链接都不算引用。
func New(prefix, baseURL string) (*Scanner, error) {
	prefix = "/" + strings.Trim(prefix, "/") + "/"
	if prefix == "//" {
		return nil, fmt.Errorf("attachment url prefix must not be empty")
	}

	s := &Scanner{prefix: prefix}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid public base url: %q", baseURL)
		}
		s.origin = u.Scheme + "://" + u.Host
		s.host = strings.ToLower(u.Host)
		if base := strings.TrimRight(u.Path, "/"); base != "" {
			s.prefix = base + prefix
		}
	}

	// 前缀之前只能是文本边界或主机名，避免匹配 /docs/files/ 这类路径
	s.textual = regexp.MustCompile(`(?:^|[\s"'(=,\[]|//([^/\s"'<>]+))` +
		regexp.QuoteMeta(s.prefix) + `(` + uuidPattern + `)`)
	return s, nil
}

// MustNew 与 New 相同，参数非法时 panic
func MustNew(prefix, baseURL string) *Scanner {
	s, err := New(prefix, baseURL)
	if err != nil {
		panic(err)
	}
	return s
}

// Prefix 返回完整的附件路径前缀
func (s *Scanner) Prefix() string {
	return s.prefix
}

// URLFor 生成附件的访问链接，扫描器能够识别它生成的所有链接
func (s *Scanner) URLFor(id, name string) string {
	return s.origin + s.prefix + id + "/" + url.PathEscape(name)
}

// Scan 返回正文中引用的附件 ID 序列
//
// 序列是惰性的，可重复遍历，重复的 ID 只出现一次，顺序无意义。
// 正文无法解析时序列为空，需要区分错误时使用 Collect。
func (s *Scanner) Scan(body string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = s.walk(body, yield)
	}
}

// Collect 返回正文中引用的附件 ID 集合
func (s *Scanner) Collect(body string) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	err := s.walk(body, func(id string) bool {
		refs[id] = struct{}{}
		return true
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// IDFromURL 从单个链接中解析附件 ID
func (s *Scanner) IDFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https":
	default:
		return "", false
	}
	if u.Host != "" && !strings.EqualFold(u.Host, s.host) {
		return "", false
	}
	if !strings.HasPrefix(u.Path, s.prefix) {
		return "", false
	}

	rest := u.Path[len(s.prefix):]
	if len(rest) < 36 {
		return "", false
	}
	id := rest[:36]
	if len(rest) > 36 && rest[36] != '/' {
		return "", false
	}
	if !domain.IsCanonicalUUID(id) {
		return "", false
	}
	return id, true
}

// walk 遍历正文并对每个新发现的 ID 调用 yield，yield 返回 false 时停止
func (s *Scanner) walk(body string, yield func(string) bool) error {
	seen := make(map[string]struct{})
	emit := func(id string) bool {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
		return yield(id)
	}

	if !strings.Contains(body, "<") {
		s.scanText(body, emit)
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse body: %w", err)
	}

	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !s.scanAttrs(sel, emit) {
			return false
		}
		cont := true
		sel.Contents().EachWithBreak(func(_ int, child *goquery.Selection) bool {
			if goquery.NodeName(child) == "#text" {
				cont = s.scanText(child.Text(), emit)
			}
			return cont
		})
		return cont
	})
	return nil
}

// scanAttrs 检查元素的属性
func (s *Scanner) scanAttrs(sel *goquery.Selection, emit func(string) bool) bool {
	if len(sel.Nodes) == 0 {
		return true
	}
	for _, attr := range sel.Nodes[0].Attr {
		key := strings.ToLower(attr.Key)
		switch {
		case key == "data-attachment-id":
			if domain.IsCanonicalUUID(attr.Val) && !emit(attr.Val) {
				return false
			}
		case urlAttrs[key]:
			if id, ok := s.IDFromURL(attr.Val); ok && !emit(id) {
				return false
			}
		case key == "srcset":
			for _, candidate := range strings.Split(attr.Val, ",") {
				fields := strings.Fields(candidate)
				if len(fields) == 0 {
					continue
				}
				if id, ok := s.IDFromURL(fields[0]); ok && !emit(id) {
					return false
				}
			}
		default:
			// 其他属性（如 style、data-trix-attachment）按文本匹配
			if !s.scanText(attr.Val, emit) {
				return false
			}
		}
	}
	return true
}

// scanText 在纯文本中匹配附件链接
func (s *Scanner) scanText(text string, emit func(string) bool) bool {
	if !strings.Contains(text, s.prefix) {
		return true
	}
	for _, m := range s.textual.FindAllStringSubmatchIndex(text, -1) {
		// m[2:4] 为主机名，m[4:6] 为 ID；未配置站点地址时 s.host 为空，带主机的链接全部跳过
		if m[2] >= 0 && !strings.EqualFold(text[m[2]:m[3]], s.host) {
			continue
		}
		end := m[5]
		if end < len(text) && !isTerminator(text[end]) {
			continue
		}
		if !emit(text[m[4]:m[5]]) {
			return false
		}
	}
	return true
}

// isTerminator 判断 ID 之后的字符是否结束了该路径段
func isTerminator(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return false
	case c == '-' || c == '_' || c == '.':
		return false
	}
	return true
}
