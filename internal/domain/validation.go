package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// 验证常量
const (
	MaxFieldKeyLength  = 191 // 与索引列长度保持一致
	MaxOwnerTypeLength = 191
	MaxOwnerIDLength   = 191
)

// 正则表达式
var (
	// 字段键：字母开头，允许字母数字、点、下划线、短横线
	fieldKeyRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

	// 记录类型：允许命名空间分隔符，如 App\Models\Post 或 posts
	ownerTypeRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.:\\/-]*$`)
)

// ValidateFieldKey 验证字段键
func ValidateFieldKey(key string) error {
	if key == "" || len(key) > MaxFieldKeyLength {
		return fmt.Errorf("%w: %q", ErrInvalidField, key)
	}
	if !fieldKeyRegex.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidField, key)
	}
	return nil
}

// ValidateDraftID 验证草稿标识
//
// 草稿标识跨越客户端/服务端信任边界，只接受规范格式的 UUID，
// 防止猜测或构造的短标识被当作查询键使用。
func ValidateDraftID(draftID string) error {
	if !IsCanonicalUUID(draftID) {
		return fmt.Errorf("%w: %q", ErrInvalidDraftID, draftID)
	}
	return nil
}

// ValidateOwner 对记录引用做完整验证
func ValidateOwner(owner OwnerRef) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if len(owner.Type) > MaxOwnerTypeLength || !ownerTypeRegex.MatchString(owner.Type) {
		return fmt.Errorf("%w: type %q", ErrInvalidOwner, owner.Type)
	}
	if len(owner.ID) > MaxOwnerIDLength || strings.ContainsAny(owner.ID, " \t\r\n") {
		return fmt.Errorf("%w: id %q", ErrInvalidOwner, owner.ID)
	}
	return nil
}

// IsCanonicalUUID 判断字符串是否为小写带连字符的 36 位 UUID
func IsCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return parsed.String() == s
}
