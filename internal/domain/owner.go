package domain

import (
	"fmt"
	"strings"
)

// OwnerRef 引用附件所属的记录（类型 + 主键）。
type OwnerRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Validate 校验记录引用是否完整
func (o OwnerRef) Validate() error {
	if strings.TrimSpace(o.Type) == "" || strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: type and id are required", ErrInvalidOwner)
	}
	return nil
}

func (o OwnerRef) String() string {
	return o.Type + ":" + o.ID
}
