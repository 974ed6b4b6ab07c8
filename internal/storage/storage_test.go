package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"draftfiles/backend/internal/domain"
)

func TestListKey(t *testing.T) {
	owner := domain.OwnerRef{Type: "posts", ID: "42"}

	t.Run("指定字段", func(t *testing.T) {
		assert.Equal(t, "attachments:posts:42:body", ListKey(owner, "body"))
	})

	t.Run("全部字段", func(t *testing.T) {
		assert.Equal(t, "attachments:posts:42:_all", ListKey(owner, ""))
	})
}

func TestInvalidationKeys(t *testing.T) {
	owner := domain.OwnerRef{Type: "posts", ID: "42"}

	keys := InvalidationKeys(owner, "body", "summary", "body")
	assert.Equal(t, []string{
		"attachments:posts:42:body",
		"attachments:posts:42:summary",
		"attachments:posts:42:_all",
	}, keys)

	assert.Equal(t, []string{"attachments:posts:42:_all"}, InvalidationKeys(owner))
	assert.Equal(t, []string{"attachments:posts:42:_all"}, InvalidationKeys(owner, ""))
}
