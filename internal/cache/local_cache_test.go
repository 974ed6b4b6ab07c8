package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/domain"
)

func TestLocalCache(t *testing.T) {
	t.Run("写入与读取", func(t *testing.T) {
		c := NewLocalCache[int](10, time.Minute)
		defer c.Close()

		c.Set("a", 1)
		v, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, 1, c.Len())

		c.Delete("a")
		_, ok = c.Get("a")
		assert.False(t, ok)
	})

	t.Run("过期后未命中", func(t *testing.T) {
		c := NewLocalCache[int](10, 5*time.Millisecond)
		defer c.Close()

		c.Set("a", 1)
		time.Sleep(20 * time.Millisecond)
		_, ok := c.Get("a")
		assert.False(t, ok)
	})

	t.Run("超过容量淘汰最久未使用", func(t *testing.T) {
		c := NewLocalCache[int](2, time.Minute)
		defer c.Close()

		c.Set("a", 1)
		c.Set("b", 2)
		c.Get("a")
		assert.True(t, c.Set("c", 3))

		_, ok := c.Get("b")
		assert.False(t, ok)
		v, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("关闭后清空", func(t *testing.T) {
		c := NewLocalCache[string](0, 0)
		c.Set("a", "x")
		c.Close()
		assert.Zero(t, c.Len())
	})
}

func TestListCache(t *testing.T) {
	ctx := context.Background()
	owner := domain.OwnerRef{Type: "posts", ID: "1"}
	draft := "d"
	list := []domain.Attachment{{ID: "a", FieldKey: "body", DraftID: &draft}}

	c := NewListCache(100, time.Minute)
	defer c.Close()

	_, ok := c.GetAttachmentList(ctx, "body", owner)
	assert.False(t, ok)

	require.NoError(t, c.SetAttachmentList(ctx, "body", owner, list))
	require.NoError(t, c.SetAttachmentList(ctx, "", owner, list))

	got, ok := c.GetAttachmentList(ctx, "body", owner)
	require.True(t, ok)
	assert.Equal(t, "a", got[0].ID)

	// 返回的是副本
	*got[0].DraftID = "changed"
	again, _ := c.GetAttachmentList(ctx, "body", owner)
	assert.Equal(t, "d", *again[0].DraftID)

	require.NoError(t, c.InvalidateOwner(ctx, owner, "body"))
	_, ok = c.GetAttachmentList(ctx, "body", owner)
	assert.False(t, ok)
	_, ok = c.GetAttachmentList(ctx, "", owner)
	assert.False(t, ok)
}
