package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage/memory"
)

func newAttachment(field string) *domain.Attachment {
	id := uuid.NewString()
	return &domain.Attachment{
		ID:          id,
		FieldKey:    field,
		Disk:        "memory",
		StoragePath: field + "/" + id + "/a.png",
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("生成规范草稿标识", func(t *testing.T) {
		reg := New(memory.NewStore())
		a, b := reg.BeginDraft(), reg.BeginDraft()
		assert.True(t, domain.IsCanonicalUUID(a))
		assert.NotEqual(t, a, b)
	})

	t.Run("登记后按插入顺序查询", func(t *testing.T) {
		reg := New(memory.NewStore())
		draft := reg.BeginDraft()

		want := make([]string, 0, 3)
		for i := 0; i < 3; i++ {
			att := newAttachment("body")
			require.NoError(t, reg.Register(ctx, draft, att))
			assert.Equal(t, domain.DispositionPending, att.Disposition)
			want = append(want, att.ID)
		}

		ids, err := reg.Lookup(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, want, ids)
	})

	t.Run("登记时清除记录引用", func(t *testing.T) {
		store := memory.NewStore()
		reg := New(store)
		draft := reg.BeginDraft()

		att := newAttachment("body")
		att.SetOwner(domain.OwnerRef{Type: "posts", ID: "1"}, att.CreatedAt)
		require.NoError(t, reg.Register(ctx, draft, att))

		got, err := store.GetAttachment(ctx, att.ID)
		require.NoError(t, err)
		_, owned := got.Owner()
		assert.False(t, owned)
		assert.Equal(t, draft, *got.DraftID)
	})

	t.Run("未知草稿返回空", func(t *testing.T) {
		reg := New(memory.NewStore())
		ids, err := reg.Lookup(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, ids)

		removed, err := reg.Clear(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, removed)
	})

	t.Run("清空草稿", func(t *testing.T) {
		reg := New(memory.NewStore())
		draft := reg.BeginDraft()
		require.NoError(t, reg.Register(ctx, draft, newAttachment("body")))
		require.NoError(t, reg.Register(ctx, draft, newAttachment("body")))

		removed, err := reg.Clear(ctx, draft)
		require.NoError(t, err)
		assert.Len(t, removed, 2)

		ids, err := reg.Lookup(ctx, draft)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("拒绝非法草稿标识", func(t *testing.T) {
		reg := New(memory.NewStore())
		for _, bad := range []string{"", "abc", "6F1C1C84-8D0B-4B7E-9B8A-8C2F3F0A9E11"} {
			_, err := reg.Lookup(ctx, bad)
			assert.ErrorIs(t, err, domain.ErrInvalidDraftID)
			assert.ErrorIs(t, reg.Register(ctx, bad, newAttachment("body")), domain.ErrInvalidDraftID)
			_, err = reg.Clear(ctx, bad)
			assert.ErrorIs(t, err, domain.ErrInvalidDraftID)
		}
	})
}
