// Package storagetest 提供 AttachmentRepository 实现共用的契约测试。
//
// 每个存储实现（内存、GORM 原生表、兼容表）都应通过同一组用例，
// 保证生命周期管理器在任何驱动上的行为一致。
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage"
)

// Factory 为每个子测试创建一个全新的存储实例
type Factory func(t *testing.T) storage.AttachmentRepository

// NewPending 构造一条 pending 附件记录
func NewPending(draftID, fieldKey string) *domain.Attachment {
	id := uuid.NewString()
	d := draftID
	return &domain.Attachment{
		ID:           id,
		FieldKey:     fieldKey,
		DraftID:      &d,
		Disk:         "test",
		StoragePath:  fieldKey + "/" + id + "/file.png",
		OriginalName: "file.png",
		ContentType:  "image/png",
		Size:         3,
		Disposition:  domain.DispositionPending,
	}
}

// RunRepositoryContract 运行全部契约用例
func RunRepositoryContract(t *testing.T, newRepo Factory) {
	ctx := context.Background()
	owner := domain.OwnerRef{Type: "posts", ID: "42"}

	t.Run("插入与读取", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		att := NewPending(draft, "body")

		require.NoError(t, repo.InsertAttachment(ctx, att))

		got, err := repo.GetAttachment(ctx, att.ID)
		require.NoError(t, err)
		assert.Equal(t, att.ID, got.ID)
		assert.Equal(t, draft, *got.DraftID)
		assert.Equal(t, domain.DispositionPending, got.Disposition)
		assert.False(t, got.CreatedAt.IsZero())
		assert.NoError(t, got.CheckBinding())
	})

	t.Run("重复ID插入失败", func(t *testing.T) {
		repo := newRepo(t)
		att := NewPending(uuid.NewString(), "body")
		require.NoError(t, repo.InsertAttachment(ctx, att))

		dup := NewPending(uuid.NewString(), "body")
		dup.ID = att.ID
		err := repo.InsertAttachment(ctx, dup)
		assert.True(t, errors.Is(err, domain.ErrDuplicateID), "got %v", err)
	})

	t.Run("读取不存在的附件", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetAttachment(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("草稿列表保持插入顺序", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		want := make([]string, 0, 5)
		for i := 0; i < 5; i++ {
			att := NewPending(draft, "body")
			att.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
			require.NoError(t, repo.InsertAttachment(ctx, att))
			want = append(want, att.ID)
		}
		require.NoError(t, repo.InsertAttachment(ctx, NewPending(uuid.NewString(), "body")))

		list, err := repo.ListDraftAttachments(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, want, ids(list))
	})

	t.Run("相同创建时间按写入顺序返回", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		created := time.Now().UTC().Truncate(time.Second)
		// ID 字典序与写入顺序相反
		first := NewPending(draft, "body")
		first.ID = "ffffffff-0000-4000-8000-000000000001"
		second := NewPending(draft, "body")
		second.ID = "00000000-0000-4000-8000-000000000002"
		for _, a := range []*domain.Attachment{first, second} {
			a.CreatedAt = created
			require.NoError(t, repo.InsertAttachment(ctx, a))
		}

		list, err := repo.ListDraftAttachments(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID, second.ID}, ids(list))

		_, err = repo.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)
		list, err = repo.ListOwnerAttachments(ctx, "body", owner)
		require.NoError(t, err)
		assert.Equal(t, []string{first.ID, second.ID}, ids(list))
	})

	t.Run("绑定草稿到记录", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		a1 := NewPending(draft, "body")
		a2 := NewPending(draft, "body")
		require.NoError(t, repo.InsertAttachment(ctx, a1))
		require.NoError(t, repo.InsertAttachment(ctx, a2))

		n, err := repo.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, id := range []string{a1.ID, a2.ID} {
			got, err := repo.GetAttachment(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, got.DraftID)
			gotOwner, ok := got.Owner()
			require.True(t, ok)
			assert.Equal(t, owner, gotOwner)
			assert.Equal(t, domain.DispositionAttached, got.Disposition)
			assert.NotNil(t, got.AttachedAt)
		}

		draftRows, err := repo.ListDraftAttachments(ctx, draft)
		require.NoError(t, err)
		assert.Empty(t, draftRows)

		list, err := repo.ListOwnerAttachments(ctx, "body", owner)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a1.ID, a2.ID}, ids(list))

		// 第二次绑定不再产生变化
		n, err = repo.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("并发绑定同一草稿只计数一次", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		for i := 0; i < 4; i++ {
			require.NoError(t, repo.InsertAttachment(ctx, NewPending(draft, "body")))
		}

		var wg sync.WaitGroup
		counts := make([]int, 4)
		errs := make([]error, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				counts[i], errs[i] = repo.ReassignOwner(ctx, draft, owner)
			}(i)
		}
		wg.Wait()

		total := 0
		for i := range counts {
			require.NoError(t, errs[i])
			total += counts[i]
		}
		assert.Equal(t, 4, total)

		list, err := repo.ListOwnerAttachments(ctx, "", owner)
		require.NoError(t, err)
		assert.Len(t, list, 4)
	})

	t.Run("按引用集合标记孤儿", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		a1 := NewPending(draft, "body")
		a2 := NewPending(draft, "body")
		other := NewPending(draft, "summary")
		require.NoError(t, repo.InsertAttachment(ctx, a1))
		require.NoError(t, repo.InsertAttachment(ctx, a2))
		require.NoError(t, repo.InsertAttachment(ctx, other))
		_, err := repo.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)

		orphaned, err := repo.ReconcileOwner(ctx, "body", owner, map[string]struct{}{a1.ID: {}})
		require.NoError(t, err)
		assert.Equal(t, []string{a2.ID}, ids(orphaned))

		got, err := repo.GetAttachment(ctx, a2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionOrphaned, got.Disposition)
		assert.NotNil(t, got.OrphanedAt)

		// 其他字段不受影响
		got, err = repo.GetAttachment(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionAttached, got.Disposition)

		// 再次引用后恢复为 attached，且不重复报告
		orphaned, err = repo.ReconcileOwner(ctx, "body", owner, map[string]struct{}{a1.ID: {}, a2.ID: {}})
		require.NoError(t, err)
		assert.Empty(t, orphaned)
		got, err = repo.GetAttachment(ctx, a2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionAttached, got.Disposition)
		assert.Nil(t, got.OrphanedAt)
	})

	t.Run("删除单条与批量删除", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		a1 := NewPending(draft, "body")
		a2 := NewPending(draft, "body")
		a3 := NewPending(draft, "body")
		for _, a := range []*domain.Attachment{a1, a2, a3} {
			require.NoError(t, repo.InsertAttachment(ctx, a))
		}

		removed, err := repo.DeleteAttachment(ctx, a1.ID)
		require.NoError(t, err)
		assert.Equal(t, a1.StoragePath, removed.StoragePath)

		_, err = repo.DeleteAttachment(ctx, a1.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		rows, err := repo.DeleteAttachments(ctx, []string{a1.ID, a2.ID, a3.ID, uuid.NewString()})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a2.ID, a3.ID}, ids(rows))

		rows, err = repo.DeleteAttachments(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("只删除仍为孤儿的附件", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		restored := NewPending(draft, "body")
		orphan := NewPending(draft, "body")
		attached := NewPending(draft, "body")
		pending := NewPending(uuid.NewString(), "body")
		for _, a := range []*domain.Attachment{restored, orphan, attached, pending} {
			require.NoError(t, repo.InsertAttachment(ctx, a))
		}
		_, err := repo.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)

		orphaned, err := repo.ReconcileOwner(ctx, "body", owner, map[string]struct{}{attached.ID: {}})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{restored.ID, orphan.ID}, ids(orphaned))

		// 删除前正文重新引用了 restored
		_, err = repo.ReconcileOwner(ctx, "body", owner, map[string]struct{}{attached.ID: {}, restored.ID: {}})
		require.NoError(t, err)

		rows, err := repo.DeleteOrphaned(ctx, []string{restored.ID, orphan.ID, attached.ID, pending.ID, uuid.NewString()})
		require.NoError(t, err)
		assert.Equal(t, []string{orphan.ID}, ids(rows))

		for _, id := range []string{restored.ID, attached.ID, pending.ID} {
			_, err := repo.GetAttachment(ctx, id)
			assert.NoError(t, err, id)
		}
		_, err = repo.GetAttachment(ctx, orphan.ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		rows, err = repo.DeleteOrphaned(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("丢弃草稿只删除pending附件", func(t *testing.T) {
		repo := newRepo(t)
		draft := uuid.NewString()
		a1 := NewPending(draft, "body")
		require.NoError(t, repo.InsertAttachment(ctx, a1))
		keep := NewPending(uuid.NewString(), "body")
		require.NoError(t, repo.InsertAttachment(ctx, keep))

		rows, err := repo.DeleteDraftAttachments(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, []string{a1.ID}, ids(rows))

		rows, err = repo.DeleteDraftAttachments(ctx, draft)
		require.NoError(t, err)
		assert.Empty(t, rows)

		_, err = repo.GetAttachment(ctx, keep.ID)
		assert.NoError(t, err)
	})

	t.Run("过期草稿与孤儿查询", func(t *testing.T) {
		repo := newRepo(t)
		old := uuid.NewString()
		fresh := uuid.NewString()

		stale := NewPending(old, "body")
		stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, repo.InsertAttachment(ctx, stale))
		require.NoError(t, repo.InsertAttachment(ctx, NewPending(fresh, "body")))

		drafts, err := repo.ListStaleDrafts(ctx, time.Now().UTC().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{old}, drafts)

		_, err = repo.ReassignOwner(ctx, fresh, owner)
		require.NoError(t, err)
		_, err = repo.ReconcileOwner(ctx, "body", owner, map[string]struct{}{})
		require.NoError(t, err)

		orphans, err := repo.ListOrphaned(ctx, time.Now().UTC().Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Len(t, orphans, 1)

		orphans, err = repo.ListOrphaned(ctx, time.Now().UTC().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("健康检查", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Health(ctx))
	})
}

func ids(list []domain.Attachment) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
