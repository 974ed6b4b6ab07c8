package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/cache"
	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/storage"
	"draftfiles/backend/internal/storage/memory"
	"draftfiles/backend/internal/storage/storagetest"
)

// MockListCache 模拟列表缓存
type MockListCache struct {
	mock.Mock
}

func (m *MockListCache) GetAttachmentList(ctx context.Context, fieldKey string, owner domain.OwnerRef) ([]domain.Attachment, bool) {
	args := m.Called(ctx, fieldKey, owner)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]domain.Attachment), args.Bool(1)
}

func (m *MockListCache) SetAttachmentList(ctx context.Context, fieldKey string, owner domain.OwnerRef, list []domain.Attachment) error {
	args := m.Called(ctx, fieldKey, owner, list)
	return args.Error(0)
}

func (m *MockListCache) InvalidateOwner(ctx context.Context, owner domain.OwnerRef, fieldKeys ...string) error {
	args := m.Called(ctx, owner, fieldKeys)
	return args.Error(0)
}

func newCachedStore(t *testing.T) *Store {
	lc := cache.NewListCache(1000, time.Minute)
	t.Cleanup(lc.Close)
	return NewStore(memory.NewStore(), lc, nil)
}

func TestStore_Contract(t *testing.T) {
	storagetest.RunRepositoryContract(t, func(t *testing.T) storage.AttachmentRepository {
		return newCachedStore(t)
	})
}

func TestStore_CacheInvalidation(t *testing.T) {
	ctx := context.Background()
	owner := domain.OwnerRef{Type: "posts", ID: "1"}

	t.Run("绑定后列表包含新附件", func(t *testing.T) {
		store := newCachedStore(t)

		list, err := store.ListOwnerAttachments(ctx, "body", owner)
		require.NoError(t, err)
		assert.Empty(t, list)

		draft := uuid.NewString()
		require.NoError(t, store.InsertAttachment(ctx, storagetest.NewPending(draft, "body")))
		_, err = store.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)

		list, err = store.ListOwnerAttachments(ctx, "body", owner)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("孤儿标记后列表状态更新", func(t *testing.T) {
		store := newCachedStore(t)
		draft := uuid.NewString()
		require.NoError(t, store.InsertAttachment(ctx, storagetest.NewPending(draft, "body")))
		_, err := store.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)

		list, err := store.ListOwnerAttachments(ctx, "", owner)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, domain.DispositionAttached, list[0].Disposition)

		_, err = store.ReconcileOwner(ctx, "body", owner, map[string]struct{}{})
		require.NoError(t, err)

		list, err = store.ListOwnerAttachments(ctx, "", owner)
		require.NoError(t, err)
		assert.Equal(t, domain.DispositionOrphaned, list[0].Disposition)
	})

	t.Run("删除后列表为空", func(t *testing.T) {
		store := newCachedStore(t)
		draft := uuid.NewString()
		att := storagetest.NewPending(draft, "body")
		require.NoError(t, store.InsertAttachment(ctx, att))
		_, err := store.ReassignOwner(ctx, draft, owner)
		require.NoError(t, err)

		list, err := store.ListOwnerAttachments(ctx, "body", owner)
		require.NoError(t, err)
		require.Len(t, list, 1)

		_, err = store.DeleteAttachment(ctx, att.ID)
		require.NoError(t, err)

		list, err = store.ListOwnerAttachments(ctx, "body", owner)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestStore_CacheFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	owner := domain.OwnerRef{Type: "posts", ID: "1"}
	cacheErr := errors.New("cache unavailable")

	mc := new(MockListCache)
	mc.On("GetAttachmentList", mock.Anything, mock.Anything, owner).Return(nil, false)
	mc.On("SetAttachmentList", mock.Anything, mock.Anything, owner, mock.Anything).Return(cacheErr)
	mc.On("InvalidateOwner", mock.Anything, owner, mock.Anything).Return(cacheErr)

	store := NewStore(memory.NewStore(), mc, nil)

	draft := uuid.NewString()
	require.NoError(t, store.InsertAttachment(ctx, storagetest.NewPending(draft, "body")))

	n, err := store.ReassignOwner(ctx, draft, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := store.ListOwnerAttachments(ctx, "body", owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	orphaned, err := store.ReconcileOwner(ctx, "body", owner, map[string]struct{}{})
	require.NoError(t, err)
	assert.Len(t, orphaned, 1)

	mc.AssertCalled(t, "InvalidateOwner", mock.Anything, owner, []string{"body"})
}

func TestFieldKeys(t *testing.T) {
	list := []domain.Attachment{{FieldKey: "body"}, {FieldKey: "summary"}, {FieldKey: "body"}}
	assert.Equal(t, []string{"body", "summary"}, fieldKeys(list))
}
