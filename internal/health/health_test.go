package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"draftfiles/backend/internal/storage/filesystem"
	"draftfiles/backend/internal/storage/memory"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

func TestHealthChecker(t *testing.T) {
	blobs, err := filesystem.NewStore("local", t.TempDir())
	require.NoError(t, err)

	t.Run("全部正常", func(t *testing.T) {
		hc := NewHealthChecker(memory.NewStore(), blobs, stubPinger{}, nil)

		results, healthy := hc.CheckHealth()
		assert.True(t, healthy)
		assert.Equal(t, "OK", results["database"])
		assert.Equal(t, "OK", results["storage"])
		assert.Equal(t, "OK", results["cache"])

		w := httptest.NewRecorder()
		hc.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("缓存不可用时未就绪但仍存活", func(t *testing.T) {
		hc := NewHealthChecker(memory.NewStore(), memory.NewBlobStore(""), stubPinger{err: errors.New("refused")}, nil)

		results, healthy := hc.CheckHealth()
		assert.False(t, healthy)
		assert.Contains(t, results["cache"], "refused")
		assert.NotContains(t, results, "storage")

		w := httptest.NewRecorder()
		hc.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = httptest.NewRecorder()
		hc.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
