package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"draftfiles/backend/internal/config"
	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/service"
	"draftfiles/backend/internal/storage/filesystem"
	"draftfiles/backend/internal/storage/memory"
	"draftfiles/backend/internal/storage/postgres"
)

func baseConfig(t *testing.T) *config.Config {
	return &config.Config{
		Redis:   config.RedisConfig{ListTTL: time.Minute},
		Storage: config.StorageConfig{Disk: "local", Path: filepath.Join(t.TempDir(), "files")},
		Attachments: config.AttachmentsConfig{
			Driver:        "native",
			PruneOnSave:   true,
			URLPrefix:     "/files/",
			MaxUploadSize: 1 << 20,
		},
	}
}

func TestNew_MemoryRepository(t *testing.T) {
	cfg := baseConfig(t)
	app, err := New(cfg, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })

	assert.IsType(t, &filesystem.Store{}, app.Blobs)

	ctx := context.Background()
	draft := app.Manager.BeginDraft()
	att, err := app.Manager.Store(ctx, service.StoreInput{
		DraftID:     draft,
		FieldKey:    "body",
		Filename:    "note.txt",
		ContentType: "text/plain",
		Content:     []byte("hello"),
	})
	require.NoError(t, err)

	result, err := app.Manager.PersistDraft(ctx, service.PersistInput{
		DraftID:  draft,
		FieldKey: "body",
		Owner:    domain.OwnerRef{Type: "posts", ID: "1"},
		Body:     app.Manager.View(att).URL,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reassigned)

	status, healthy := app.Health.CheckHealth()
	assert.True(t, healthy, status)
}

func TestNew_SQLiteRepository(t *testing.T) {
	for _, driver := range []string{"native", "compat"} {
		t.Run(driver, func(t *testing.T) {
			cfg := baseConfig(t)
			cfg.Database = config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "db", "attachments.db")}
			cfg.Attachments.Driver = driver
			cfg.Storage.Disk = "memory"

			app, err := New(cfg, prometheus.NewRegistry(), zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, app.Close()) })

			assert.IsType(t, &memory.BlobStore{}, app.Blobs)
			assert.NoError(t, app.Repo.Health(context.Background()))
		})
	}
}

func TestOpenRepository(t *testing.T) {
	cfg := baseConfig(t)

	repo, err := OpenRepository(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, repo)

	cfg.Database = config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "a.db")}
	cfg.Attachments.Driver = "compat"
	repo, err = OpenRepository(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	assert.IsType(t, &postgres.CompatStore{}, repo)

	cfg.Database.Type = "oracle"
	_, err = OpenRepository(cfg, zap.NewNop())
	assert.Error(t, err)
}
