// Package sweeper 定期清理过期草稿与孤儿附件。
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"draftfiles/backend/internal/domain"
	"draftfiles/backend/internal/logger"
	"draftfiles/backend/internal/monitoring"
	"draftfiles/backend/internal/pool"
	"draftfiles/backend/internal/storage"
)

const (
	// orphanBatchSize 每次查询的孤儿附件数量
	orphanBatchSize = 500
	// deleteChunkSize 每个任务删除的附件数量
	deleteChunkSize = 100
)

// Remover 删除附件记录与文件的操作
//
// PruneOrphans 只删除删除时仍为 orphaned 的附件。
type Remover interface {
	DiscardDraft(ctx context.Context, draftID string) ([]domain.Attachment, error)
	PruneOrphans(ctx context.Context, ids []string) ([]domain.Attachment, error)
}

// Report 单次清理的结果
type Report struct {
	Job     string `json:"job"`
	Scanned int    `json:"scanned"`
	Removed int    `json:"removed"`
	Failed  int    `json:"failed"`
}

// Sweeper 清理任务
type Sweeper struct {
	repo    storage.AttachmentRepository
	remover Remover
	workers int
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New 创建清理任务
func New(repo storage.AttachmentRepository, remover Remover, workers int, metrics *monitoring.Metrics, log *zap.Logger) *Sweeper {
	if workers <= 0 {
		workers = 4
	}
	return &Sweeper{
		repo:    repo,
		remover: remover,
		workers: workers,
		metrics: metrics,
		log:     logger.OrNop(log).Named("sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SweepDrafts 丢弃最新上传早于 olderThan 的草稿
func (s *Sweeper) SweepDrafts(ctx context.Context, olderThan time.Duration) (report Report, err error) {
	report.Job = "drafts"
	defer func() { s.metrics.RecordSweep(report.Job, report.Removed, err) }()

	drafts, err := s.repo.ListStaleDrafts(ctx, s.now().Add(-olderThan))
	if err != nil {
		return report, fmt.Errorf("list stale drafts: %w", err)
	}
	report.Scanned = len(drafts)

	tasks := make([]func(context.Context) (int, error), 0, len(drafts))
	for _, draftID := range drafts {
		tasks = append(tasks, func(ctx context.Context) (int, error) {
			removed, err := s.remover.DiscardDraft(ctx, draftID)
			if err != nil {
				return 0, fmt.Errorf("discard draft %s: %w", draftID, err)
			}
			return len(removed), nil
		})
	}

	report.Removed, report.Failed, err = s.fanOut(ctx, tasks)
	s.log.Info("draft sweep finished",
		zap.Int("drafts", report.Scanned),
		zap.Int("removed", report.Removed),
		zap.Int("failed", report.Failed))
	return report, err
}

// PruneOrphans 删除孤儿状态持续超过 grace 的附件
func (s *Sweeper) PruneOrphans(ctx context.Context, grace time.Duration) (report Report, err error) {
	report.Job = "orphans"
	defer func() { s.metrics.RecordSweep(report.Job, report.Removed, err) }()

	before := s.now().Add(-grace)
	for {
		rows, err := s.repo.ListOrphaned(ctx, before, orphanBatchSize)
		if err != nil {
			return report, fmt.Errorf("list orphaned attachments: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		report.Scanned += len(rows)

		var tasks []func(context.Context) (int, error)
		for start := 0; start < len(rows); start += deleteChunkSize {
			end := min(start+deleteChunkSize, len(rows))
			ids := make([]string, 0, end-start)
			for _, row := range rows[start:end] {
				ids = append(ids, row.ID)
			}
			tasks = append(tasks, func(ctx context.Context) (int, error) {
				removed, err := s.remover.PruneOrphans(ctx, ids)
				if err != nil {
					return 0, fmt.Errorf("delete %d orphaned attachments: %w", len(ids), err)
				}
				return len(removed), nil
			})
		}

		removed, failed, err := s.fanOut(ctx, tasks)
		report.Removed += removed
		report.Failed += failed
		if err != nil {
			return report, err
		}
		if len(rows) < orphanBatchSize || removed == 0 {
			break
		}
	}

	s.log.Info("orphan prune finished",
		zap.Int("orphans", report.Scanned),
		zap.Int("removed", report.Removed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// Run 按固定间隔执行两个清理任务，直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context, interval, draftTTL, orphanGrace time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepDrafts(ctx, draftTTL); err != nil {
				s.log.Error("draft sweep failed", zap.Error(err))
			}
			if _, err := s.PruneOrphans(ctx, orphanGrace); err != nil {
				s.log.Error("orphan prune failed", zap.Error(err))
			}
		}
	}
}

// fanOut 通过协程池执行任务，返回删除数量、失败任务数与合并后的错误
func (s *Sweeper) fanOut(ctx context.Context, tasks []func(context.Context) (int, error)) (int, int, error) {
	if len(tasks) == 0 {
		return 0, 0, nil
	}

	var (
		mu      sync.Mutex
		removed int
		failed  int
		errs    []error
	)

	p := pool.NewWorkerPool(min(s.workers, len(tasks)), len(tasks), s.log)
	p.OnPanic(func(recovered interface{}) {
		s.metrics.RecordPanic()
		mu.Lock()
		failed++
		errs = append(errs, fmt.Errorf("sweep task panicked: %v", recovered))
		mu.Unlock()
	})
	p.Start(ctx)

	for _, task := range tasks {
		if !p.Submit(ctx, func() {
			n, err := task(ctx)
			mu.Lock()
			defer mu.Unlock()
			removed += n
			if err != nil {
				failed++
				errs = append(errs, err)
			}
		}) {
			break
		}
	}
	p.Stop()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return removed, failed, errors.Join(errs...)
}
