package pool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool(4, 16, nil)
		p.Start(context.Background())

		var count atomic.Int64
		for i := 0; i < 100; i++ {
			assert.True(t, p.Submit(context.Background(), func() { count.Add(1) }))
		}
		p.Stop()

		assert.Equal(t, int64(100), count.Load())
	})

	t.Run("任务panic不影响其他任务", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		var panics atomic.Int64
		p.OnPanic(func(interface{}) { panics.Add(1) })
		p.Start(context.Background())

		var count atomic.Int64
		p.Submit(context.Background(), func() { panic("boom") })
		p.Submit(context.Background(), func() { count.Add(1) })
		p.Stop()

		assert.Equal(t, int64(1), panics.Load())
		assert.Equal(t, int64(1), count.Load())
	})

	t.Run("队列已满时TrySubmit失败", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		assert.True(t, p.TrySubmit(func() {}))
		assert.False(t, p.TrySubmit(func() {}))

		p.Start(context.Background())
		p.Stop()
	})

	t.Run("上下文取消时Submit返回", func(t *testing.T) {
		p := NewWorkerPool(1, 0, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, p.Submit(ctx, func() {}))
	})
}
