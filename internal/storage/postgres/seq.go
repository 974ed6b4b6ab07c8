package postgres

import (
	"sync/atomic"
	"time"
)

// sequence 生成严格递增的写入序号
//
// 以纳秒时间戳为基准，同一纳秒内的多次写入顺延 1，
// 多实例部署时序号仍大致随时间递增。
type sequence struct {
	last atomic.Int64
	now  func() time.Time
}

func newSequence() *sequence {
	return &sequence{now: time.Now}
}

func (s *sequence) next() int64 {
	for {
		last := s.last.Load()
		n := s.now().UnixNano()
		if n <= last {
			n = last + 1
		}
		if s.last.CompareAndSwap(last, n) {
			return n
		}
	}
}
