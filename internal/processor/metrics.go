package processor

import (
	"sync/atomic"
	"time"
)

type ServiceMetrics struct {
	totalBatches    int64
	totalMessages   int64
	totalFailed     int64
	totalDurationNs int64
	lastResetNs     int64
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{
		lastResetNs: time.Now().UnixNano(),
	}
}

func (m *ServiceMetrics) RecordBatch(messages, failed int, duration time.Duration) {
	atomic.AddInt64(&m.totalBatches, 1)
	atomic.AddInt64(&m.totalMessages, int64(messages))
	atomic.AddInt64(&m.totalFailed, int64(failed))
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *ServiceMetrics) GetStats() map[string]interface{} {
	batches := atomic.LoadInt64(&m.totalBatches)
	messages := atomic.LoadInt64(&m.totalMessages)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	lastResetNs := atomic.LoadInt64(&m.lastResetNs)

	elapsed := time.Since(time.Unix(0, lastResetNs)).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(messages) / elapsed
	}

	avgBatch := time.Duration(0)
	if batches > 0 {
		avgBatch = time.Duration(durationNs / batches)
	}

	return map[string]interface{}{
		"total_batches":   batches,
		"total_messages":  messages,
		"total_failed":    failed,
		"rate_per_second": rate,
		"avg_batch_ms":    avgBatch.Milliseconds(),
		"uptime_seconds":  elapsed,
	}
}

func (m *ServiceMetrics) Reset() {
	atomic.StoreInt64(&m.totalBatches, 0)
	atomic.StoreInt64(&m.totalMessages, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.totalDurationNs, 0)
	atomic.StoreInt64(&m.lastResetNs, time.Now().UnixNano())
}
