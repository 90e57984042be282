package recovery

import (
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"
)

// Recoverer converts goroutine panics into log lines and counters instead
// of process exits.
type Recoverer struct {
	logger  *zap.Logger
	metrics MetricsCollector
}

type MetricsCollector interface {
	RecordPanic(location string, panicValue interface{})
}

func NewRecoverer(logger *zap.Logger, metrics MetricsCollector) *Recoverer {
	return &Recoverer{
		logger:  logger,
		metrics: metrics,
	}
}

func (r *Recoverer) WrapGoroutine(name string, fn func()) func() {
	return func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("goroutine panic recovered",
					zap.String("goroutine", name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)

				if r.metrics != nil {
					r.metrics.RecordPanic(name, p)
				}
			}
		}()

		fn()
	}
}

func (r *Recoverer) SafeGo(name string, fn func()) {
	go r.WrapGoroutine(name, fn)()
}

func (r *Recoverer) Recover(location string) {
	if p := recover(); p != nil {
		r.logger.Error("panic recovered",
			zap.String("location", location),
			zap.Any("panic", p),
			zap.ByteString("stack", debug.Stack()),
		)

		if r.metrics != nil {
			r.metrics.RecordPanic(location, p)
		}
	}
}

// PanicMetrics is a MetricsCollector counting recovered panics.
type PanicMetrics struct {
	logger *zap.Logger
	count  atomic.Int64
}

func NewPanicMetrics(logger *zap.Logger) *PanicMetrics {
	return &PanicMetrics{logger: logger}
}

func (m *PanicMetrics) RecordPanic(location string, panicValue interface{}) {
	n := m.count.Add(1)
	m.logger.Warn("panic recorded",
		zap.String("location", location),
		zap.Int64("total", n),
	)
}

// Count returns the number of panics recorded so far.
func (m *PanicMetrics) Count() int64 {
	return m.count.Load()
}
