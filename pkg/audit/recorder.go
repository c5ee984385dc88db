package audit

import (
	"context"

	"github.com/deskrelay/deskrelay/pkg/observability"
)

// Recorder appends entries to the audit trail
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// NopRecorder discards entries. Used when no store is configured.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, entry Entry) error {
	return nil
}

// BestEffort wraps a Recorder so storage failures never abort the
// triggering business operation: a failed write is logged and counted,
// then swallowed. Failing user-facing requests because the audit store
// is down is the worse trade.
type BestEffort struct {
	recorder Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewBestEffort wraps the recorder with log-and-continue failure handling
func NewBestEffort(recorder Recorder, logger *observability.Logger, metrics *observability.Metrics) *BestEffort {
	return &BestEffort{
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
	}
}

// Record appends the entry, reporting failures only through logs and metrics
func (b *BestEffort) Record(ctx context.Context, entry Entry) error {
	if err := b.recorder.Record(ctx, entry); err != nil {
		b.logger.WithError(err).WithFields(map[string]interface{}{
			"username": entry.Username,
			"module":   string(entry.Module),
			"action":   string(entry.Action),
		}).Error("failed to record audit entry")
		if b.metrics != nil {
			b.metrics.AuditWriteFailuresTotal.Inc()
		}
		return nil
	}

	if b.metrics != nil {
		b.metrics.AuditEntriesTotal.WithLabelValues(string(entry.Module), string(entry.Action)).Inc()
	}
	return nil
}
