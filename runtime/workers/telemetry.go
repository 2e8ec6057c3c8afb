package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/observability"
)

// TelemetryWorker periodically logs a metrics snapshot so throughput and
// process health show up in the logs without scraping /stats.
type TelemetryWorker struct {
	log            *slog.Logger
	metrics        *observability.Metrics
	metricInterval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, metrics *observability.Metrics,
	metricInterval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, metrics: metrics, metricInterval: metricInterval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := w.metrics.Snapshot()
			w.log.Info("Telemetry",
				"appended", stats.MessagesAppended,
				"delivered", stats.MessagesDelivered,
				"dropped", stats.DeliveriesDropped,
				"connections", stats.LiveConnections,
				"alloc_mb", stats.AllocMemMb,
				"rss_mb", stats.ProcessRSSMb,
				"cpu_percent", stats.ProcessCPUPercent,
			)
		}
	}
}
