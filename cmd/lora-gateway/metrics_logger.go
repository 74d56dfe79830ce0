package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"link_rx", snap.LinkRx,
					"link_tx", snap.LinkTx,
					"sig_mismatches", snap.SigMismatches,
					"malformed", snap.Malformed,
					"app_rx", snap.AppRx,
					"app_tx", snap.AppTx,
					"enrollments", snap.Enrollments,
					"evictions", snap.Evictions,
					"values", snap.Values,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
