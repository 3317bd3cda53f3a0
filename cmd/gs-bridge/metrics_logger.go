package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/project-steve/gs-bridge/internal/metrics"
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
				logSnapshot(l, "metrics_snapshot")
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, event string) {
	snap := metrics.Snap()
	l.Info(event,
		"uart_rx", snap.UARTRx,
		"uart_tx", snap.UARTTx,
		"rx_bytes", snap.RxBytes,
		"framing_errors", snap.Framing,
		"ctl_rx", snap.CtlRx,
		"ctl_tx", snap.CtlTx,
		"ctl_drops", snap.CtlDrops,
		"proto_errors", snap.ProtocolErrors,
		"telemetry_drops", snap.TelemetryDrops,
		"connects", snap.Connects,
		"modem_steps", snap.ModemSteps,
		"errors", snap.Errors,
	)
}
