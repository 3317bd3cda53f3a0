package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/project-steve/gs-bridge/internal/bridge"
	"github.com/project-steve/gs-bridge/internal/metrics"
	"github.com/project-steve/gs-bridge/internal/modem"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, metrics_logger.go, mdns.go, backend_serial.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("gs-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	tx, rxCh, rawWrite, cleanup, berr := initSerial(ctx, cfg, l, &wg)
	if berr != nil {
		l.Error("serial_init_error", "error", berr)
		os.Exit(1)
	}

	timings := modem.Timings{
		Enter:   cfg.enterSettle,
		Connect: cfg.connectSettle,
		Exit:    cfg.exitSettle,
		Kill:    cfg.killSettle,
	}
	br := bridge.New(
		bridge.WithListen(cfg.listenNet, cfg.listenAddr),
		bridge.WithLogger(l),
		bridge.WithTX(tx),
		bridge.WithSerialRX(rxCh),
		bridge.WithPeer(cfg.peer),
		bridge.WithTimings(timings),
		bridge.WithAutoConnect(cfg.modemConnect),
		bridge.WithOutBufSize(cfg.outBuf),
		bridge.WithEventBufSize(cfg.eventBuf),
	)
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		if err := br.Run(ctx); err != nil {
			l.Error("core_error", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := br.Serve(ctx); err != nil {
			l.Error("ctl_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the TCP listener is ready.
	go func() {
		if !cfg.mdnsEnable || cfg.listenNet != "tcp" {
			return
		}
		select {
		case <-br.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(br.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the control listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-br.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	<-coreDone
	if cfg.modemDisconnect {
		// The event loop is gone; drive the teardown script synchronously.
		if err := modem.Run(modem.DisconnectScript(timings), rawWrite, nil); err != nil {
			l.Warn("modem_disconnect_failed", "error", err)
		}
	}
	shCtx, shCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := br.Shutdown(shCtx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	shCancel()
	cleanup()
	wg.Wait()
	logSnapshot(l, "final_metrics")
}
