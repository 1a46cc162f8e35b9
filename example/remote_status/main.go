package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	procmon "github.com/beta0629/stock-trading-system-sub001"
	"github.com/beta0629/stock-trading-system-sub001/internal/logger"
	"github.com/beta0629/stock-trading-system-sub001/pkg/client"
)

// remote_status: run a monitor with its status API on localhost, then query
// it over HTTP with the client package. This is the same path
// `procmon status --server http://...` takes from another shell.
func main() {
	logCfg := logger.Config{Slog: logger.SlogConfig{
		Level:      logger.LevelInfo,
		Format:     logger.FormatText,
		Color:      true,
		TimeStamps: true,
	}}
	// In CI, use plain text without color
	if os.Getenv("CI") == "true" {
		logCfg.Slog.Color = false
	}
	slogger := logCfg.NewSlogger()
	slog.SetDefault(slogger)

	pidDir, err := os.MkdirTemp("", "procmon-remote-status-")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(pidDir) }()

	// One supervised worker so the status rows have something to show.
	mon, err := procmon.NewMonitor(procmon.MonitorConfig{
		Interval:     500 * time.Millisecond,
		PIDDir:       pidDir,
		StartPrimary: true,
		Primary:      procmon.Spec{Name: "worker", Command: "sleep 600"},
		Thresholds:   procmon.Thresholds{CPUSampleWindow: 50 * time.Millisecond},
	})
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = mon.Run(ctx) }()

	const addr = "127.0.0.1:8787"
	srv, err := procmon.NewStatusServer(addr, "", mon)
	if err != nil {
		panic(err)
	}
	defer func() { _ = srv.Close() }()
	slog.Info("Status server listening", slog.String("addr", addr))

	cfg := client.DefaultConfig()
	cfg.Logger = slogger
	cli := client.New(cfg)

	qctx, qcancel := context.WithTimeout(ctx, 5*time.Second)
	defer qcancel()

	// The listener and the first supervision tick come up asynchronously.
	reachable := false
	for i := 0; i < 50; i++ {
		if cli.IsReachable(qctx) {
			reachable = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !reachable {
		slog.Error("Status server not reachable", slog.String("addr", addr))
		os.Exit(1)
	}
	time.Sleep(time.Second)

	rows, err := cli.Status(qctx)
	if err != nil {
		slog.Error("Status query failed", slog.Any("error", err))
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(rows, "", "  ")
	fmt.Println(string(b))

	snap, err := cli.Resources(qctx)
	if err != nil {
		slog.Error("Resources query failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Host usage",
		slog.Float64("memory_percent", snap.MemoryPercent),
		slog.Float64("cpu_percent", snap.CPUPercent),
	)

	// Tear down the worker the run launched.
	for name, pid := range mon.TargetPIDs() {
		slog.Info("Stopping target", slog.String("name", name), slog.Int("pid", int(pid)))
		_ = procmon.Terminate(int(pid), procmon.TermOptions{})
	}
}
