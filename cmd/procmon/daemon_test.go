package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDaemonPidFileRoundtrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "procmon.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Fatal("PID file was not created")
	}

	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatal("PID file was not removed")
	}
}

func TestRemovePidFileEmptyPathIsNoop(t *testing.T) {
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}
