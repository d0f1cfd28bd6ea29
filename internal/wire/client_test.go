package wire

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cfengine-go/agentcore/internal/netcache"
)

func startTestServer(t *testing.T, workDir string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &Server{WorkDir: workDir, MaxClockSkew: time.Minute}
	go srv.Serve(ln)

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func TestClientOpenDirAndStat(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "promise.cf"), []byte("bundle agent main {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	host, port := startTestServer(t, dir)
	client := NewClient(netcache.New(), 100, 10, 2*time.Second)

	names, err := client.OpenDir(context.Background(), host, port, netcache.Flags{}, ".")
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "promise.cf" {
			found = true
		}
	}
	if !found {
		t.Fatalf("OpenDir did not list promise.cf, got %v", names)
	}

	fields, err := client.Stat(context.Background(), host, port, netcache.Flags{}, "promise.cf", time.Now().Unix())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fields == "" {
		t.Fatal("Stat returned empty fields")
	}
}

func TestClientStatRejectsClockSkew(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	srv := &Server{WorkDir: dir, MaxClockSkew: time.Second}
	go srv.Serve(ln)
	addr := ln.Addr().(*net.TCPAddr)

	client := NewClient(netcache.New(), 100, 10, 2*time.Second)
	skewedEpoch := time.Now().Add(-time.Hour).Unix()
	_, err = client.Stat(context.Background(), "127.0.0.1", addr.Port, netcache.Flags{}, "f", skewedEpoch)
	if err == nil {
		t.Fatal("expected Stat to fail on clock skew")
	}
}

func TestClientCallLogsACorrelationIDOnEntryAndExit(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	host, port := startTestServer(t, dir)

	client := NewClient(netcache.New(), 100, 10, 2*time.Second)
	var lines []string
	client.Logf = func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	if _, err := client.OpenDir(context.Background(), host, port, netcache.Flags{}, "."); err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected exactly 2 log lines (start, ok), got %v", lines)
	}
	corrID := strings.Fields(strings.TrimPrefix(lines[0], "corr="))[0]
	if corrID == "" || !strings.Contains(lines[1], "corr="+corrID) {
		t.Fatalf("expected both lines to share a correlation id, got %v", lines)
	}
}
