package mcp

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watcherPollTimeout = 5 * time.Second

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.yaml")

	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}

	write("servers:\n  alpha:\n    command: \"test\"\n")

	configs, err := LoadConfig(path, testLogger())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	m := newTestManager(configs, newTestDialer(nil))

	w, err := NewWatcher(WatcherConfig{
		Manager:       m,
		Path:          path,
		Logger:        testLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	write("servers:\n  beta:\n    command: \"test\"\n")

	deadline := time.Now().Add(watcherPollTimeout)
	for {
		statuses := m.Status()
		_, hasAlpha := statuses["alpha"]
		_, hasBeta := statuses["beta"]
		if hasBeta && !hasAlpha {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reload not observed; status = %v", statuses)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.yaml")

	if err := os.WriteFile(path, []byte("servers:\n  alpha:\n    command: \"test\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	configs, err := LoadConfig(path, testLogger())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	m := newTestManager(configs, newTestDialer(nil))

	w, err := NewWatcher(WatcherConfig{
		Manager:       m,
		Path:          path,
		Logger:        testLogger(),
		DebounceDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	other := filepath.Join(dir, "unrelated.yaml")
	if err := os.WriteFile(other, []byte("servers:\n  beta:\n    command: \"test\"\n"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if _, ok := m.Status()["beta"]; ok {
		t.Fatal("unrelated file triggered a reload")
	}
}

func TestWatcherRequiresManagerAndPath(t *testing.T) {
	t.Parallel()

	if _, err := NewWatcher(WatcherConfig{Path: "x.yaml"}); err == nil {
		t.Fatal("want error without manager")
	}
	if _, err := NewWatcher(WatcherConfig{Manager: NewManager(nil, testLogger())}); err == nil {
		t.Fatal("want error without path")
	}
}
