package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644); err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
}

func TestStorageMonitor_Breakdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "000001.sst", 8192)
	writeFile(t, dir, "000001.vlog", 4096)
	writeFile(t, dir, "MANIFEST", 16)

	st, err := NewStorageMonitor(dir, 1<<30).Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Files != 3 {
		t.Errorf("Files = %d, want 3", st.Files)
	}
	if st.TableBytes == 0 || st.ValueLogBytes == 0 || st.OtherBytes == 0 {
		t.Errorf("expected every kind to be counted, got %+v", st)
	}
	if st.UsedBytes != st.TableBytes+st.ValueLogBytes+st.OtherBytes {
		t.Errorf("UsedBytes = %d, want the sum of the kinds", st.UsedBytes)
	}
	if st.OverLimit {
		t.Errorf("unexpected over limit: %+v", st)
	}
}

func TestStorageMonitor_OverLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "000001.vlog", 4096)

	st, err := NewStorageMonitor(dir, 1024).Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.LimitBytes != 1024 {
		t.Errorf("LimitBytes = %d, want 1024", st.LimitBytes)
	}
	if !st.OverLimit || st.UsedPct <= 100 {
		t.Errorf("expected usage over limit, got %+v", st)
	}
}

func TestStorageMonitor_Unlimited(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "000001.sst", 4096)

	st, err := NewStorageMonitor(dir, 0).Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.OverLimit || st.UsedPct != 0 {
		t.Errorf("no limit should never be exceeded, got %+v", st)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	dir := t.TempDir()
	sm := NewStorageMonitor(dir, 1<<30)
	now := time.Date(2019, 1, 1, 10, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	first, err := sm.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	writeFile(t, dir, "000002.sst", 4096)

	cached, err := sm.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if cached.UsedBytes != first.UsedBytes {
		t.Errorf("expected cached usage %d, got %d", first.UsedBytes, cached.UsedBytes)
	}

	now = now.Add(usageTTL)
	fresh, err := sm.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if fresh.UsedBytes <= first.UsedBytes || fresh.Files != 1 {
		t.Errorf("expected a rescan after the ttl, got %+v", fresh)
	}
	if !fresh.CheckedAt.Equal(now) {
		t.Errorf("CheckedAt = %v, want %v", fresh.CheckedAt, now)
	}
}

func TestStorageMonitor_MissingDir(t *testing.T) {
	sm := NewStorageMonitor(filepath.Join(t.TempDir(), "never-created"), 1024)
	st, err := sm.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.UsedBytes != 0 || st.Files != 0 {
		t.Errorf("expected zero usage, got %+v", st)
	}
}
