package monitor

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// usageTTL bounds how often the data directory is walked.
const usageTTL = 10 * time.Second

// StorageStatus is the body of /v1/storage. Badger keeps keys in .sst tables
// and large values in .vlog files; everything else (MANIFEST, KEYREGISTRY,
// locks) is counted as other.
type StorageStatus struct {
	UsedBytes     int64     `json:"used_bytes"`
	LimitBytes    int64     `json:"limit_bytes"`
	UsedPct       float64   `json:"used_pct"`
	OverLimit     bool      `json:"over_limit"`
	TableBytes    int64     `json:"table_bytes"`
	ValueLogBytes int64     `json:"value_log_bytes"`
	OtherBytes    int64     `json:"other_bytes"`
	Files         int       `json:"files"`
	CheckedAt     time.Time `json:"checked_at"`
}

// StorageMonitor reports how much disk the event log uses under the data
// directory against the configured limit. A data directory that does not
// exist (memory and postgres backends) reports zero usage.
type StorageMonitor struct {
	dataDir string
	limit   int64
	ttl     time.Duration
	now     func() time.Time

	mu   sync.Mutex
	last *StorageStatus
}

// NewStorageMonitor creates a monitor for dataDir with a limit in bytes.
// A limit <= 0 means unlimited.
func NewStorageMonitor(dataDir string, limit int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir: dataDir,
		limit:   limit,
		ttl:     usageTTL,
		now:     time.Now,
	}
}

// Status returns the current usage, walking the data directory at most once
// per ttl.
func (sm *StorageMonitor) Status() (StorageStatus, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	if sm.last != nil && now.Sub(sm.last.CheckedAt) < sm.ttl {
		return *sm.last, nil
	}

	st, err := scanDataDir(sm.dataDir)
	if err != nil {
		return StorageStatus{}, err
	}
	st.CheckedAt = now
	st.LimitBytes = sm.limit
	if sm.limit > 0 {
		st.UsedPct = float64(st.UsedBytes) / float64(sm.limit) * 100
		st.OverLimit = st.UsedBytes > sm.limit
	}
	sm.last = &st
	return st, nil
}

func scanDataDir(root string) (StorageStatus, error) {
	var st StorageStatus
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			var info fs.FileInfo
			if info, err = d.Info(); err == nil {
				st.add(path, info)
			}
		}
		// badger removes tables and value logs while compacting
		if errors.Is(err, fs.ErrNotExist) {
			if path == root {
				return filepath.SkipAll
			}
			return nil
		}
		return err
	})
	if err != nil {
		return StorageStatus{}, err
	}
	return st, nil
}

func (st *StorageStatus) add(path string, info fs.FileInfo) {
	n, err := allocatedSize(path, info)
	if err != nil {
		n = info.Size()
	}

	st.Files++
	st.UsedBytes += n
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sst":
		st.TableBytes += n
	case ".vlog":
		st.ValueLogBytes += n
	default:
		st.OtherBytes += n
	}
}
