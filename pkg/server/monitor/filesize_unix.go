//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// allocatedSize returns the bytes allocated on disk, which is smaller than
// the logical size for sparse files such as badger's value log.
func allocatedSize(_ string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	return stat.Blocks * 512, nil
}
