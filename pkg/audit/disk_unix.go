//go:build !windows

package audit

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// checkDiskSpace verifies sufficient disk space for journal writes
func checkDiskSpace(dir string) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		if err := unix.Statfs(filepath.Dir(dir), &stat); err != nil {
			slog.Warn("failed to check disk space for journal", "error", err)
			return nil
		}
	}

	available := uint64(stat.Bavail) * uint64(stat.Bsize)
	if available < MinJournalDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinJournalDiskSpace)
	}
	return nil
}
