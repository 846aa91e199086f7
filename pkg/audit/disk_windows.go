//go:build windows

package audit

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/windows"
)

// checkDiskSpace verifies sufficient disk space for journal writes
func checkDiskSpace(dir string) error {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return nil
	}
	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &available, &total, &free); err != nil {
		slog.Warn("failed to check disk space for journal", "error", err)
		return nil
	}
	if available < MinJournalDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			available, MinJournalDiskSpace)
	}
	return nil
}
