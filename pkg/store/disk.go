package store

import "fmt"

// DiskSpaceInfo contains disk usage information.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// CheckDiskSpace returns disk space information for the database directory.
func (s *Store) CheckDiskSpace() (*DiskSpaceInfo, error) {
	return diskSpace(s.path)
}

// checkDiskSpaceForWrite refuses a write when less than MinDiskSpaceBytes
// (or twice the data size) is available. Failing to stat the disk only
// logs a warning.
func (s *Store) checkDiskSpaceForWrite(dataSize int) error {
	info, err := s.CheckDiskSpace()
	if err != nil {
		s.logger.Warn("failed to check disk space", "error", err)
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}
	if info.Available < required {
		return fmt.Errorf("store: insufficient disk space: only %d MB available, need at least %d MB",
			info.Available/(1024*1024), required/(1024*1024))
	}
	if info.UsedPct >= DiskWarningPercent {
		s.logger.Warn("disk almost full", "used_pct", info.UsedPct)
	}
	return nil
}
