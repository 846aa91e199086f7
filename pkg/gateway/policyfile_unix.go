//go:build !windows

package gateway

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// openPolicyFile opens the policy file with O_NOFOLLOW to reject symlinks
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrPolicySymlink
		}
		return nil, fmt.Errorf("gateway: failed to open policy file: %w", err)
	}
	return f, nil
}

// checkFileSecurity requires mode 0600 and ownership by the current user
func checkFileSecurity(info os.FileInfo) error {
	if perm := info.Mode().Perm(); perm != 0600 {
		return fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if ok {
		if stat.Uid != uint32(os.Getuid()) {
			return ErrPolicyNotOwnedByUser
		}
	}
	return nil
}
