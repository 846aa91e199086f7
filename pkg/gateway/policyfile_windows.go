//go:build windows

package gateway

import (
	"fmt"
	"os"
)

// openPolicyFile opens the policy file on Windows, which has no O_NOFOLLOW.
// Creating symlinks there requires special privileges.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("gateway: failed to open policy file: %w", err)
	}
	return f, nil
}

// checkFileSecurity is a no-op: Windows access control is ACL based and
// not reflected in the mode bits.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
