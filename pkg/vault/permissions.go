package vault

import (
	"github.com/forest6511/anavault/pkg/keyfile"
)

// PermissionReport describes whether the persisted files are owner-only.
type PermissionReport struct {
	KeyFile           string   `json:"key_file,omitempty"`
	KeyFileOwnerOnly  bool     `json:"key_file_owner_only"`
	Database          string   `json:"database"`
	DatabaseOwnerOnly bool     `json:"database_owner_only"`
	Problems          []string `json:"problems,omitempty"`
}

// OK reports whether no problem was found.
func (r *PermissionReport) OK() bool {
	return len(r.Problems) == 0
}

// CheckPermissions inspects the key file (when encrypting) and database.
func (v *Vault) CheckPermissions() *PermissionReport {
	r := &PermissionReport{Database: v.store.Path()}

	if v.keyPath != "" {
		r.KeyFile = v.keyPath
		if err := keyfile.CheckOwnerOnly(v.keyPath); err != nil {
			r.Problems = append(r.Problems, err.Error())
		} else {
			r.KeyFileOwnerOnly = true
		}
	}

	if err := keyfile.CheckOwnerOnly(r.Database); err != nil {
		r.Problems = append(r.Problems, err.Error())
	} else {
		r.DatabaseOwnerOnly = true
	}
	return r
}
