package gateway

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk policy override format.
//
//	version: 1
//	services:
//	  weatherapi:
//	    response_denylist: [location]
type PolicyFile struct {
	Version  int               `yaml:"version"`
	Services map[string]Policy `yaml:"services"`
}

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("gateway: policy file not found")

// ErrPolicyInsecure is returned when policy file has insecure permissions
var ErrPolicyInsecure = errors.New("gateway: policy file has insecure permissions")

// ErrPolicySymlink is returned when policy file is a symlink
var ErrPolicySymlink = errors.New("gateway: policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when policy file is not owned by current user
var ErrPolicyNotOwnedByUser = errors.New("gateway: policy file not owned by current user")

// LoadPolicyFile reads policy overrides from path. The file is opened
// without following symlinks and checked through the open descriptor, so
// it cannot be swapped between the check and the read.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	// 1. Open, rejecting symlinks
	f, err := openPolicyFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// 2. fstat the descriptor we will read from
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to stat policy file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("gateway: policy file is not a regular file")
	}

	// 3. Check permissions (0600) and ownership (current user)
	if err := checkFileSecurity(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to read policy file: %w", err)
	}
	return ParsePolicyFile(content)
}

// ParsePolicyFile parses and validates policy file content.
func ParsePolicyFile(content []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(content, &pf); err != nil {
		return nil, fmt.Errorf("gateway: failed to parse policy file: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks the version and that every service name is non-empty.
func (pf *PolicyFile) Validate() error {
	if pf.Version != 1 {
		return fmt.Errorf("gateway: unsupported policy version: %d", pf.Version)
	}
	for name, p := range pf.Services {
		if name == "" {
			return fmt.Errorf("gateway: policy service name must not be empty")
		}
		for _, f := range p.PseudonymizeFields {
			if f == "" || f == HeadersField {
				return fmt.Errorf("gateway: service %s: invalid pseudonymize field %q", name, f)
			}
		}
		if _, ok := p.SetFields[HeadersField]; ok {
			return fmt.Errorf("gateway: service %s: set_fields must not replace %s", name, HeadersField)
		}
	}
	return nil
}

// ApplyPolicyFile installs every service policy from pf, replacing the
// built-in entry of the same name.
func (g *Gateway) ApplyPolicyFile(pf *PolicyFile) {
	for name, p := range pf.Services {
		g.SetPolicy(name, p)
		g.logger.Debug("policy override installed", "service", name)
	}
}
