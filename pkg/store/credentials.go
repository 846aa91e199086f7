package store

import (
	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// StoreCredential encrypts creds and upserts them under service.
func (s *Store) StoreCredential(service string, creds map[string]any) error {
	const op = "store.store_credential"
	service, err := identifier(op, "service", service)
	if err != nil {
		return err
	}
	if creds == nil {
		creds = map[string]any{}
	}

	blob, err := s.codec.Seal(codec.Record(creds), aad(TableCredentials, service, "credentials"))
	if err != nil {
		return classify(op, err)
	}

	err = s.upsert(op, `
		INSERT INTO api_credentials (service, credentials, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			credentials = excluded.credentials,
			last_updated = excluded.last_updated`,
		len(blob), service, blob, s.timestamp())
	if err != nil {
		return err
	}
	s.logger.Debug("stored api credentials", "service", service)
	return nil
}

// GetCredential returns the credentials stored under service, or NotFound.
func (s *Store) GetCredential(service string) (map[string]any, error) {
	const op = "store.get_credential"
	service, err := identifier(op, "service", service)
	if err != nil {
		return nil, err
	}

	blob, err := s.fetch(op, "SELECT credentials FROM api_credentials WHERE service = ?", service)
	if err != nil {
		return nil, err
	}
	p, err := s.codec.Open(blob, aad(TableCredentials, service, "credentials"))
	if err != nil {
		s.logger.Error("failed to decrypt api credentials", "service", service, "error", err)
		return nil, classify(op, err)
	}
	if p.Kind != codec.KindRecord {
		return nil, vaulterr.Errorf(vaulterr.KindDecryptionFailed, op, "credentials for %q are not a record", service)
	}
	return p.Record, nil
}

// DeleteCredential removes the credentials stored under service.
func (s *Store) DeleteCredential(service string) error {
	const op = "store.delete_credential"
	service, err := identifier(op, "service", service)
	if err != nil {
		return err
	}
	return s.remove(op, TableCredentials, "service", service)
}
