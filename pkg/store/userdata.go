package store

import (
	"database/sql"
	"errors"

	"github.com/forest6511/anavault/pkg/vaulterr"
)

// StoreUserValue encrypts v and upserts it under key together with its
// kind label.
func (s *Store) StoreUserValue(key string, v Value) error {
	const op = "store.store_user_value"
	key, err := identifier(op, "key", key)
	if err != nil {
		return err
	}
	label := v.Kind().Label()
	if label == "" {
		return vaulterr.Errorf(vaulterr.KindInvalidInput, op, "invalid value")
	}

	p, err := v.payload()
	if err != nil {
		return vaulterr.New(vaulterr.KindInvalidInput, op, err)
	}
	blob, err := s.codec.Seal(p, aad(TableUserData, key, "value", label))
	if err != nil {
		return classify(op, err)
	}

	err = s.upsert(op, `
		INSERT INTO user_data (key, value, data_type, last_updated) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			data_type = excluded.data_type,
			last_updated = excluded.last_updated`,
		len(blob), key, blob, label, s.timestamp())
	if err != nil {
		return err
	}
	s.logger.Debug("stored user data", "key", key, "type", label)
	return nil
}

// GetUserValue returns the value stored under key, reconstructed with its
// declared kind, or NotFound. A row whose label is unknown or whose payload
// does not parse as the declared kind is DecryptionFailed.
func (s *Store) GetUserValue(key string) (Value, error) {
	const op = "store.get_user_value"
	key, err := identifier(op, "key", key)
	if err != nil {
		return Value{}, err
	}

	var blob []byte
	var label string
	err = func() error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.db == nil {
			return vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
		}
		err := s.db.QueryRow("SELECT value, data_type FROM user_data WHERE key = ?", key).Scan(&blob, &label)
		if errors.Is(err, sql.ErrNoRows) {
			return vaulterr.New(vaulterr.KindNotFound, op, nil)
		}
		if err != nil {
			return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
		}
		return nil
	}()
	if err != nil {
		return Value{}, err
	}

	kind, err := ParseKind(label)
	if err != nil {
		return Value{}, vaulterr.New(vaulterr.KindDecryptionFailed, op, err)
	}
	p, err := s.codec.Open(blob, aad(TableUserData, key, "value", kind.Label()))
	if err != nil {
		s.logger.Error("failed to decrypt user data", "key", key, "error", err)
		return Value{}, classify(op, err)
	}
	v, err := valueFromPayload(kind, p)
	if err != nil {
		return Value{}, vaulterr.New(vaulterr.KindDecryptionFailed, op, err)
	}
	return v, nil
}

// DeleteUserValue removes the value stored under key.
func (s *Store) DeleteUserValue(key string) error {
	const op = "store.delete_user_value"
	key, err := identifier(op, "key", key)
	if err != nil {
		return err
	}
	return s.remove(op, TableUserData, "key", key)
}
