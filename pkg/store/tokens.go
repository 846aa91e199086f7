package store

import (
	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// StoreToken encrypts token and upserts it under repo.
func (s *Store) StoreToken(repo, token string) error {
	const op = "store.store_token"
	repo, err := identifier(op, "repo", repo)
	if err != nil {
		return err
	}

	blob, err := s.codec.Seal(codec.Text(token), aad(TableTokens, repo, "token"))
	if err != nil {
		return classify(op, err)
	}

	err = s.upsert(op, `
		INSERT INTO github_tokens (repo, token, last_updated) VALUES (?, ?, ?)
		ON CONFLICT(repo) DO UPDATE SET
			token = excluded.token,
			last_updated = excluded.last_updated`,
		len(blob), repo, blob, s.timestamp())
	if err != nil {
		return err
	}
	s.logger.Debug("stored token", "repo", repo)
	return nil
}

// GetToken returns the token stored under repo, or NotFound.
func (s *Store) GetToken(repo string) (string, error) {
	const op = "store.get_token"
	repo, err := identifier(op, "repo", repo)
	if err != nil {
		return "", err
	}

	blob, err := s.fetch(op, "SELECT token FROM github_tokens WHERE repo = ?", repo)
	if err != nil {
		return "", err
	}
	p, err := s.codec.Open(blob, aad(TableTokens, repo, "token"))
	if err != nil {
		s.logger.Error("failed to decrypt token", "repo", repo, "error", err)
		return "", classify(op, err)
	}
	if p.Kind != codec.KindText {
		return "", vaulterr.Errorf(vaulterr.KindDecryptionFailed, op, "token for %q is not text", repo)
	}
	return p.Text, nil
}

// DeleteToken removes the token stored under repo.
func (s *Store) DeleteToken(repo string) error {
	const op = "store.delete_token"
	repo, err := identifier(op, "repo", repo)
	if err != nil {
		return err
	}
	return s.remove(op, TableTokens, "repo", repo)
}
