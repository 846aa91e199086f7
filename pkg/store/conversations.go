package store

import (
	"fmt"
	"time"

	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// Conversation is one decrypted exchange.
type Conversation struct {
	ID               int64          `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	SessionID        string         `json:"session_id"`
	UserMessage      string         `json:"user_message"`
	AssistantMessage string         `json:"assistant_message"`
	Metadata         map[string]any `json:"metadata"`
}

// DefaultSessionID returns the session id used when the caller gives none:
// the local time as YYYYMMDDhhmmss.
func (s *Store) DefaultSessionID() string {
	return s.now().Format(sessionIDLayout)
}

// StoreConversation appends one exchange and returns its id. An empty
// sessionID defaults to DefaultSessionID; nil metadata is stored as {}.
func (s *Store) StoreConversation(userMessage, assistantMessage, sessionID string, metadata map[string]any) (int64, error) {
	const op = "store.store_conversation"
	if sessionID == "" {
		sessionID = s.DefaultSessionID()
	}
	sessionID, err := identifier(op, "session id", sessionID)
	if err != nil {
		return 0, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	userBlob, err := s.codec.Seal(codec.Text(userMessage), aad(TableConversations, sessionID, "user_message"))
	if err != nil {
		return 0, classify(op, err)
	}
	assistantBlob, err := s.codec.Seal(codec.Text(assistantMessage), aad(TableConversations, sessionID, "assistant_message"))
	if err != nil {
		return 0, classify(op, err)
	}
	metaBlob, err := s.codec.Seal(codec.Record(metadata), aad(TableConversations, sessionID, "metadata"))
	if err != nil {
		return 0, classify(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, vaulterr.New(vaulterr.KindStorageUnavailable, op, errClosed)
	}
	if err := s.checkSpace(len(userBlob) + len(assistantBlob) + len(metaBlob)); err != nil {
		return 0, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	result, err := s.db.Exec(`
		INSERT INTO conversation_history (timestamp, session_id, user_message, assistant_message, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		s.timestamp(), sessionID, userBlob, assistantBlob, metaBlob)
	if err != nil {
		return 0, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
	}
	s.logger.Debug("stored conversation", "session_id", sessionID, "id", id)
	return id, nil
}

// ListConversations returns up to limit exchanges, newest first. An empty
// sessionID lists across all sessions. A zero limit yields an empty slice;
// a negative limit is InvalidInput. Any undecryptable row fails the call
// with DecryptionFailed naming the row.
func (s *Store) ListConversations(sessionID string, limit int) ([]Conversation, error) {
	const op = "store.list_conversations"
	if limit < 0 {
		return nil, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "limit must not be negative, got %d", limit)
	}
	if sessionID != "" {
		var err error
		if sessionID, err = identifier(op, "session id", sessionID); err != nil {
			return nil, err
		}
	}
	if limit == 0 {
		return []Conversation{}, nil
	}

	type row struct {
		id                    int64
		ts, session           string
		user, assistant, meta []byte
	}

	rows, err := func() ([]row, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.db == nil {
			return nil, errClosed
		}

		query := "SELECT id, timestamp, session_id, user_message, assistant_message, metadata FROM conversation_history"
		args := []any{}
		if sessionID != "" {
			query += " WHERE session_id = ?"
			args = append(args, sessionID)
		}
		query += " ORDER BY id DESC LIMIT ?"
		args = append(args, limit)

		rs, err := s.db.Query(query, args...)
		if err != nil {
			return nil, err
		}
		defer rs.Close()

		var out []row
		for rs.Next() {
			var r row
			if err := rs.Scan(&r.id, &r.ts, &r.session, &r.user, &r.assistant, &r.meta); err != nil {
				return nil, fmt.Errorf("store: failed to scan conversation: %w", err)
			}
			out = append(out, r)
		}
		return out, rs.Err()
	}()
	if err != nil {
		return nil, classify(op, err)
	}

	conversations := make([]Conversation, 0, len(rows))
	for _, r := range rows {
		c := Conversation{ID: r.id, Timestamp: parseTime(r.ts), SessionID: r.session}

		user, err := s.openText(r.user, aad(TableConversations, r.session, "user_message"))
		if err != nil {
			return nil, s.rowError(op, r.id, err)
		}
		assistant, err := s.openText(r.assistant, aad(TableConversations, r.session, "assistant_message"))
		if err != nil {
			return nil, s.rowError(op, r.id, err)
		}
		meta, err := s.codec.Open(r.meta, aad(TableConversations, r.session, "metadata"))
		if err != nil {
			return nil, s.rowError(op, r.id, err)
		}
		if meta.Kind != codec.KindRecord {
			return nil, s.rowError(op, r.id, fmt.Errorf("store: metadata is not a record"))
		}

		c.UserMessage, c.AssistantMessage, c.Metadata = user, assistant, meta.Record
		conversations = append(conversations, c)
	}
	return conversations, nil
}

func (s *Store) openText(blob, context []byte) (string, error) {
	p, err := s.codec.Open(blob, context)
	if err != nil {
		return "", err
	}
	if p.Kind != codec.KindText {
		return "", fmt.Errorf("store: message is not text")
	}
	return p.Text, nil
}

func (s *Store) rowError(op string, id int64, err error) error {
	s.logger.Error("failed to decrypt conversation", "id", id, "error", err)
	return vaulterr.New(vaulterr.KindDecryptionFailed, op,
		fmt.Errorf("conversation %d: %w", id, err))
}
