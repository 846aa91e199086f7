package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/crypto"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	c, err := codec.New(crypto.SchemeAESGCM, key)
	if err != nil {
		t.Fatalf("codec.New failed: %v", err)
	}
	return c
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "security", "secure_data.db")
	s, err := Open(path, newTestCodec(t), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s.checkSpace = func(int) error { return nil }
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesRestrictedFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	s := openTestStore(t)

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != FileMode {
		t.Errorf("database permissions = %04o, want %04o", perm, FileMode)
	}
	dirInfo, err := os.Stat(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if perm := dirInfo.Mode().Perm(); perm != DirMode {
		t.Errorf("directory permissions = %04o, want %04o", perm, DirMode)
	}
}

func TestOpenRequiresCodec(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "db"), nil, Options{})
	if !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.StoreCredential("openai", map[string]any{"api_key": "abc123"}); err != nil {
		t.Fatalf("StoreCredential failed: %v", err)
	}
	got, err := s.GetCredential("openai")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"api_key": "abc123"}) {
		t.Errorf("GetCredential = %#v", got)
	}
}

func TestCredentialUpsertReplaces(t *testing.T) {
	s := openTestStore(t)
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	if err := s.StoreCredential("openai", map[string]any{"api_key": "old", "org": "x"}); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.StoreCredential("openai", map[string]any{"api_key": "new"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCredential("openai")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, map[string]any{"api_key": "new"}) {
		t.Errorf("expected prior record replaced entirely, got %#v", got)
	}

	var updated string
	if err := s.db.QueryRow("SELECT last_updated FROM api_credentials WHERE service = ?", "openai").Scan(&updated); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(updated, "2025-06-01") {
		t.Errorf("last_updated = %s, want 2025-06-01", updated)
	}

	c, err := s.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if c.APICredentials != 1 {
		t.Errorf("expected 1 credential row, got %d", c.APICredentials)
	}
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetCredential("missing"); !vaulterr.IsNotFound(err) {
		t.Errorf("GetCredential: expected NotFound, got %v", err)
	}
	if _, err := s.GetUserValue("missing"); !vaulterr.IsNotFound(err) {
		t.Errorf("GetUserValue: expected NotFound, got %v", err)
	}
	if _, err := s.GetToken("missing"); !vaulterr.IsNotFound(err) {
		t.Errorf("GetToken: expected NotFound, got %v", err)
	}
	if err := s.DeleteCredential("missing"); !vaulterr.IsNotFound(err) {
		t.Errorf("DeleteCredential: expected NotFound, got %v", err)
	}
}

func TestNoPlaintextOnDisk(t *testing.T) {
	s := openTestStore(t)

	secrets := []string{"sk-plaintext-credential", "ghp_plaintext_token", "plaintext user message", "plaintext-user-value"}
	if err := s.StoreCredential("openai", map[string]any{"api_key": secrets[0]}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreToken("owner/repo", secrets[1]); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreConversation(secrets[2], "reply", "S1", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreUserValue("note", String(secrets[3])); err != nil {
		t.Fatal(err)
	}
	s.Close()

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range secrets {
		if strings.Contains(string(raw), secret) {
			t.Errorf("database file contains plaintext %q", secret)
		}
	}
}

func TestTamperedColumnIsDecryptionFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.StoreToken("a/repo", "token-a"); err != nil {
		t.Fatal(err)
	}
	var blob []byte
	if err := s.db.QueryRow("SELECT token FROM github_tokens WHERE repo = ?", "a/repo").Scan(&blob); err != nil {
		t.Fatal(err)
	}
	blob[len(blob)-1] ^= 0xff
	if _, err := s.db.Exec("UPDATE github_tokens SET token = ? WHERE repo = ?", blob, "a/repo"); err != nil {
		t.Fatal(err)
	}
	_, err := s.GetToken("a/repo")
	if !errors.Is(err, vaulterr.ErrDecryptionFailed) {
		t.Errorf("expected DecryptionFailed, got %v", err)
	}
}

func TestSwappedBlobIsDecryptionFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.StoreCredential("a", map[string]any{"k": "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreCredential("b", map[string]any{"k": "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE api_credentials SET credentials = (SELECT credentials FROM api_credentials WHERE service = 'a') WHERE service = 'b'`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetCredential("b"); !errors.Is(err, vaulterr.ErrDecryptionFailed) {
		t.Errorf("expected DecryptionFailed for swapped blob, got %v", err)
	}
	if _, err := s.GetCredential("a"); err != nil {
		t.Errorf("untouched row should still decrypt: %v", err)
	}
}

func TestWrongKeyIsDecryptionFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := Open(path, newTestCodec(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StoreToken("r", "t"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path, newTestCodec(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if _, err := s2.GetToken("r"); !errors.Is(err, vaulterr.ErrDecryptionFailed) {
		t.Errorf("expected DecryptionFailed, got %v", err)
	}
}

func TestConversationOrdering(t *testing.T) {
	s := openTestStore(t)

	for _, msg := range []string{"A", "B", "C"} {
		if _, err := s.StoreConversation(msg, "reply "+msg, "S1", map[string]any{"n": msg}); err != nil {
			t.Fatalf("StoreConversation failed: %v", err)
		}
	}
	if _, err := s.StoreConversation("other", "reply", "S2", nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListConversations("S1", 2)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(got))
	}
	if got[0].UserMessage != "C" || got[1].UserMessage != "B" {
		t.Errorf("expected [C, B], got [%s, %s]", got[0].UserMessage, got[1].UserMessage)
	}
	if got[0].AssistantMessage != "reply C" || got[0].Metadata["n"] != "C" || got[0].SessionID != "S1" {
		t.Errorf("unexpected record: %+v", got[0])
	}

	all, err := s.ListConversations("", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].UserMessage != "other" {
		t.Errorf("expected 4 conversations newest first, got %d", len(all))
	}
}

func TestConversationLimits(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.StoreConversation("u", "a", "S1", nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListConversations("S1", 0)
	if err != nil {
		t.Fatalf("limit 0: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("limit 0: expected empty slice, got %#v", got)
	}

	if _, err := s.ListConversations("S1", -1); !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("negative limit: expected InvalidInput, got %v", err)
	}

	none, err := s.ListConversations("unknown", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no conversations for unknown session, got %d", len(none))
	}
}

func TestConversationDefaults(t *testing.T) {
	s := openTestStore(t)
	s.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local) }

	if _, err := s.StoreConversation("u", "a", "", nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListConversations("", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].SessionID != "20240309140507" {
		t.Errorf("default session id = %s", got[0].SessionID)
	}
	if got[0].Metadata == nil || len(got[0].Metadata) != 0 {
		t.Errorf("default metadata = %#v", got[0].Metadata)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not recorded")
	}
}

func TestInvalidUTF8TextRejected(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreConversation("first", "ok", "S1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreConversation("caf\xc3", "ok", "S1", nil); !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("StoreConversation: expected InvalidInput, got %v", err)
	}
	if _, err := s.StoreConversation("ok", "tok\xff", "S1", nil); !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("StoreConversation assistant: expected InvalidInput, got %v", err)
	}
	got, err := s.ListConversations("S1", 10)
	if err != nil {
		t.Fatalf("history unreadable after rejected write: %v", err)
	}
	if len(got) != 1 || got[0].UserMessage != "first" {
		t.Errorf("ListConversations = %+v", got)
	}

	if err := s.StoreToken("acme/app", "tok\xff"); !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("StoreToken: expected InvalidInput, got %v", err)
	}
	if _, err := s.GetToken("acme/app"); !vaulterr.IsNotFound(err) {
		t.Errorf("rejected token was stored: %v", err)
	}

	if err := s.StoreUserValue("city", String("caf\xc3")); !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("StoreUserValue: expected InvalidInput, got %v", err)
	}
	if _, err := s.GetUserValue("city"); !vaulterr.IsNotFound(err) {
		t.Errorf("rejected value was stored: %v", err)
	}
}

func TestCanonical(t *testing.T) {
	if got := Canonical("  openai\n"); got != "openai" {
		t.Errorf("Canonical trims: got %q", got)
	}
	if got := Canonical("cafe\u0301"); got != "caf\u00e9" {
		t.Errorf("Canonical normalises to NFC: got %q", got)
	}
}

func TestUserValueTypedRoundTrip(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		key  string
		in   any
		kind ValueKind
		want any
	}{
		{"count", 42, KindInt, int64(42)},
		{"ratio", 0.25, KindFloat, 0.25},
		{"enabled", true, KindBool, true},
		{"name", "ana", KindString, "ana"},
		{"prefs", map[string]any{"theme": "dark", "size": 3}, KindDict, map[string]any{"theme": "dark", "size": int64(3)}},
		{"tags", []string{"a", "b"}, KindList, []any{"a", "b"}},
		{"empty", "", KindString, ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v, err := ValueOf(tt.in)
			if err != nil {
				t.Fatalf("ValueOf failed: %v", err)
			}
			if v.Kind() != tt.kind {
				t.Fatalf("inferred kind = %s, want %s", v.Kind(), tt.kind)
			}
			if err := s.StoreUserValue(tt.key, v); err != nil {
				t.Fatalf("StoreUserValue failed: %v", err)
			}
			got, err := s.GetUserValue(tt.key)
			if err != nil {
				t.Fatalf("GetUserValue failed: %v", err)
			}
			if got.Kind() != tt.kind {
				t.Errorf("kind = %s, want %s", got.Kind(), tt.kind)
			}
			if !reflect.DeepEqual(got.Interface(), tt.want) {
				t.Errorf("value = %#v, want %#v", got.Interface(), tt.want)
			}
		})
	}
}

func TestUserValueDeclaredKindCoerces(t *testing.T) {
	s := openTestStore(t)

	v, err := Coerce("42", KindInt)
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	if err := s.StoreUserValue("count", v); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUserValue("count")
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := got.Int(); !ok || i != 42 {
		t.Errorf("expected int 42, got %#v", got.Interface())
	}
}

func TestUserValueUnknownLabel(t *testing.T) {
	s := openTestStore(t)
	if err := s.StoreUserValue("k", Int(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE user_data SET data_type = 'complex' WHERE key = 'k'"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetUserValue("k"); !errors.Is(err, vaulterr.ErrDecryptionFailed) {
		t.Errorf("expected DecryptionFailed, got %v", err)
	}
}

func TestUserValueRelabelledIsDecryptionFailed(t *testing.T) {
	s := openTestStore(t)
	if err := s.StoreUserValue("k", Int(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE user_data SET data_type = 'string' WHERE key = 'k'"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetUserValue("k"); !errors.Is(err, vaulterr.ErrDecryptionFailed) {
		t.Errorf("expected DecryptionFailed, got %v", err)
	}
}

func TestStoreZeroValueRejected(t *testing.T) {
	s := openTestStore(t)
	if err := s.StoreUserValue("k", Value{}); !errors.Is(err, vaulterr.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestIdentifierValidation(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"control", "open\x00ai"},
		{"newline", "a\nb"},
		{"too long", strings.Repeat("x", MaxIdentifierLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.StoreCredential(tt.id, map[string]any{})
			if !errors.Is(err, vaulterr.ErrInvalidInput) {
				t.Errorf("expected InvalidInput, got %v", err)
			}
		})
	}
}

func TestIdentifierNormalisation(t *testing.T) {
	s := openTestStore(t)

	// "é" precomposed vs decomposed
	if err := s.StoreToken("café", "t1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetToken(" café ")
	if err != nil {
		t.Fatalf("expected normalised lookup to succeed: %v", err)
	}
	if got != "t1" {
		t.Errorf("token = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	if err := s.StoreUserValue("k", String("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUserValue("k"); err != nil {
		t.Fatalf("DeleteUserValue failed: %v", err)
	}
	if _, err := s.GetUserValue("k"); !vaulterr.IsNotFound(err) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}

	if err := s.StoreToken("r", "t"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteToken("r"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
}

func TestWipe(t *testing.T) {
	s := openTestStore(t)

	if err := s.StoreCredential("openai", map[string]any{"api_key": "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreUserValue("k", Int(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreToken("r", "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreConversation("u", "a", "S1", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.Wipe(); err != nil {
		t.Fatalf("Wipe failed: %v", err)
	}

	c, err := s.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if c.Total() != 0 {
		t.Errorf("expected all counts zero after wipe, got %+v", c)
	}
	if _, err := s.GetCredential("openai"); !vaulterr.IsNotFound(err) {
		t.Errorf("expected NotFound after wipe, got %v", err)
	}

	id, err := s.StoreConversation("u", "a", "S1", nil)
	if err != nil {
		t.Fatalf("store after wipe failed: %v", err)
	}
	if id != 1 {
		t.Errorf("expected conversation ids to restart at 1, got %d", id)
	}

	versions, err := s.SchemaVersions()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(versions, latestVersions()) {
		t.Errorf("schema versions after wipe = %v", versions)
	}
}

func TestWipeIsAtomicForReaders(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 20; i++ {
		if err := s.StoreUserValue(fmt.Sprintf("k%02d", i), Int(int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	observed := make(chan int, 200)
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c, err := s.Counts()
				if err != nil {
					continue
				}
				select {
				case observed <- c.UserData:
				default:
				}
			}
		}()
	}

	if err := s.Wipe(); err != nil {
		t.Fatal(err)
	}
	close(stop)
	wg.Wait()
	close(observed)

	for n := range observed {
		if n != 0 && n != 20 {
			t.Errorf("reader observed partial wipe: %d rows", n)
		}
	}
}

func TestKeyNames(t *testing.T) {
	s := openTestStore(t)
	for _, svc := range []string{"weatherapi", "elevenlabs", "openai"} {
		if err := s.StoreCredential(svc, map[string]any{"api_key": "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.StoreUserValue("name", String("ana")); err != nil {
		t.Fatal(err)
	}

	k, err := s.KeyNames()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(k.APIServices, []string{"elevenlabs", "openai", "weatherapi"}) {
		t.Errorf("APIServices = %v", k.APIServices)
	}
	if !reflect.DeepEqual(k.UserDataKeys, []string{"name"}) {
		t.Errorf("UserDataKeys = %v", k.UserDataKeys)
	}
	if len(k.GitHubRepos) != 0 {
		t.Errorf("GitHubRepos = %v", k.GitHubRepos)
	}
}

func TestIntegrity(t *testing.T) {
	s := openTestStore(t)
	result, err := s.Integrity()
	if err != nil {
		t.Fatalf("Integrity failed: %v", err)
	}
	if runtime.GOOS != "windows" && !result.Valid {
		t.Errorf("expected valid database, got errors %v", result.Errors)
	}
	if result.SchemaVersions[TableConversations] != 2 {
		t.Errorf("conversation schema version = %d, want 2", result.SchemaVersions[TableConversations])
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	c := newTestCodec(t)
	s, err := Open(path, c, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StoreToken("r", "t"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path, c, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	if got, err := s2.GetToken("r"); err != nil || got != "t" {
		t.Errorf("GetToken after reopen = %q, %v", got, err)
	}
}

func TestNewerSchemaRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	c := newTestCodec(t)
	s, err := Open(path, c, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE schema_versions SET version = 99 WHERE collection = ?", TableTokens); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := Open(path, c, Options{}); !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Errorf("expected StorageUnavailable for newer schema, got %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t)
	s.Close()

	if err := s.StoreToken("r", "t"); !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Errorf("StoreToken on closed store: %v", err)
	}
	if _, err := s.GetToken("r"); !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Errorf("GetToken on closed store: %v", err)
	}
	if _, err := s.Counts(); !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Errorf("Counts on closed store: %v", err)
	}
}

func TestDiskFullIsStorageUnavailable(t *testing.T) {
	s := openTestStore(t)
	s.checkSpace = func(int) error { return errors.New("store: insufficient disk space") }

	if err := s.StoreToken("r", "t"); !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Errorf("expected StorageUnavailable, got %v", err)
	}
	if _, err := s.StoreConversation("u", "a", "S1", nil); !errors.Is(err, vaulterr.ErrStorageUnavailable) {
		t.Errorf("expected StorageUnavailable, got %v", err)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := s.StoreConversation(fmt.Sprintf("u%d-%d", i, j), "a", "S1", nil); err != nil {
					t.Errorf("StoreConversation failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	c, err := s.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if c.Conversations != 80 {
		t.Errorf("expected 80 conversations, got %d", c.Conversations)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	s := openTestStore(t)
	info, err := s.CheckDiskSpace()
	if err != nil {
		t.Fatalf("CheckDiskSpace failed: %v", err)
	}
	if info.Total == 0 {
		t.Error("expected non-zero total disk space")
	}
}

func TestPlainModeStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := Open(path, codec.NewPlain(nil), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.StoreCredential("openai", map[string]any{"api_key": "abc123"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetCredential("openai")
	if err != nil {
		t.Fatal(err)
	}
	if got["api_key"] != "abc123" {
		t.Errorf("GetCredential = %#v", got)
	}
}
