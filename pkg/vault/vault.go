// Package vault is the collaborator-facing facade over the key file, codec,
// record store, encrypted file area, privacy gateway, reporter and
// operation journal.
//
// Every collaborator receives a *Vault at construction. Methods block,
// are safe for concurrent use and return *vaulterr.Error values whose Kind
// callers can switch on.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forest6511/anavault/pkg/audit"
	"github.com/forest6511/anavault/pkg/blobstore"
	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/crypto"
	"github.com/forest6511/anavault/pkg/events"
	"github.com/forest6511/anavault/pkg/gateway"
	"github.com/forest6511/anavault/pkg/keyfile"
	"github.com/forest6511/anavault/pkg/store"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// DefaultConversationLimit is the conventional page size for GetConversations.
const DefaultConversationLimit = 100

// Default file names under the data directory.
const (
	SecurityDirName = "security"
	KeyFileName     = "key.bin"
	DBFileName      = "secure_data.db"
	FilesDirName    = "files"
	JournalDirName  = "audit"
)

// pseudonymKeyPurpose is the HKDF info for the gateway pseudonym key.
const pseudonymKeyPurpose = "pseudonym-v1"

// Options configures Open.
type Options struct {
	// KeyFile is the key path. Ignored when DisableEncryption is set.
	KeyFile string
	// Database is the SQLite database path.
	Database string
	// FilesDir is the root of the purpose-scoped file area.
	FilesDir string
	// JournalDir holds the operation journal. Empty disables it.
	JournalDir string

	// Cipher selects the scheme for new blobs. Zero means AES-256-GCM.
	Cipher crypto.Scheme
	// DisableEncryption stores bodies unencrypted and turns off the journal.
	DisableEncryption bool

	// PolicyFile optionally overrides gateway policies.
	PolicyFile string
	// PseudonymPrefix defaults to gateway.DefaultPseudonymPrefix.
	PseudonymPrefix string

	// Bus receives vault events. Nil creates a private bus.
	Bus    *events.Bus
	Logger *slog.Logger
}

// DefaultOptions lays every path out under dataDir.
func DefaultOptions(dataDir string) Options {
	security := filepath.Join(dataDir, SecurityDirName)
	return Options{
		KeyFile:    filepath.Join(security, KeyFileName),
		Database:   filepath.Join(security, DBFileName),
		FilesDir:   filepath.Join(dataDir, FilesDirName),
		JournalDir: filepath.Join(security, JournalDirName),
		Cipher:     crypto.SchemeAESGCM,
	}
}

// Vault is the assembled secure data vault.
type Vault struct {
	keyPath  string
	codec    *codec.Codec
	store    *store.Store
	files    *blobstore.Area
	gateway  *gateway.Gateway
	reporter *audit.Reporter
	journal  *audit.Journal
	bus      *events.Bus
	logger   *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// ErrClosed is returned by every operation on a closed Vault.
var ErrClosed = errors.New("vault: closed")

// Open builds a Vault. A key that can be neither read nor created aborts
// construction with KindKeyUnavailable.
func Open(opts Options) (*Vault, error) {
	const op = "vault.open"

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Database == "" || opts.FilesDir == "" {
		return nil, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "database and files directory are required")
	}
	if !opts.DisableEncryption && opts.KeyFile == "" {
		return nil, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "key file is required when encryption is enabled")
	}

	v := &Vault{bus: opts.Bus, logger: logger.With("component", "vault")}
	if v.bus == nil {
		v.bus = events.NewBus(logger)
	}

	if opts.DisableEncryption {
		v.codec = codec.NewPlain(logger)
	} else {
		v.keyPath = opts.KeyFile
		key, err := keyfile.New(opts.KeyFile, logger).LoadOrCreate()
		if err != nil {
			return nil, err
		}
		scheme := opts.Cipher
		if scheme == 0 {
			scheme = crypto.SchemeAESGCM
		}
		v.codec, err = codec.New(scheme, key)
		crypto.SecureWipe(key)
		if err != nil {
			return nil, err
		}
	}

	st, err := store.Open(opts.Database, v.codec, store.Options{Logger: logger})
	if err != nil {
		v.codec.Close()
		return nil, err
	}
	v.store = st
	v.files = blobstore.New(opts.FilesDir, v.codec, logger)

	if err := v.initGateway(opts, logger); err != nil {
		v.Close()
		return nil, err
	}

	v.reporter = audit.NewReporter(st, v.codec, audit.ReporterOptions{
		Files:  v.files,
		Bus:    v.bus,
		Logger: logger,
	})

	if v.codec.Encrypted() && opts.JournalDir != "" {
		v.journal, err = audit.NewJournal(opts.JournalDir, v.codec.Key(), logger)
		if err != nil {
			v.Close()
			return nil, err
		}
	}

	v.logger.Info("vault opened", "mode", string(v.codec.Mode()), "cipher", v.codec.CipherName())
	return v, nil
}

func (v *Vault) initGateway(opts Options, logger *slog.Logger) error {
	const op = "vault.open"

	var pseudonymKey []byte
	if v.codec.Encrypted() {
		k, err := crypto.DeriveSubkey(v.codec.Key(), pseudonymKeyPurpose)
		if err != nil {
			return vaulterr.New(vaulterr.KindKeyUnavailable, op, err)
		}
		pseudonymKey = k
		defer crypto.SecureWipe(pseudonymKey)
	}

	v.gateway = gateway.New(v.store, gateway.Options{
		PseudonymKey:    pseudonymKey,
		PseudonymPrefix: opts.PseudonymPrefix,
		Logger:          logger,
	})

	if opts.PolicyFile == "" {
		return nil
	}
	pf, err := gateway.LoadPolicyFile(opts.PolicyFile)
	if errors.Is(err, gateway.ErrPolicyNotFound) {
		v.logger.Warn("privacy policy file not found, using built-in policies", "path", opts.PolicyFile)
		return nil
	}
	if err != nil {
		return vaulterr.New(vaulterr.KindInvalidInput, op, err)
	}
	v.gateway.ApplyPolicyFile(pf)
	return nil
}

// Close closes the database and wipes key material held in memory.
func (v *Vault) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		if v.store != nil {
			v.closeErr = v.store.Close()
		}
		v.journal.Close()
		v.codec.Close()
		v.logger.Info("vault closed")
	})
	return v.closeErr
}

// Bus returns the event bus the vault publishes to.
func (v *Vault) Bus() *events.Bus {
	return v.bus
}

// Gateway returns the privacy gateway, for the typed chat adapter.
func (v *Vault) Gateway() *gateway.Gateway {
	return v.gateway
}

// Encrypted reports whether the vault encrypts at rest.
func (v *Vault) Encrypted() bool {
	return v.codec.Encrypted()
}

func (v *Vault) guard(op string) error {
	if v.closed.Load() {
		return vaulterr.New(vaulterr.KindStorageUnavailable, op, ErrClosed)
	}
	return nil
}

// record appends to the journal. Journal failures are logged, never
// returned: the operation itself already succeeded or failed.
func (v *Vault) record(op, identifier string, err error) {
	if v.closed.Load() {
		return
	}
	if jerr := v.journal.Record(op, identifier, err); jerr != nil {
		v.logger.Warn("journal append failed", "op", op, "error", jerr)
	}
}

func (v *Vault) publish(topic events.Topic, attrs map[string]string) {
	v.bus.Publish(topic, attrs)
}

// StoreAPICredentials stores credentials for service, replacing any
// previous entry.
func (v *Vault) StoreAPICredentials(service string, credentials map[string]any) error {
	if err := v.guard("vault.store_credentials"); err != nil {
		return err
	}
	err := v.store.StoreCredential(service, credentials)
	v.record(audit.OpCredentialStore, service, err)
	if err != nil {
		return err
	}
	v.publish(events.TopicCredentialsStored, map[string]string{"service": service})
	return nil
}

// GetAPICredentials returns the credentials stored for service.
func (v *Vault) GetAPICredentials(service string) (map[string]any, error) {
	if err := v.guard("vault.get_credentials"); err != nil {
		return nil, err
	}
	creds, err := v.store.GetCredential(service)
	v.record(audit.OpCredentialGet, service, err)
	return creds, err
}

// DeleteAPICredentials removes the credentials stored for service.
func (v *Vault) DeleteAPICredentials(service string) error {
	if err := v.guard("vault.delete_credentials"); err != nil {
		return err
	}
	err := v.store.DeleteCredential(service)
	v.record(audit.OpCredentialDelete, service, err)
	return err
}

// StoreConversation appends a conversation turn and returns its id. An empty
// sessionID is replaced by the current local timestamp; the journal and the
// published event carry the session id as stored.
func (v *Vault) StoreConversation(userMessage, assistantMessage, sessionID string, metadata map[string]any) (int64, error) {
	if err := v.guard("vault.store_conversation"); err != nil {
		return 0, err
	}
	if sessionID == "" {
		sessionID = v.store.DefaultSessionID()
	}
	id, err := v.store.StoreConversation(userMessage, assistantMessage, sessionID, metadata)
	sessionID = store.Canonical(sessionID)
	v.record(audit.OpConversationStore, sessionID, err)
	if err != nil {
		return 0, err
	}
	v.publish(events.TopicConversationStored, map[string]string{
		"session_id": sessionID,
		"id":         fmt.Sprint(id),
	})
	return id, nil
}

// GetConversations returns up to limit turns, newest first. An empty
// sessionID lists every session.
func (v *Vault) GetConversations(sessionID string, limit int) ([]store.Conversation, error) {
	if err := v.guard("vault.get_conversations"); err != nil {
		return nil, err
	}
	convs, err := v.store.ListConversations(sessionID, limit)
	v.record(audit.OpConversationList, sessionID, err)
	return convs, err
}

// StoreUserData stores value under key, inferring its kind.
func (v *Vault) StoreUserData(key string, value any) error {
	if err := v.guard("vault.store_user_data"); err != nil {
		return err
	}
	val, err := store.ValueOf(value)
	if err != nil {
		v.record(audit.OpUserDataStore, key, err)
		return err
	}
	return v.storeUserValue(key, val)
}

// StoreUserDataAs stores value under key as kind, coercing compatible
// values (for example "42" as KindInt).
func (v *Vault) StoreUserDataAs(key string, value any, kind store.ValueKind) error {
	if err := v.guard("vault.store_user_data"); err != nil {
		return err
	}
	val, err := store.Coerce(value, kind)
	if err != nil {
		v.record(audit.OpUserDataStore, key, err)
		return err
	}
	return v.storeUserValue(key, val)
}

func (v *Vault) storeUserValue(key string, val store.Value) error {
	err := v.store.StoreUserValue(key, val)
	v.record(audit.OpUserDataStore, key, err)
	if err != nil {
		return err
	}
	v.publish(events.TopicUserDataStored, map[string]string{"key": key, "kind": val.Kind().Label()})
	return nil
}

// GetUserData returns the value stored under key with its original kind.
func (v *Vault) GetUserData(key string) (store.Value, error) {
	if err := v.guard("vault.get_user_data"); err != nil {
		return store.Value{}, err
	}
	val, err := v.store.GetUserValue(key)
	v.record(audit.OpUserDataGet, key, err)
	return val, err
}

// DeleteUserData removes key.
func (v *Vault) DeleteUserData(key string) error {
	if err := v.guard("vault.delete_user_data"); err != nil {
		return err
	}
	err := v.store.DeleteUserValue(key)
	v.record(audit.OpUserDataDelete, key, err)
	return err
}

// StoreGitHubToken stores the token for repo.
func (v *Vault) StoreGitHubToken(repo, token string) error {
	if err := v.guard("vault.store_token"); err != nil {
		return err
	}
	err := v.store.StoreToken(repo, token)
	v.record(audit.OpTokenStore, repo, err)
	if err != nil {
		return err
	}
	v.publish(events.TopicTokenStored, map[string]string{"repo": repo})
	return nil
}

// GetGitHubToken returns the token stored for repo.
func (v *Vault) GetGitHubToken(repo string) (string, error) {
	if err := v.guard("vault.get_token"); err != nil {
		return "", err
	}
	token, err := v.store.GetToken(repo)
	v.record(audit.OpTokenGet, repo, err)
	return token, err
}

// DeleteGitHubToken removes the token stored for repo.
func (v *Vault) DeleteGitHubToken(repo string) error {
	if err := v.guard("vault.delete_token"); err != nil {
		return err
	}
	err := v.store.DeleteToken(repo)
	v.record(audit.OpTokenDelete, repo, err)
	return err
}

// SecureAPIRequest returns a privacy-protected copy of request for service.
func (v *Vault) SecureAPIRequest(service string, request map[string]any, includeCredentials bool) (map[string]any, error) {
	if err := v.guard("vault.secure_api_request"); err != nil {
		return nil, err
	}
	out, err := v.gateway.PrepareRequest(service, request, includeCredentials)
	v.record(audit.OpRequestPrepare, service, err)
	return out, err
}

// SanitizeResponse strips the service's denylisted response fields.
func (v *Vault) SanitizeResponse(service string, response map[string]any) map[string]any {
	return v.gateway.SanitizeResponse(service, response)
}

// GeneratePrivacyReport summarises the vault without decrypting anything.
func (v *Vault) GeneratePrivacyReport() (*audit.Report, error) {
	if err := v.guard("vault.report"); err != nil {
		return nil, err
	}
	rep, err := v.reporter.Report()
	v.record(audit.OpReport, "", err)
	return rep, err
}

// WipeAllData clears every collection and the file area. Without confirm it
// returns a WipeRefused error and changes nothing.
func (v *Vault) WipeAllData(confirm bool) error {
	if err := v.guard("vault.wipe"); err != nil {
		return err
	}
	err := v.reporter.Wipe(confirm)
	v.record(audit.OpWipe, "", err)
	return err
}

// SaveEncryptedFile stores data under purpose/filename and returns its path.
// data may be a string, []byte, map[string]any or codec.Payload; it loads
// back with the same shape.
func (v *Vault) SaveEncryptedFile(data any, purpose, filename string) (string, error) {
	const op = "vault.save_file"
	if err := v.guard(op); err != nil {
		return "", err
	}
	p, err := filePayload(op, data)
	if err != nil {
		v.record(audit.OpFileSave, purpose+"/"+filename, err)
		return "", err
	}
	path, err := v.files.Save(p, purpose, filename)
	v.record(audit.OpFileSave, purpose+"/"+filename, err)
	if err != nil {
		return "", err
	}
	v.publish(events.TopicFileSaved, map[string]string{"purpose": purpose, "filename": filename})
	return path, nil
}

// LoadEncryptedFile returns the contents stored under purpose/filename.
func (v *Vault) LoadEncryptedFile(purpose, filename string) (codec.Payload, error) {
	if err := v.guard("vault.load_file"); err != nil {
		return codec.Payload{}, err
	}
	data, err := v.files.Load(purpose, filename)
	v.record(audit.OpFileLoad, purpose+"/"+filename, err)
	return data, err
}

func filePayload(op string, data any) (codec.Payload, error) {
	switch d := data.(type) {
	case codec.Payload:
		return d, nil
	case []byte:
		return codec.Bytes(d), nil
	case string:
		return codec.Text(d), nil
	case map[string]any:
		return codec.Record(d), nil
	}
	return codec.Payload{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "unsupported file data type %T", data)
}

// Files returns the purpose-scoped file area.
func (v *Vault) Files() *blobstore.Area {
	return v.files
}

var errJournalDisabled = errors.New("vault: operation journal is disabled")

// VerifyJournal checks the journal's HMAC chain.
func (v *Vault) VerifyJournal() (*audit.VerifyResult, error) {
	if err := v.guard("vault.verify_journal"); err != nil {
		return nil, err
	}
	if v.journal == nil {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "vault.verify_journal", errJournalDisabled)
	}
	return v.journal.Verify()
}

// JournalEvents lists journal events; see audit.Journal.Events.
func (v *Vault) JournalEvents(limit int, since time.Time) ([]audit.Event, error) {
	if err := v.guard("vault.journal_events"); err != nil {
		return nil, err
	}
	if v.journal == nil {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "vault.journal_events", errJournalDisabled)
	}
	return v.journal.Events(limit, since)
}

// Integrity runs the database integrity check.
func (v *Vault) Integrity() (*store.IntegrityResult, error) {
	if err := v.guard("vault.integrity"); err != nil {
		return nil, err
	}
	return v.store.Integrity()
}

// DiskSpace reports free space on the database volume.
func (v *Vault) DiskSpace() (*store.DiskSpaceInfo, error) {
	if err := v.guard("vault.disk_space"); err != nil {
		return nil, err
	}
	return v.store.CheckDiskSpace()
}
