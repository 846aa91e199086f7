package audit

import (
	"log/slog"
	"time"

	"github.com/forest6511/anavault/pkg/blobstore"
	"github.com/forest6511/anavault/pkg/events"
	"github.com/forest6511/anavault/pkg/store"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// RecordStore is the part of the record store the reporter reads and wipes.
type RecordStore interface {
	Counts() (store.Counts, error)
	KeyNames() (store.KeyNames, error)
	Wipe() error
}

// FileArea is the part of the purpose-scoped file area the reporter uses.
type FileArea interface {
	Purposes() ([]blobstore.Purpose, error)
	WipeAll() error
}

// CipherInfo describes the active codec.
type CipherInfo interface {
	Encrypted() bool
	CipherName() string
}

// Report summarises what the vault holds. It never contains values.
type Report struct {
	ReportTime        time.Time           `json:"report_time"`
	EncryptionEnabled bool                `json:"encryption_enabled"`
	Cipher            string              `json:"cipher"`
	Counts            store.Counts        `json:"counts"`
	KeyNames          store.KeyNames      `json:"key_names"`
	Files             []blobstore.Purpose `json:"files"`
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	// Files may be nil when the vault has no file area.
	Files FileArea
	// Bus receives wipe events. May be nil.
	Bus    *events.Bus
	Logger *slog.Logger
	Now    func() time.Time
}

// Reporter is the AuditReporter: read-only reporting plus the guarded wipe.
type Reporter struct {
	records RecordStore
	files   FileArea
	cipher  CipherInfo
	bus     *events.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// NewReporter returns a Reporter over records, describing cipher.
func NewReporter(records RecordStore, cipher CipherInfo, opts ReporterOptions) *Reporter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		records: records,
		files:   opts.Files,
		cipher:  cipher,
		bus:     opts.Bus,
		logger:  logger.With("component", "reporter"),
		now:     now,
	}
}

// Report returns counts and key names. No encrypted column is read.
func (r *Reporter) Report() (*Report, error) {
	counts, err := r.records.Counts()
	if err != nil {
		return nil, err
	}
	names, err := r.records.KeyNames()
	if err != nil {
		return nil, err
	}

	files := []blobstore.Purpose{}
	if r.files != nil {
		if files, err = r.files.Purposes(); err != nil {
			return nil, err
		}
	}

	return &Report{
		ReportTime:        r.now().UTC(),
		EncryptionEnabled: r.cipher.Encrypted(),
		Cipher:            r.cipher.CipherName(),
		Counts:            counts,
		KeyNames:          names,
		Files:             files,
	}, nil
}

// Wipe clears every collection and then the file area. Without confirmed it
// returns a WipeRefused error and changes nothing. The key file and the
// journal are untouched.
func (r *Reporter) Wipe(confirmed bool) error {
	const op = "audit.wipe"
	if !confirmed {
		r.logger.Warn("wipe refused: confirmation missing")
		r.publish(events.TopicWipeRefused, nil)
		return vaulterr.Errorf(vaulterr.KindWipeRefused, op, "confirmation required")
	}

	if err := r.records.Wipe(); err != nil {
		r.logger.Error("wipe failed, records unchanged", "error", err)
		return err
	}
	if r.files != nil {
		if err := r.files.WipeAll(); err != nil {
			r.logger.Error("records wiped but file area removal failed", "error", err)
			return vaulterr.New(vaulterr.KindStorageUnavailable, op, err)
		}
	}

	r.logger.Info("vault wiped")
	r.publish(events.TopicVaultWiped, nil)
	return nil
}

func (r *Reporter) publish(topic events.Topic, attrs map[string]string) {
	if r.bus != nil {
		r.bus.Publish(topic, attrs)
	}
}
