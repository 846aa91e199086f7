// Package audit reports on the vault's contents without decrypting them and
// keeps an HMAC-chained operation journal for tamper detection.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/anavault/pkg/crypto"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// MinJournalDiskSpace is the free space required before appending.
const MinJournalDiskSpace = 1024 * 1024

// ErrJournalClosed is returned by Record, Verify and Events after Close.
var ErrJournalClosed = errors.New("audit: journal closed")

const (
	journalVersion = 1
	genesis        = "genesis"
	stateFile      = "journal.meta"
	keyPurpose     = "audit-log-v1"
)

// Operations recorded in the journal.
const (
	OpCredentialStore  = "credentials.store"
	OpCredentialGet    = "credentials.get"
	OpCredentialDelete = "credentials.delete"

	OpConversationStore = "conversation.store"
	OpConversationList  = "conversation.list"

	OpUserDataStore  = "userdata.store"
	OpUserDataGet    = "userdata.get"
	OpUserDataDelete = "userdata.delete"

	OpTokenStore  = "token.store"
	OpTokenGet    = "token.get"
	OpTokenDelete = "token.delete"

	OpFileSave = "file.save"
	OpFileLoad = "file.load"

	OpRequestPrepare = "gateway.prepare_request"

	OpReport = "vault.report"
	OpWipe   = "vault.wipe"
)

// Results.
const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultDenied   = "denied"
	ResultError    = "error"
)

// Event is one journal record. Identifiers are stored as an HMAC so the
// journal never reveals which services or keys exist.
type Event struct {
	Version    int    `json:"v"`
	ID         string `json:"id"`
	Timestamp  string `json:"ts"`
	Operation  string `json:"op"`
	Identifier string `json:"id_hmac,omitempty"`
	SessionID  string `json:"session_id"`
	Result     string `json:"result"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Chain      Chain  `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// VerifyResult is the outcome of Journal.Verify.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Journal appends chained events to monthly JSONL files in a directory.
type Journal struct {
	dir       string
	key       []byte
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
	closed    bool

	mu       sync.Mutex
	sequence int64
	prevHash string
}

// NewJournal opens the journal in dir, deriving its HMAC key from the vault
// key. Existing chain state is resumed.
func NewJournal(dir string, vaultKey []byte, logger *slog.Logger) (*Journal, error) {
	key, err := crypto.DeriveSubkey(vaultKey, keyPurpose)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "audit.new_journal", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Journal{
		dir:       dir,
		key:       key,
		sessionID: uuid.NewString(),
		logger:    logger.With("component", "journal"),
		now:       time.Now,
		prevHash:  genesis,
	}
	if err := j.loadState(); err != nil && !errors.Is(err, os.ErrNotExist) {
		// A damaged state file restarts the chain; Verify will report the break.
		j.logger.Warn("journal state unreadable, restarting chain", "error", err)
	}
	return j, nil
}

// Close wipes the journal's HMAC key. Later calls return ErrJournalClosed.
func (j *Journal) Close() {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	crypto.SecureWipe(j.key)
	j.closed = true
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Record appends an event for op, classifying the outcome from err. A nil
// Journal records nothing.
func (j *Journal) Record(op, identifier string, opErr error) error {
	if j == nil {
		return nil
	}
	result, kind := classify(opErr)
	return j.append(op, identifier, result, kind)
}

func classify(err error) (result, kind string) {
	switch k := vaulterr.KindOf(err); k {
	case vaulterr.KindNone:
		return ResultSuccess, ""
	case vaulterr.KindNotFound:
		return ResultNotFound, ""
	case vaulterr.KindWipeRefused:
		return ResultDenied, k.String()
	default:
		return ResultError, k.String()
	}
}

func (j *Journal) append(op, identifier, result, kind string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return vaulterr.New(vaulterr.KindKeyUnavailable, "audit.record", ErrJournalClosed)
	}

	if err := os.MkdirAll(j.dir, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := checkDiskSpace(j.dir); err != nil {
		return err
	}

	now := j.now().UTC()
	ev := Event{
		Version:   journalVersion,
		ID:        newEventID(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		SessionID: j.sessionID,
		Result:    result,
		ErrorKind: kind,
	}
	if identifier != "" {
		ev.Identifier = j.mac([]byte(identifier))
	}
	ev.Chain.Sequence = j.sequence + 1
	ev.Chain.PrevHash = j.prevHash
	ev.Chain.HMAC = j.mac(recordData(&ev))

	if err := j.write(now, &ev); err != nil {
		return err
	}
	j.sequence = ev.Chain.Sequence
	j.prevHash = ev.Chain.HMAC
	return j.saveState()
}

func (j *Journal) mac(data []byte) string {
	m := hmac.New(sha256.New, j.key)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the byte string covered by a record's HMAC.
func recordData(ev *Event) []byte {
	return []byte(strings.Join([]string{
		strconv.Itoa(ev.Version),
		ev.ID,
		ev.Timestamp,
		ev.Operation,
		ev.Identifier,
		ev.SessionID,
		ev.Result,
		ev.ErrorKind,
		strconv.FormatInt(ev.Chain.Sequence, 10),
		ev.Chain.PrevHash,
	}, "|"))
}

func (j *Journal) write(now time.Time, ev *Event) error {
	name := filepath.Join(j.dir, now.Format("2006-01")+".jsonl")
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open journal file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return f.Sync()
}

func (j *Journal) loadState() error {
	data, err := os.ReadFile(filepath.Join(j.dir, stateFile))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	j.sequence = st.Sequence
	j.prevHash = st.PrevHash
	return nil
}

func (j *Journal) saveState() error {
	data, err := json.Marshal(chainState{Sequence: j.sequence, PrevHash: j.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	tmp := filepath.Join(j.dir, stateFile+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(j.dir, stateFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// Verify walks every record in order and checks sequence numbers, chain
// links and HMACs. Unparsable lines and records missing from the end of the
// chain are reported as errors in the result.
func (j *Journal) Verify() (*VerifyResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "audit.verify", ErrJournalClosed)
	}

	res := &VerifyResult{Valid: true}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	files, err := j.files()
	if err != nil {
		return nil, err
	}

	expectedPrev := genesis
	var expectedSeq int64 = 1
	for _, file := range files {
		err := eachLine(file, func(lineNo int, line []byte) {
			res.RecordsTotal++
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				fail("%s:%d: unparsable record", filepath.Base(file), lineNo)
				return
			}
			ok := true
			if ev.Chain.Sequence != expectedSeq {
				ok = false
				fail("sequence gap at record %s: expected %d, got %d", ev.ID, expectedSeq, ev.Chain.Sequence)
			}
			if ev.Chain.PrevHash != expectedPrev {
				ok = false
				fail("chain broken at record %s", ev.ID)
			}
			if !hmac.Equal([]byte(ev.Chain.HMAC), []byte(j.mac(recordData(&ev)))) {
				ok = false
				fail("HMAC mismatch at record %s: possible tampering", ev.ID)
			}
			if ok {
				res.RecordsVerified++
			}
			expectedPrev = ev.Chain.HMAC
			expectedSeq = ev.Chain.Sequence + 1
		})
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
	}

	if last := expectedSeq - 1; last < j.sequence {
		fail("journal truncated: last record %d, chain state records %d", last, j.sequence)
	}
	return res, nil
}

// Events returns journal events after since (zero means all), keeping the
// most recent limit events (0 means all). Unparsable lines are skipped.
func (j *Journal) Events(limit int, since time.Time) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "audit.events", ErrJournalClosed)
	}

	files, err := j.files()
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, file := range files {
		err := eachLine(file, func(_ int, line []byte) {
			var ev Event
			if json.Unmarshal(line, &ev) != nil {
				return
			}
			if !since.IsZero() {
				ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
				if err != nil || !ts.After(since) {
					return
				}
			}
			out = append(out, ev)
		})
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// WriteCSV writes events as CSV. Cells that a spreadsheet would treat as a
// formula are prefixed with a quote.
func WriteCSV(w *csv.Writer, events []Event) error {
	if err := w.Write([]string{"timestamp", "operation", "result", "error_kind", "identifier"}); err != nil {
		return err
	}
	for _, ev := range events {
		id := ev.Identifier
		if len(id) > 16 {
			id = id[:16]
		}
		row := []string{ev.Timestamp, ev.Operation, ev.Result, ev.ErrorKind, id}
		for i, cell := range row {
			row[i] = csvSafe(cell)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func csvSafe(cell string) string {
	if cell != "" && strings.ContainsRune("=+-@", rune(cell[0])) {
		return "'" + cell
	}
	return cell
}

// files returns the journal files in chronological order.
func (j *Journal) files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(j.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list journal files: %w", err)
	}
	slices.Sort(files)
	return files, nil
}

func eachLine(path string, fn func(lineNo int, line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(n, line)
	}
	return sc.Err()
}

// newEventID returns a time-ordered UUIDv7, falling back to v4.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
