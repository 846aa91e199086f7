// Package codec turns vault payloads into self-describing blobs and back.
//
// Blob layout:
//
//	scheme(1) | nonce | ciphertext+tag    encrypted modes
//	0x00      | body                      plain mode
//
// where body, before encryption, is kind(1) | data. A Codec holds no
// per-call state, so a single Codec may be shared by any number of
// goroutines. A closed Codec refuses every Seal and Open.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/forest6511/anavault/pkg/crypto"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

// Mode reports whether a Codec provides confidentiality.
type Mode string

const (
	ModeEncrypted Mode = "encrypted"
	ModePlain     Mode = "plain"
)

// schemePlain is the blob prefix for plain-mode bodies.
const schemePlain byte = 0

// Kind identifies the shape of a decoded payload.
type Kind byte

const (
	KindRecord Kind = 1
	KindText   Kind = 2
	KindBytes  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Payload is a value the codec can carry. Exactly one of Record, Text or
// Bytes is meaningful, selected by Kind.
type Payload struct {
	Kind   Kind
	Record map[string]any
	Text   string
	Bytes  []byte
}

// Record wraps a key/value mapping.
func Record(m map[string]any) Payload { return Payload{Kind: KindRecord, Record: m} }

// Text wraps a string.
func Text(s string) Payload { return Payload{Kind: KindText, Text: s} }

// Bytes wraps raw bytes.
func Bytes(b []byte) Payload { return Payload{Kind: KindBytes, Bytes: b} }

// Codec seals and opens payloads.
type Codec struct {
	mode   Mode
	scheme crypto.Scheme

	// mu guards key against Close while a Seal or Open is using it.
	mu     sync.RWMutex
	key    []byte
	closed bool
}

// ErrClosed is wrapped by errors returned after Close.
var ErrClosed = errors.New("codec: closed")

// New returns an encrypting Codec using scheme and a copy of key.
func New(scheme crypto.Scheme, key []byte) (*Codec, error) {
	if scheme.NonceLength() == 0 {
		return nil, vaulterr.New(vaulterr.KindInvalidInput, "codec.new", crypto.ErrUnknownScheme)
	}
	if len(key) != crypto.KeyLength {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "codec.new", crypto.ErrInvalidKeyLength)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{mode: ModeEncrypted, scheme: scheme, key: k}, nil
}

// NewPlain returns a Codec that stores bodies without encryption. It exists
// for installations that run without a key; the mode is visible through
// Mode and is logged once here.
func NewPlain(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	logger.With("component", "codec").Warn("encryption disabled, vault data will be stored in plain form")
	return &Codec{mode: ModePlain}
}

// Mode returns the codec mode.
func (c *Codec) Mode() Mode {
	return c.mode
}

// Encrypted reports whether the codec encrypts.
func (c *Codec) Encrypted() bool {
	return c.mode == ModeEncrypted
}

// CipherName returns the scheme name, or "none" in plain mode.
func (c *Codec) CipherName() string {
	if c.mode == ModePlain {
		return "none"
	}
	return c.scheme.String()
}

// Key returns the codec key, nil in plain mode or after Close. The
// returned slice must not be modified.
func (c *Codec) Key() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	return c.key
}

// Close wipes the in-memory key. Later Seal and Open calls fail with
// KindKeyUnavailable.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	crypto.SecureWipe(c.key)
	c.closed = true
}

// Encrypt is Seal without associated data.
func (c *Codec) Encrypt(p Payload) ([]byte, error) {
	return c.Seal(p, nil)
}

// Decrypt is Open without associated data.
func (c *Codec) Decrypt(blob []byte) (Payload, error) {
	return c.Open(blob, nil)
}

// Seal encodes p and, in encrypted mode, encrypts it bound to aad.
func (c *Codec) Seal(p Payload, aad []byte) ([]byte, error) {
	body, err := encodeBody(p)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindInvalidInput, "codec.seal", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "codec.seal", ErrClosed)
	}

	if c.mode == ModePlain {
		return append([]byte{schemePlain}, body...), nil
	}

	ciphertext, nonce, err := crypto.Encrypt(c.scheme, c.key, body, aad)
	crypto.SecureWipe(body)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindKeyUnavailable, "codec.seal", err)
	}

	blob := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	blob = append(blob, byte(c.scheme))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Open reverses Seal. Any failure, including a blob written by the other
// mode, is a *vaulterr.Error of KindDecryptionFailed; a closed codec returns
// KindKeyUnavailable.
func (c *Codec) Open(blob []byte, aad []byte) (Payload, error) {
	if len(blob) == 0 {
		return Payload{}, vaulterr.Errorf(vaulterr.KindDecryptionFailed, "codec.open", "empty blob")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Payload{}, vaulterr.New(vaulterr.KindKeyUnavailable, "codec.open", ErrClosed)
	}

	scheme := blob[0]
	var body []byte
	switch {
	case c.mode == ModePlain && scheme == schemePlain:
		body = blob[1:]
	case c.mode == ModePlain:
		return Payload{}, vaulterr.Errorf(vaulterr.KindDecryptionFailed, "codec.open",
			"blob is encrypted with %s but encryption is disabled", crypto.Scheme(scheme))
	case scheme == schemePlain:
		return Payload{}, vaulterr.Errorf(vaulterr.KindDecryptionFailed, "codec.open",
			"unencrypted blob rejected while encryption is enabled")
	default:
		s := crypto.Scheme(scheme)
		n := s.NonceLength()
		if n == 0 {
			return Payload{}, vaulterr.New(vaulterr.KindDecryptionFailed, "codec.open", crypto.ErrUnknownScheme)
		}
		if len(blob) < 1+n {
			return Payload{}, vaulterr.New(vaulterr.KindDecryptionFailed, "codec.open", crypto.ErrCiphertextTooShort)
		}
		plain, err := crypto.Decrypt(s, c.key, blob[1+n:], blob[1:1+n], aad)
		if err != nil {
			return Payload{}, vaulterr.New(vaulterr.KindDecryptionFailed, "codec.open", err)
		}
		body = plain
	}

	p, err := decodeBody(body)
	if err != nil {
		return Payload{}, vaulterr.New(vaulterr.KindDecryptionFailed, "codec.open", err)
	}
	return p, nil
}

func encodeBody(p Payload) ([]byte, error) {
	switch p.Kind {
	case KindRecord:
		rec := p.Record
		if rec == nil {
			rec = map[string]any{}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("codec: record is not serializable: %w", err)
		}
		return append([]byte{byte(KindRecord)}, data...), nil
	case KindText:
		if !utf8.ValidString(p.Text) {
			return nil, errors.New("codec: text is not valid UTF-8")
		}
		return append([]byte{byte(KindText)}, p.Text...), nil
	case KindBytes:
		return append([]byte{byte(KindBytes)}, p.Bytes...), nil
	default:
		return nil, fmt.Errorf("codec: unsupported payload %s", p.Kind)
	}
}

var errBadBody = errors.New("codec: malformed body")

// decodeBody honours the kind tag. Only a record that no longer parses
// degrades: to text when it is valid UTF-8, else to bytes.
func decodeBody(body []byte) (Payload, error) {
	if len(body) == 0 {
		return Payload{}, errBadBody
	}
	data := body[1:]
	switch Kind(body[0]) {
	case KindRecord:
		v, err := DecodeJSON(data)
		if rec, ok := v.(map[string]any); err == nil && ok {
			return Record(rec), nil
		}
		if utf8.Valid(data) {
			return Text(string(data)), nil
		}
		return Bytes(bytes.Clone(data)), nil
	case KindText:
		return Text(string(data)), nil
	case KindBytes:
		return Bytes(bytes.Clone(data)), nil
	default:
		return Payload{}, fmt.Errorf("%w: unknown kind %d", errBadBody, body[0])
	}
}

// DecodeJSON parses data into plain Go values. Integral numbers that fit
// int64 decode as int64, other numbers as float64.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("codec: trailing data after JSON value")
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}
