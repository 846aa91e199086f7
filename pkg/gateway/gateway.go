// Package gateway applies per-service privacy policy to outbound API
// requests and inbound responses.
//
// PrepareRequest merges stored credentials into a deep copy of the request,
// pseudonymises user identifiers, injects a retention opt-out instruction
// and always adds the X-Privacy-Requested header. SanitizeResponse strips
// correlatable metadata. The gateway only reads credentials; it never
// writes to the store.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/forest6511/anavault/pkg/codec"
	"github.com/forest6511/anavault/pkg/vaulterr"
)

const (
	// HeadersField is the request key holding outbound HTTP headers.
	HeadersField = "headers"
	// PrivacyHeader is added to every prepared request.
	PrivacyHeader = "X-Privacy-Requested"
	// PrivacyHeaderValue is the value of PrivacyHeader.
	PrivacyHeaderValue = "no-store, no-log"

	// RetentionInstruction is the opt-out text placed in the system message.
	RetentionInstruction = "Please do not store, remember, or use this conversation for training."

	// DefaultPseudonymPrefix prefixes every pseudonym.
	DefaultPseudonymPrefix = "ana_user_"
	pseudonymHexLength     = 16
)

// CredentialSource looks up stored credentials. A missing credential is
// reported as a NotFound error.
type CredentialSource interface {
	GetCredential(service string) (map[string]any, error)
}

// Policy is the set of transforms applied for one service.
type Policy struct {
	// PseudonymizeFields are top-level request fields replaced by a
	// pseudonym of their value.
	PseudonymizeFields []string `yaml:"pseudonymize_fields" json:"pseudonymize_fields,omitempty"`
	// RetentionInstruction, when set, is ensured in the first system message
	// of the request's "messages" list.
	RetentionInstruction string `yaml:"retention_instruction" json:"retention_instruction,omitempty"`
	// SetFields are top-level request fields forced to the given values.
	SetFields map[string]any `yaml:"set_fields" json:"set_fields,omitempty"`
	// ResponseDenylist are top-level response fields removed by
	// SanitizeResponse.
	ResponseDenylist []string `yaml:"response_denylist" json:"response_denylist,omitempty"`
}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"openai": {
			PseudonymizeFields:   []string{"user"},
			RetentionInstruction: RetentionInstruction,
			SetFields:            map[string]any{"store": false},
			ResponseDenylist:     []string{"id", "created", "usage", "system_fingerprint"},
		},
		"elevenlabs": {
			ResponseDenylist: []string{"request_id", "history_item_id"},
		},
	}
}

// Options configures a Gateway.
type Options struct {
	// Policies override the built-in table per service. A service listed
	// here replaces its built-in policy entirely.
	Policies map[string]Policy
	// PseudonymKey keys the pseudonym HMAC. Empty means plain SHA-256.
	PseudonymKey []byte
	// PseudonymPrefix defaults to DefaultPseudonymPrefix.
	PseudonymPrefix string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Gateway is the PrivacyGateway.
type Gateway struct {
	creds  CredentialSource
	key    []byte
	prefix string
	logger *slog.Logger

	mu       sync.RWMutex
	policies map[string]Policy
}

// New returns a Gateway reading credentials from creds, which may be nil
// when no credential store is available.
func New(creds CredentialSource, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := opts.PseudonymPrefix
	if prefix == "" {
		prefix = DefaultPseudonymPrefix
	}
	policies := DefaultPolicies()
	maps.Copy(policies, opts.Policies)

	return &Gateway{
		creds:    creds,
		key:      slices.Clone(opts.PseudonymKey),
		prefix:   prefix,
		logger:   logger.With("component", "gateway"),
		policies: policies,
	}
}

// SetPolicy installs or replaces the policy for service.
func (g *Gateway) SetPolicy(service string, p Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[service] = p
}

// Policy returns the policy for service and whether one is defined.
func (g *Gateway) Policy(service string) (Policy, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.policies[service]
	return p, ok
}

// Services returns the services with a policy, sorted.
func (g *Gateway) Services() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.policies))
}

// Pseudonym returns the stable pseudonym for value: the prefix followed by
// the first 16 hex digits of HMAC-SHA256(key, value).
func (g *Gateway) Pseudonym(value string) string {
	var sum []byte
	if len(g.key) == 0 {
		s := sha256.Sum256([]byte(value))
		sum = s[:]
	} else {
		mac := hmac.New(sha256.New, g.key)
		mac.Write([]byte(value))
		sum = mac.Sum(nil)
	}
	return g.prefix + hex.EncodeToString(sum)[:pseudonymHexLength]
}

// isPseudonym reports whether v already has the pseudonym shape.
func (g *Gateway) isPseudonym(v string) bool {
	rest, ok := strings.CutPrefix(v, g.prefix)
	if !ok || len(rest) != pseudonymHexLength {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// PrepareRequest returns a privacy-protected copy of req for service. The
// caller's map is never modified.
//
// With includeCredentials, the stored credential fields for service are
// merged at top level, overriding request fields of the same name. A
// missing credential is not an error; any other lookup failure is
// returned, since unreadable credentials must not pass as "none stored".
func (g *Gateway) PrepareRequest(service string, req map[string]any, includeCredentials bool) (map[string]any, error) {
	const op = "gateway.prepare_request"

	out, err := deepCopy(req)
	if err != nil {
		return nil, vaulterr.New(vaulterr.KindInvalidInput, op, err)
	}

	if includeCredentials && g.creds != nil {
		creds, err := g.creds.GetCredential(service)
		switch {
		case err == nil:
			copied, err := deepCopy(creds)
			if err != nil {
				return nil, vaulterr.New(vaulterr.KindDecryptionFailed, op, err)
			}
			maps.Copy(out, copied)
		case vaulterr.IsNotFound(err):
			g.logger.Debug("no stored credentials, proceeding without", "service", service)
		default:
			g.logger.Error("credential lookup failed", "service", service, "error", err)
			return nil, vaulterr.New(vaulterr.KindOf(err), op, err)
		}
	}

	if p, ok := g.Policy(service); ok {
		g.apply(p, out)
	}

	if err := addPrivacyHeader(out); err != nil {
		return nil, vaulterr.New(vaulterr.KindInvalidInput, op, err)
	}
	return out, nil
}

func (g *Gateway) apply(p Policy, req map[string]any) {
	for _, field := range p.PseudonymizeFields {
		v, ok := req[field]
		if !ok || v == nil {
			continue
		}
		s, isString := v.(string)
		if !isString {
			s = fmt.Sprint(v)
		}
		if isString && g.isPseudonym(s) {
			continue
		}
		req[field] = g.Pseudonym(s)
	}

	if len(p.SetFields) > 0 {
		if forced, err := deepCopy(p.SetFields); err == nil {
			maps.Copy(req, forced)
		} else {
			g.logger.Error("policy set_fields are not serializable", "error", err)
		}
	}

	if p.RetentionInstruction != "" {
		if msgs, ok := req["messages"].([]any); ok {
			req["messages"] = ensureInstruction(msgs, p.RetentionInstruction)
		}
	}
}

// ensureInstruction makes the first system message carry instr, inserting
// a system message at the front when there is none. Applying it twice has
// no further effect.
func ensureInstruction(msgs []any, instr string) []any {
	for _, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok || msg["role"] != "system" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			if !strings.Contains(content, instr) {
				if content == "" {
					msg["content"] = instr
				} else {
					msg["content"] = content + " " + instr
				}
			}
		case []any:
			for _, part := range content {
				if pm, ok := part.(map[string]any); ok {
					if text, _ := pm["text"].(string); strings.Contains(text, instr) {
						return msgs
					}
				}
			}
			msg["content"] = append(content, map[string]any{"type": "text", "text": instr})
		default:
			msg["content"] = instr
		}
		return msgs
	}

	system := map[string]any{"role": "system", "content": instr}
	return append([]any{system}, msgs...)
}

func addPrivacyHeader(req map[string]any) error {
	headers := map[string]any{}
	switch h := req[HeadersField].(type) {
	case nil:
	case map[string]any:
		headers = h
	default:
		return fmt.Errorf("gateway: %q must be a mapping, got %T", HeadersField, h)
	}
	headers[PrivacyHeader] = PrivacyHeaderValue
	req[HeadersField] = headers
	return nil
}

// SanitizeResponse returns a copy of resp without the service's denylisted
// top-level fields. Unknown services pass through as a copy.
func (g *Gateway) SanitizeResponse(service string, resp map[string]any) map[string]any {
	out := maps.Clone(resp)
	if out == nil {
		out = map[string]any{}
	}
	if p, ok := g.Policy(service); ok {
		for _, field := range p.ResponseDenylist {
			delete(out, field)
		}
	}
	return out
}

// deepCopy copies m into fresh maps and slices by a JSON round trip, which
// also normalises it to the shapes sent on the wire.
func deepCopy(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("gateway: request is not serializable: %w", err)
	}
	v, err := codec.DecodeJSON(b)
	if err != nil {
		return nil, err
	}
	out, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("gateway: request is not a mapping")
	}
	return out, nil
}
