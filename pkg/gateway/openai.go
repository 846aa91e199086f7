package gateway

import (
	"net/http"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/forest6511/anavault/pkg/vaulterr"
)

// OpenAIService is the policy name used by the typed chat adapter.
const OpenAIService = "openai"

// SecureChatRequest applies the openai policy to a typed chat-completion
// request: the User field is pseudonymised and the retention instruction
// is ensured in the first system message. The Messages slice is copied.
func (g *Gateway) SecureChatRequest(req openai.ChatCompletionRequest) openai.ChatCompletionRequest {
	p, ok := g.Policy(OpenAIService)
	if !ok {
		return req
	}

	if req.User != "" && slices.Contains(p.PseudonymizeFields, "user") && !g.isPseudonym(req.User) {
		req.User = g.Pseudonym(req.User)
	}

	if instr := p.RetentionInstruction; instr != "" {
		req.Messages = ensureChatInstruction(slices.Clone(req.Messages), instr)
	}
	return req
}

func ensureChatInstruction(msgs []openai.ChatCompletionMessage, instr string) []openai.ChatCompletionMessage {
	for i, m := range msgs {
		if m.Role != openai.ChatMessageRoleSystem {
			continue
		}
		if len(m.MultiContent) > 0 {
			for _, part := range m.MultiContent {
				if strings.Contains(part.Text, instr) {
					return msgs
				}
			}
			m.MultiContent = append(slices.Clone(m.MultiContent), openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: instr,
			})
		} else if !strings.Contains(m.Content, instr) {
			if m.Content == "" {
				m.Content = instr
			} else {
				m.Content += " " + instr
			}
		}
		msgs[i] = m
		return msgs
	}

	system := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instr}
	return append([]openai.ChatCompletionMessage{system}, msgs...)
}

// SanitizeChatResponse clears the typed counterparts of the openai
// response denylist.
func (g *Gateway) SanitizeChatResponse(resp openai.ChatCompletionResponse) openai.ChatCompletionResponse {
	p, ok := g.Policy(OpenAIService)
	if !ok {
		return resp
	}
	for _, field := range p.ResponseDenylist {
		switch field {
		case "id":
			resp.ID = ""
		case "created":
			resp.Created = 0
		case "usage":
			resp.Usage = openai.Usage{}
		case "system_fingerprint":
			resp.SystemFingerprint = ""
		}
	}
	return resp
}

// ChatClientConfig builds a go-openai client configuration from the
// credentials stored for service ("api_key", optional "organization" and
// "base_url"). Every HTTP request made with it carries the privacy header.
func (g *Gateway) ChatClientConfig(service string) (openai.ClientConfig, error) {
	const op = "gateway.chat_client_config"
	if g.creds == nil {
		return openai.ClientConfig{}, vaulterr.Errorf(vaulterr.KindNotFound, op, "no credential source")
	}
	creds, err := g.creds.GetCredential(service)
	if err != nil {
		return openai.ClientConfig{}, vaulterr.New(vaulterr.KindOf(err), op, err)
	}

	apiKey, _ := creds["api_key"].(string)
	if apiKey == "" {
		return openai.ClientConfig{}, vaulterr.Errorf(vaulterr.KindInvalidInput, op, "credentials for %q have no api_key", service)
	}

	cfg := openai.DefaultConfig(apiKey)
	if org, ok := creds["organization"].(string); ok {
		cfg.OrgID = org
	}
	if baseURL, ok := creds["base_url"].(string); ok && baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &privacyDoer{next: http.DefaultClient}
	return cfg, nil
}

// NewChatClient returns a go-openai client configured by ChatClientConfig.
func (g *Gateway) NewChatClient(service string) (*openai.Client, error) {
	cfg, err := g.ChatClientConfig(service)
	if err != nil {
		return nil, err
	}
	return openai.NewClientWithConfig(cfg), nil
}

// privacyDoer adds the privacy header to every outbound request.
type privacyDoer struct {
	next interface {
		Do(*http.Request) (*http.Response, error)
	}
}

func (d *privacyDoer) Do(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(PrivacyHeader, PrivacyHeaderValue)
	return d.next.Do(req)
}
