package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/model"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements model.Provider against any OpenAI compatible chat
// completions endpoint.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a provider. A nil client gets a two minute timeout.
func New(baseURL, apiKey string, client *http.Client) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// List returns the models the endpoint advertises.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	p.authorize(req)

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := p.do(req, &body); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	models := make([]domain.Model, 0, len(body.Data))
	for _, m := range body.Data {
		models = append(models, domain.Model{ID: m.ID, Name: m.ID, Provider: "openai"})
	}
	return models, nil
}

// Stream prepares a chat completion. The request is sent when the reply is
// read.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", req.Model, "messageCount", len(req.Messages), "json", req.JSON)

	payload := chatRequest{Model: req.Model}
	if req.Instructions != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.Instructions})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Text})
	}
	if req.JSON {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &openaiStream{ctx: ctx, cancel: cancel, provider: p, body: body}, nil
}

func (p *Provider) authorize(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type openaiStream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	provider *Provider
	body     []byte
}

func (s *openaiStream) FullMessage() (model.Message, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.provider.baseURL+"/chat/completions", bytes.NewReader(s.body))
	if err != nil {
		return model.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	s.provider.authorize(req)

	var resp chatResponse
	if err := s.provider.do(req, &resp); err != nil {
		return model.Message{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Message{}, fmt.Errorf("chat completion: no choices returned")
	}
	return model.Message{
		Role: domain.RoleAssistant,
		Text: resp.Choices[0].Message.Content,
	}, nil
}

func (s *openaiStream) Close() error {
	s.cancel()
	return nil
}
