// Package scripted provides a model.Provider that replays canned replies.
// It backs tests and offline runs.
package scripted

import (
	"context"
	"errors"
	"sync"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/model"
)

// ErrExhausted is returned once every reply has been consumed and the
// provider is not set to repeat.
var ErrExhausted = errors.New("scripted provider has no more replies")

// Reply is one canned response. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// Provider replays replies in order.
type Provider struct {
	mu      sync.Mutex
	replies []Reply
	next    int
	repeat  bool
	calls   []model.Request
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a provider that returns texts in order.
func New(texts ...string) *Provider {
	p := &Provider{}
	for _, t := range texts {
		p.replies = append(p.replies, Reply{Text: t})
	}
	return p
}

// NewScript creates a provider from replies that may include errors.
func NewScript(replies ...Reply) *Provider {
	return &Provider{replies: replies}
}

// Repeat makes the last reply repeat forever once the script runs out.
func (p *Provider) Repeat() *Provider {
	p.repeat = true
	return p
}

// Calls returns every request received so far.
func (p *Provider) Calls() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.calls...)
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "scripted", Name: "Scripted replies", Provider: "scripted"}}, nil
}

func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	if p.next >= len(p.replies) {
		if !p.repeat || len(p.replies) == 0 {
			return nil, ErrExhausted
		}
		return &stream{reply: p.replies[len(p.replies)-1]}, nil
	}
	r := p.replies[p.next]
	p.next++
	return &stream{reply: r}, nil
}

type stream struct {
	reply Reply
}

func (s *stream) FullMessage() (model.Message, error) {
	if s.reply.Err != nil {
		return model.Message{}, s.reply.Err
	}
	return model.Message{Role: domain.RoleAssistant, Text: s.reply.Text}, nil
}

func (s *stream) Close() error { return nil }
