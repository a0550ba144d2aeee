package model

import (
	"context"
	"strings"

	"github.com/nstogner/analyst/pkg/domain"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant).
	Role domain.Role
	// Text is the message body.
	Text string
}

// Request is one call to a model.
type Request struct {
	// Model identifies which model to use (e.g. "gemini-2.0-flash").
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation history.
	Messages []Message
	// JSON asks the provider to constrain the reply to a JSON object.
	JSON bool
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream sends a request to the LLM and returns a stream of responses.
	Stream(ctx context.Context, req Request) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// FullMessage blocks until the complete response is available and returns it.
	FullMessage() (Message, error)

	// Close releases resources associated with this stream.
	Close() error
}

// Complete sends req and returns the full reply text.
func Complete(ctx context.Context, p Provider, req Request) (string, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	msg, err := stream.FullMessage()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Text), nil
}
