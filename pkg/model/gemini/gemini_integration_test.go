package gemini_test

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/analyst/pkg/domain"
	"github.com/nstogner/analyst/pkg/model"
	"github.com/nstogner/analyst/pkg/model/gemini"
)

const testModel = "gemini-2.0-flash"

func setupProvider(t *testing.T) *gemini.Provider {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	provider, err := gemini.New(ctx, apiKey)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return provider
}

// TestIntegrationGeminiListModels verifies that List returns available models.
func TestIntegrationGeminiListModels(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := p.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("No models found")
	}
	for _, m := range models {
		if m.ID == "" || m.Provider != "gemini" {
			t.Errorf("bad model entry: %+v", m)
		}
	}
}

// TestIntegrationGeminiText verifies a simple text response from the model.
func TestIntegrationGeminiText(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text, err := model.Complete(ctx, p, model.Request{
		Model:    testModel,
		Messages: []model.Message{{Role: domain.RoleUser, Text: "Reply with exactly: HELLO"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(strings.ToUpper(text), "HELLO") {
		t.Errorf("Expected HELLO in response, got: %s", text)
	}
}

// TestIntegrationGeminiJSONAction verifies JSON mode yields a parseable action.
func TestIntegrationGeminiJSONAction(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	text, err := model.Complete(ctx, p, model.Request{
		Model:        testModel,
		Instructions: `Respond with a JSON object {"tool_name": string, "args": object}.`,
		Messages:     []model.Message{{Role: domain.RoleUser, Text: `Finish with final_answers [1,2,3]. The tool name is "finish".`}},
		JSON:         true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var action domain.Action
	if err := json.Unmarshal([]byte(text), &action); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, text)
	}
	if !action.IsFinish() {
		t.Errorf("tool_name = %q, want finish", action.ToolName)
	}
}
