package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANALYST_PROVIDER", "scripted")
	t.Setenv("ANALYST_MAX_STEPS", "")
	t.Setenv("ANALYST_STEP_TIMEOUT", "")
	t.Setenv("ANALYST_MODEL", "")
	t.Setenv("ANALYST_SANDBOX", "")
	t.Setenv("ANALYST_PLANNER_MODE", "")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MaxSteps != 10 || c.StepTimeout != 25*time.Second {
		t.Errorf("MaxSteps = %d, StepTimeout = %s", c.MaxSteps, c.StepTimeout)
	}
	if c.Sandbox != "ops" || c.PlannerMode != "iterative" || c.Model != "scripted" {
		t.Errorf("config = %+v", c)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANALYST_PROVIDER", "openai")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("ANALYST_MODEL", "")
	t.Setenv("ANALYST_MAX_STEPS", "7")
	t.Setenv("ANALYST_STEP_TIMEOUT", "1.5")
	t.Setenv("ANALYST_PLANNER_MODE", "UPFRONT")
	t.Setenv("ANALYST_SANDBOX", "docker")
	t.Setenv("ANALYST_SANDBOX_NETWORK", "yes")
	t.Setenv("ANALYST_QUERY_DRIVER", "duckdb")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Model != DefaultOpenAIModel {
		t.Errorf("Model = %q", c.Model)
	}
	if c.MaxSteps != 7 || c.StepTimeout != 1500*time.Millisecond {
		t.Errorf("MaxSteps = %d, StepTimeout = %s", c.MaxSteps, c.StepTimeout)
	}
	if c.PlannerMode != "upfront" || c.Sandbox != "docker" || !c.SandboxNetwork || c.QueryDriver != "duckdb" {
		t.Errorf("config = %+v", c)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"missing gemini key": {"ANALYST_PROVIDER": "gemini", "GEMINI_API_KEY": ""},
		"bad provider":       {"ANALYST_PROVIDER": "llama"},
		"bad steps":          {"ANALYST_PROVIDER": "scripted", "ANALYST_MAX_STEPS": "ten"},
		"zero steps":         {"ANALYST_PROVIDER": "scripted", "ANALYST_MAX_STEPS": "0"},
		"bad timeout":        {"ANALYST_PROVIDER": "scripted", "ANALYST_STEP_TIMEOUT": "soon"},
		"bad sandbox":        {"ANALYST_PROVIDER": "scripted", "ANALYST_SANDBOX": "vm"},
		"bad mode":           {"ANALYST_PROVIDER": "scripted", "ANALYST_PLANNER_MODE": "psychic"},
		"bad query driver":   {"ANALYST_PROVIDER": "scripted", "ANALYST_QUERY_DRIVER": "postgres"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"ANALYST_MAX_STEPS", "ANALYST_STEP_TIMEOUT", "ANALYST_SANDBOX", "ANALYST_PLANNER_MODE", "ANALYST_QUERY_DRIVER"} {
				t.Setenv(k, "")
			}
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := strings.Join([]string{
		"# comment",
		"export ANALYST_TEST_A=one",
		`ANALYST_TEST_B="two words"`,
		"ANALYST_TEST_C='three'",
		"not a pair",
		"ANALYST_TEST_KEEP=from-file",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ANALYST_TEST_KEEP", "from-env")
	for _, k := range []string{"ANALYST_TEST_A", "ANALYST_TEST_B", "ANALYST_TEST_C"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	res := LoadEnvPath(path)
	if res.Err != nil || !res.Loaded || res.Keys != 3 {
		t.Fatalf("result = %+v", res)
	}
	want := map[string]string{
		"ANALYST_TEST_A":    "one",
		"ANALYST_TEST_B":    "two words",
		"ANALYST_TEST_C":    "three",
		"ANALYST_TEST_KEEP": "from-env",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadEnvPathMissing(t *testing.T) {
	res := LoadEnvPath(filepath.Join(t.TempDir(), "nope.env"))
	if res.Err == nil || res.Loaded {
		t.Errorf("result = %+v", res)
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"true":  true,
		"TRUE":  true,
		"yes":   true,
		"on":    true,
		"false": false,
		"0":     false,
		"":      false,
	}
	for input, want := range cases {
		if got := ParseBool(input); got != want {
			t.Fatalf("ParseBool(%q) = %v, want %v", input, got, want)
		}
	}
}
