// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every setting the binaries read.
type Config struct {
	Addr string

	// Provider is gemini, openai or scripted.
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// PlannerMode is iterative or upfront.
	PlannerMode string
	MaxSteps    int
	StepTimeout time.Duration

	// Sandbox is ops or docker.
	Sandbox        string
	SandboxImage   string
	SandboxNetwork bool

	QueryDriver string
	QueryDSN    string

	// DBPath locates the run journal. Empty disables it.
	DBPath string
	Debug  bool
}

// Defaults.
const (
	DefaultAddr         = ":8080"
	DefaultGeminiModel  = "gemini-2.0-flash"
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultMaxSteps     = 10
	DefaultStepTimeout  = 25 * time.Second
	DefaultSandboxImage = "analyst-sandbox:latest"
)

// Load reads the configuration from the environment. Call LoadEnvFile first
// to seed it from a .env file.
func Load() (*Config, error) {
	c := &Config{
		Addr:           str("ANALYST_ADDR", DefaultAddr),
		Provider:       strings.ToLower(str("ANALYST_PROVIDER", "gemini")),
		Model:          str("ANALYST_MODEL", ""),
		GeminiAPIKey:   str("GEMINI_API_KEY", ""),
		OpenAIAPIKey:   str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  str("OPENAI_BASE_URL", ""),
		PlannerMode:    strings.ToLower(str("ANALYST_PLANNER_MODE", "iterative")),
		Sandbox:        strings.ToLower(str("ANALYST_SANDBOX", "ops")),
		SandboxImage:   str("ANALYST_SANDBOX_IMAGE", DefaultSandboxImage),
		SandboxNetwork: Bool("ANALYST_SANDBOX_NETWORK"),
		QueryDriver:    str("ANALYST_QUERY_DRIVER", "sqlite3"),
		QueryDSN:       str("ANALYST_QUERY_DSN", ""),
		DBPath:         str("ANALYST_DB_PATH", ""),
		Debug:          Bool("ANALYST_DEBUG"),
	}

	var err error
	if c.MaxSteps, err = intVar("ANALYST_MAX_STEPS", DefaultMaxSteps); err != nil {
		return nil, err
	}
	if c.StepTimeout, err = durationVar("ANALYST_STEP_TIMEOUT", DefaultStepTimeout); err != nil {
		return nil, err
	}

	if c.Model == "" {
		switch c.Provider {
		case "openai":
			c.Model = DefaultOpenAIModel
		case "scripted":
			c.Model = "scripted"
		default:
			c.Model = DefaultGeminiModel
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks enumerated settings and required credentials.
func (c *Config) Validate() error {
	switch c.Provider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable not set")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL must be set for the openai provider")
		}
	case "scripted":
	default:
		return fmt.Errorf("unknown provider %q (want gemini, openai or scripted)", c.Provider)
	}

	switch c.PlannerMode {
	case "iterative", "upfront":
	default:
		return fmt.Errorf("unknown planner mode %q", c.PlannerMode)
	}

	switch c.Sandbox {
	case "ops", "docker":
	default:
		return fmt.Errorf("unknown sandbox %q (want ops or docker)", c.Sandbox)
	}

	switch c.QueryDriver {
	case "sqlite3", "duckdb":
	default:
		return fmt.Errorf("unsupported query driver %q (want sqlite3 or duckdb)", c.QueryDriver)
	}

	if c.MaxSteps <= 0 {
		return fmt.Errorf("ANALYST_MAX_STEPS must be positive, got %d", c.MaxSteps)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("ANALYST_STEP_TIMEOUT must be positive, got %s", c.StepTimeout)
	}
	return nil
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intVar(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// durationVar accepts Go durations ("25s") or a bare number of seconds.
func durationVar(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Bool reports whether the variable holds a truthy value.
func Bool(key string) bool {
	return ParseBool(os.Getenv(key))
}

func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
