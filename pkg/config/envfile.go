package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileResult describes what LoadEnvFile did.
type EnvFileResult struct {
	Path   string
	Loaded bool
	Keys   int
	Err    error
}

// LoadEnvFile sets variables from ANALYST_ENV_PATH, or from the nearest .env
// found walking up from the working directory. Variables already present in
// the environment win.
func LoadEnvFile() EnvFileResult {
	if override := strings.TrimSpace(os.Getenv("ANALYST_ENV_PATH")); override != "" {
		return LoadEnvPath(override)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return EnvFileResult{Err: err}
	}
	path := findUpwards(cwd, ".env")
	if path == "" {
		return EnvFileResult{}
	}
	return LoadEnvPath(path)
}

// LoadEnvPath sets variables from the file at path.
func LoadEnvPath(path string) EnvFileResult {
	res := EnvFileResult{Path: path}
	file, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer file.Close()
	res.Loaded = true

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := splitLine(line)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			res.Err = err
			return res
		}
		res.Keys++
	}
	if err := scanner.Err(); err != nil {
		res.Err = err
	}
	return res
}

func splitLine(line string) (string, string, bool) {
	key, value, ok := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(value)), true
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}

func findUpwards(start, filename string) string {
	for dir := start; ; {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
