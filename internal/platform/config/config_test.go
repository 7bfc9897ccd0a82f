package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/core/jsontext"
)

const minimalConfig = `{
  "api_token": "tok-123456",
  "model": "qwen3",
  "api_url": "http://localhost:8000/v1/chat/completions",
  "max_tokens": 8192,
  "temperature": 0.6,
  "top_p": 0.95
}`

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", minimalConfig)

	cfg, err := Load(path, "")

	require.NoError(t, err)
	assert.Equal(t, "qwen3", cfg.LLM.Model)
	assert.Equal(t, 8192, cfg.LLM.MaxTokens)
	assert.Equal(t, 0.6, cfg.LLM.Temperature)
	assert.Equal(t, 0.95, cfg.LLM.TopP)
	assert.Equal(t, generation.DefaultThinkingBudget, cfg.LLM.ThinkingBudget)
	assert.Equal(t, generation.DefaultMinP, cfg.LLM.MinP)
	assert.Equal(t, generation.DefaultTopK, cfg.LLM.TopK)
	assert.Equal(t, generation.DefaultFrequencyPenalty, cfg.LLM.FrequencyPenalty)
	assert.Equal(t, 600*time.Second, cfg.LLM.RequestTimeout)
	assert.True(t, cfg.LLM.EnableThinking.IsAbsent())
	assert.Equal(t, jsontext.DefaultMarkers(), cfg.LLM.Markers)
	assert.Equal(t, DefaultConverterCommand, cfg.Converter.Command)
	assert.Equal(t, DefaultConverterOutputLabel, cfg.Converter.OutputLabel)
}

func TestLoad_OptionalKeys(t *testing.T) {
	body := `{
  "api_token": "t", "model": "m", "api_url": "http://x/y", "max_tokens": 1,
  "temperature": 0, "top_p": 1,
  "top_k": 20, "min_p": 0.1, "frequency_penalty": 0, "thinking_budget": 100,
  "enable_thinking": false,
  "request_timeout_seconds": 30,
  "extraction": {"start_marker": "BEGIN", "end_marker": "END"},
  "converter": {"command": "my-convert", "output_label": "Output dir"}
}`
	path := writeConfig(t, t.TempDir(), "c.json", body)

	cfg, err := Load(path, "")

	require.NoError(t, err)
	assert.Equal(t, 20, cfg.LLM.TopK)
	assert.Equal(t, 0.1, cfg.LLM.MinP)
	assert.Equal(t, 0.0, cfg.LLM.FrequencyPenalty)
	assert.Equal(t, 100, cfg.LLM.ThinkingBudget)
	v, ok := cfg.LLM.EnableThinking.Get()
	assert.True(t, ok)
	assert.False(t, v)
	assert.Equal(t, 30*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, jsontext.Markers{Start: "BEGIN", End: "END"}, cfg.LLM.Markers)
	assert.Equal(t, ConverterConfig{Command: "my-convert", OutputLabel: "Output dir"}, cfg.Converter)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "c.json", `{"api_token": "t", "model": "m"}`)

	_, err := Load(path, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.ErrorIs(t, err, generation.ErrConfig)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", minimalConfig)
	t.Setenv("AIJSON_API_TOKEN", "from-env")
	t.Setenv("AIJSON_MODEL", "override-model")

	cfg, err := Load(path, "")

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIToken)
	assert.Equal(t, "override-model", cfg.LLM.Model)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", minimalConfig)
	envFile := writeConfig(t, dir, ".env", "DB_HOST=db.internal\nDB_PORT=6543\n")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")
	os.Unsetenv("DB_HOST")
	os.Unsetenv("DB_PORT")

	cfg, err := Load(path, envFile)

	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
}

func TestLoad_MissingEnvFileIsTolerated(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", minimalConfig)

	_, err := Load(path, filepath.Join(t.TempDir(), "none.env"))

	assert.NoError(t, err)
}

func TestResolver_Resolve(t *testing.T) {
	work := t.TempDir()
	exe := t.TempDir()
	home := t.TempDir()
	other := t.TempDir()

	envPath := writeConfig(t, other, "from-env.json", minimalConfig)
	absPath := writeConfig(t, other, "abs.json", minimalConfig)
	workPath := writeConfig(t, work, "work.json", minimalConfig)
	exePath := writeConfig(t, exe, "exe.json", minimalConfig)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".ai_json_generator"), 0o755))
	homePath := writeConfig(t, filepath.Join(home, ".ai_json_generator"), "home.json", minimalConfig)

	noEnv := func(string) string { return "" }
	withEnv := func(key string) string {
		if key == EnvConfigPath {
			return envPath
		}
		return ""
	}

	tests := []struct {
		name   string
		getenv func(string) string
		arg    string
		want   string
	}{
		{name: "環境変数が最優先", getenv: withEnv, arg: "work.json", want: envPath},
		{name: "絶対パス", getenv: noEnv, arg: absPath, want: absPath},
		{name: "作業ディレクトリ相対", getenv: noEnv, arg: "work.json", want: workPath},
		{name: "実行ファイルのディレクトリ", getenv: noEnv, arg: "exe.json", want: exePath},
		{name: "ホームディレクトリ", getenv: noEnv, arg: "home.json", want: homePath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{Getenv: tt.getenv, WorkDir: work, ExeDir: exe, HomeDir: home}
			got, err := r.Resolve(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_NotFound(t *testing.T) {
	r := Resolver{Getenv: func(string) string { return "/nonexistent/config.json" }, WorkDir: t.TempDir()}

	_, err := r.Resolve("missing.json")

	assert.ErrorIs(t, err, ErrConfigNotFound)
	assert.ErrorIs(t, err, generation.ErrConfig)
}

func TestConfig_RedactedMasksToken(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.json", minimalConfig)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	shown := cfg.Redacted()

	assert.Equal(t, "to******56", shown["api_token"])
	assert.Equal(t, "unset", shown["enable_thinking"])
}
