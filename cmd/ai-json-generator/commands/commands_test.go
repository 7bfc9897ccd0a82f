package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/jsontext"
)

// completionServer は与えた本文を1つのストリームとして返すサーバを起動する
func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeTestConfig(t *testing.T, dir, apiURL string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "api_token": "secret-token",
  "model": "test-model",
  "api_url": %q,
  "max_tokens": 256,
  "temperature": 0.2,
  "top_p": 0.9,
  "request_timeout_seconds": 5
}`, apiURL)
	return writeFile(t, filepath.Join(dir, "config.json"), body)
}

// runApp はプロセスを終了させずにコマンドを実行する
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	err := app.Run(context.Background(), append([]string{"ai-json-generator"}, args...))
	return out.String(), err
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	srv := completionServer(t, fmt.Sprintf("%s\n{\"Case_Name\": \"Add\", \"shape\": [1, 2]}\n%s",
		jsontext.DefaultStartMarker, jsontext.DefaultEndMarker))
	cfgPath := writeTestConfig(t, dir, srv.URL+"/v1/chat/completions")
	tmpl := writeFile(t, filepath.Join(dir, "tmpl.txt"), "generate {op}")
	outDir := filepath.Join(dir, "out")
	metricsPath := filepath.Join(dir, "metrics.prom")

	out, err := runApp(t, "generate",
		"--env", filepath.Join(dir, "none.env"),
		"--config", cfgPath,
		"--template", tmpl,
		"--replacements", "op=Add",
		"-o", outDir,
		"--output-name", "case",
		"--quiet",
		"--metrics-file", metricsPath,
	)

	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(outDir, "case.json"))

	data, err := os.ReadFile(filepath.Join(outDir, "case.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Add", doc["Case_Name"])
	assert.FileExists(t, metricsPath)
}

func TestGenerateCommand_InvalidArguments(t *testing.T) {
	dir := t.TempDir()
	tmpl := writeFile(t, filepath.Join(dir, "tmpl.txt"), "x")

	tests := []struct {
		name string
		args []string
	}{
		{name: "プロンプト指定なし", args: []string{"generate"}},
		{name: "テンプレートと直接プロンプトの両方", args: []string{"generate", "--template", tmpl, "--direct-prompt", tmpl}},
		{name: "設定ファイルが見つからない", args: []string{"generate", "--template", tmpl, "--config", filepath.Join(dir, "none.json")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.args...)

			require.Error(t, err)
			var exit cli.ExitCoder
			require.ErrorAs(t, err, &exit)
			assert.Equal(t, 1, exit.ExitCode())
		})
	}
}

func TestConfigShowCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://localhost:8000/v1/chat/completions")

	out, err := runApp(t, "config", "show", "--env", filepath.Join(dir, "none.env"), "--config", cfgPath)

	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "test-model", shown["model"])
	assert.Equal(t, "se********en", shown["api_token"])
	assert.NotContains(t, out, "secret-token")
}

func TestConfigInitCommand_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	existing := writeFile(t, filepath.Join(dir, "config.json"), `{"model": "keep"}`)

	_, err := runApp(t, "config", "init", "--output", existing)

	require.Error(t, err)
	data, readErr := os.ReadFile(existing)
	require.NoError(t, readErr)
	assert.JSONEq(t, `{"model": "keep"}`, string(data))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "短い文字列", in: "abc", n: 5, want: "abc"},
		{name: "長い文字列", in: "abcdef", n: 3, want: "abc..."},
		{name: "マルチバイト", in: "変換に失敗しました", n: 2, want: "変換..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}
