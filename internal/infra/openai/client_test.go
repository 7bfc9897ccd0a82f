package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(url string) generation.Config {
	return generation.Config{
		APIURL:           url,
		Model:            "test-model",
		APIToken:         "secret-token",
		MaxTokens:        1024,
		Temperature:      0.3,
		TopP:             0.9,
		TopK:             generation.DefaultTopK,
		MinP:             generation.DefaultMinP,
		FrequencyPenalty: generation.DefaultFrequencyPenalty,
		ThinkingBudget:   generation.DefaultThinkingBudget,
		RequestTimeout:   10 * time.Second,
	}
}

func contentFrame(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, text)
}

func reasoningFrame(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"reasoning_content":%q}}]}`, text)
}

const stopFrame = `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`

// streamServer は与えたフレームを順に返すサーバを起動する
func streamServer(t *testing.T, frames []string, inspect func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inspect != nil {
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingSink struct {
	mu     sync.Mutex
	events []generation.ProgressEvent
}

func (s *recordingSink) OnProgress(ev generation.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestClient_SkipsMalformedFrames(t *testing.T) {
	srv := streamServer(t, []string{
		contentFrame(`{"a":`),
		`data: {"choices":[{"delta":{"content":"broken`,
		contentFrame(`1}`),
		stopFrame,
	}, nil)

	c, err := NewClient(testConfig(srv.URL+"/v1/chat/completions"), WithClientLogger(discardLogger()))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Content)
	assert.False(t, resp.HasReasoning)
	assert.Equal(t, `{"a":1}`, resp.Full())
}

func TestClient_SeparatesReasoningAndContent(t *testing.T) {
	srv := streamServer(t, []string{
		": keep-alive",
		reasoningFrame("考え"),
		reasoningFrame("ています"),
		contentFrame("答え"),
		reasoningFrame("遅れて届いた推論"),
		contentFrame("です"),
		stopFrame,
		contentFrame("終了後のテキスト"),
	}, nil)

	sink := &recordingSink{}
	c, err := NewClient(testConfig(srv.URL+"/v1/chat/completions"),
		WithProgress(sink),
		WithClientLogger(discardLogger()),
	)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "考えています", resp.Reasoning)
	assert.Equal(t, "答えです", resp.Content)
	assert.True(t, resp.HasReasoning)
	assert.Equal(t, "THINKING:\n考えています\n\nRESPONSE:\n答えです", resp.Full())

	require.NotEmpty(t, sink.events)
	assert.Equal(t, generation.PhaseReasoning, sink.events[0].Phase)
	assert.Equal(t, generation.PhaseDone, sink.events[len(sink.events)-1].Phase)
	assert.Equal(t, "答えです", sink.events[len(sink.events)-2].Preview)
}

func TestClient_EndsAtStreamClose(t *testing.T) {
	srv := streamServer(t, []string{contentFrame("途中まで"), "data: [DONE]"}, nil)

	c, err := NewClient(testConfig(srv.URL+"/chat"), WithClientLogger(discardLogger()))
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), "prompt")

	require.NoError(t, err)
	assert.Equal(t, "途中まで", resp.Content)
}

func TestClient_RequestBody(t *testing.T) {
	tests := []struct {
		name           string
		enableThinking mo.Option[bool]
		wantThinking   any
		wantPresent    bool
	}{
		{name: "enable_thinking 未設定", enableThinking: mo.None[bool]()},
		{name: "enable_thinking false", enableThinking: mo.Some(false), wantThinking: false, wantPresent: true},
		{name: "enable_thinking true", enableThinking: mo.Some(true), wantThinking: true, wantPresent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				gotPath string
				gotAuth string
				gotBody map[string]any
			)
			srv := streamServer(t, []string{contentFrame("{}"), stopFrame}, func(r *http.Request, body map[string]any) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				gotBody = body
			})

			cfg := testConfig(srv.URL + "/v1/chat/completions")
			cfg.EnableThinking = tt.enableThinking
			c, err := NewClient(cfg, WithClientLogger(discardLogger()))
			require.NoError(t, err)

			_, err = c.Complete(context.Background(), "こんにちは")
			require.NoError(t, err)

			assert.Equal(t, "/v1/chat/completions", gotPath)
			assert.Equal(t, "Bearer secret-token", gotAuth)
			assert.Equal(t, "test-model", gotBody["model"])
			assert.Equal(t, true, gotBody["stream"])
			assert.Equal(t, float64(1), gotBody["n"])
			assert.Equal(t, []any{}, gotBody["stop"])
			assert.Equal(t, float64(1024), gotBody["max_tokens"])
			assert.Equal(t, float64(4096), gotBody["thinking_budget"])
			assert.Equal(t, float64(50), gotBody["top_k"])
			assert.Equal(t, 0.05, gotBody["min_p"])
			assert.Equal(t, 0.5, gotBody["frequency_penalty"])
			assert.Equal(t, []any{map[string]any{"role": "user", "content": "こんにちは"}}, gotBody["messages"])

			v, ok := gotBody["enable_thinking"]
			assert.Equal(t, tt.wantPresent, ok)
			if tt.wantPresent {
				assert.Equal(t, tt.wantThinking, v)
			}
		})
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL+"/v1/chat/completions"), WithClientLogger(discardLogger()))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "prompt")

	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrTransport)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.NotEmpty(t, te.Body)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(testConfig(url+"/v1/chat/completions"), WithClientLogger(discardLogger()))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "prompt")

	assert.ErrorIs(t, err, generation.ErrTransport)
}

func TestClient_CancelMidStreamLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s\n\n", reasoningFrame("考え中"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))

	transport := &http.Transport{}
	c, err := NewClient(testConfig(srv.URL+"/v1/chat/completions"),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithClientLogger(discardLogger()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err = c.Complete(ctx, "prompt")

	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)

	transport.CloseIdleConnections()
	srv.Close()
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantBase string
		wantPath string
		wantErr  error
	}{
		{
			name:     "一般的なエンドポイント",
			raw:      "https://api.example.com/v1/chat/completions",
			wantBase: "https://api.example.com/v1/chat/",
			wantPath: "completions",
		},
		{
			name:     "クエリ付き",
			raw:      "http://localhost:8000/generate?stream=1",
			wantBase: "http://localhost:8000/",
			wantPath: "generate?stream=1",
		},
		{
			name:     "パスなし",
			raw:      "http://localhost:8000",
			wantBase: "http://localhost:8000/",
			wantPath: "",
		},
		{name: "空", raw: "", wantErr: ErrAPIURLNotSet},
		{name: "スキームなし", raw: "localhost/v1", wantErr: ErrInvalidAPIURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, path, err := splitEndpoint(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
