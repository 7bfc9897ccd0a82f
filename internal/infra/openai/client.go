package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

// previewRunes はプログレス表示に渡す回答テキストの長さ
const previewRunes = 100

var (
	// ErrAPIURLNotSet はエンドポイントURLが設定されていない場合のエラー
	ErrAPIURLNotSet = errors.New("api_url not set")

	// ErrInvalidAPIURL はエンドポイントURLを解析できない場合のエラー
	ErrInvalidAPIURL = errors.New("invalid api_url")
)

// TransportError はHTTPステータス異常・接続失敗・ストリーム読み込み失敗を表す
type TransportError struct {
	// StatusCode はHTTPステータス（応答がない場合は 0）
	StatusCode int
	// Body は取得できた場合の応答本文
	Body string
	Err  error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("LLM request failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Body != "" {
		b.WriteString("\nresponse: ")
		b.WriteString(e.Body)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is は errors.Is(err, generation.ErrTransport) を成立させる
func (e *TransportError) Is(target error) bool {
	return target == generation.ErrTransport
}

// Client はストリーミングのチャット補完クライアント
type Client struct {
	client   openai.Client
	path     string
	cfg      generation.Config
	progress generation.ProgressSink
	logger   *slog.Logger
}

type clientOptions struct {
	httpClient *http.Client
	progress   generation.ProgressSink
	logger     *slog.Logger
}

// ClientOption は Client のオプション
type ClientOption func(*clientOptions)

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithProgress はプログレスの通知先を設定する
func WithProgress(sink generation.ProgressSink) ClientOption {
	return func(o *clientOptions) {
		o.progress = sink
	}
}

// WithClientLogger はロガーを設定する
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient は設定から Client を作成する。
// SDKのリトライは無効にし、1回の呼び出しは1回のHTTPリクエストとする。
func NewClient(cfg generation.Config, opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		progress: generation.NopProgress{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.progress == nil {
		o.progress = generation.NopProgress{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	base, path, err := splitEndpoint(cfg.APIURL)
	if err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIToken),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &Client{
		client:   openai.NewClient(reqOpts...),
		path:     path,
		cfg:      cfg,
		progress: o.progress,
		logger:   o.logger,
	}, nil
}

// Complete はプロンプトを送信し、ストリームを最後まで読んで応答を返す
func (c *Client) Complete(ctx context.Context, prompt string) (generation.RawResponse, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	c.logger.Info("LLM APIにリクエストを送信します", "model", c.cfg.Model)

	var httpResp *http.Response
	if err := c.client.Post(ctx, c.path, newChatRequest(c.cfg, prompt), &httpResp); err != nil {
		return generation.RawResponse{}, toTransportError(err)
	}
	defer httpResp.Body.Close()

	resp, err := c.consume(ctx, httpResp.Body)
	if err != nil {
		return generation.RawResponse{}, err
	}

	c.logger.Info("応答を受信しました", "chars", len(resp.Content))
	if resp.HasReasoning {
		c.logger.Info("推論内容を受信しました", "chars", len(resp.Reasoning))
	}
	return resp, nil
}

// consume はフレームを読み、推論と回答をそれぞれのバッファに振り分ける
func (c *Client) consume(ctx context.Context, body io.Reader) (generation.RawResponse, error) {
	var reasoning, content strings.Builder
	contentStarted := false
	dec := NewFrameDecoder(body)

	defer c.progress.OnProgress(generation.ProgressEvent{Phase: generation.PhaseDone})

	for {
		events, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return generation.RawResponse{}, &TransportError{Err: fmt.Errorf("failed to read stream: %w", err)}
		}

		finished := false
		for _, ev := range events {
			switch ev.Kind {
			case EventReasoning:
				if contentStarted {
					continue
				}
				reasoning.WriteString(ev.Text)
				c.progress.OnProgress(generation.ProgressEvent{Phase: generation.PhaseReasoning, Delta: ev.Text})
			case EventContent:
				contentStarted = true
				content.WriteString(ev.Text)
				c.progress.OnProgress(generation.ProgressEvent{
					Phase:   generation.PhaseContent,
					Delta:   ev.Text,
					Preview: tail(content.String(), previewRunes),
				})
			case EventFinished:
				finished = true
			}
		}
		if finished {
			break
		}
	}

	return generation.RawResponse{
		Reasoning:    reasoning.String(),
		Content:      content.String(),
		HasReasoning: reasoning.Len() > 0,
	}, nil
}

func toTransportError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = apiErr.Message
		}
		if body == "" {
			body = apiErr.Error()
		}
		return &TransportError{StatusCode: apiErr.StatusCode, Body: body, Err: err}
	}
	return &TransportError{Err: err}
}

// splitEndpoint はエンドポイントURLをSDKのベースURLと相対パスに分ける
func splitEndpoint(raw string) (string, string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", "", ErrAPIURLNotSet
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidAPIURL, raw)
	}

	idx := strings.LastIndex(u.Path, "/")
	leaf := u.Path[idx+1:]
	u.Path = u.Path[:idx+1]
	u.RawPath = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		leaf += "?" + u.RawQuery
		u.RawQuery = ""
	}
	return u.String(), leaf, nil
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// インターフェース実装の確認
var _ generation.CompletionClient = (*Client)(nil)
