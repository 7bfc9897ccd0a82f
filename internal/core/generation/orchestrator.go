package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jinford/ai-json-generator/internal/core/jsontext"
	"github.com/jinford/ai-json-generator/internal/core/prompt"
)

// retryNoticeFormat は無効なJSONを返した後のプロンプトに追記する定型文
const retryNoticeFormat = `%s

Your previous response contained invalid JSON. Please fix the following errors and try again:

%s

Please make sure to provide valid JSON.
`

// Orchestrator は 描画 → 呼び出し → 抽出 → 検証 → 再試行 のループを実行する
type Orchestrator struct {
	client    CompletionClient
	renderer  *prompt.Renderer
	locator   *prompt.Locator
	extractor *jsontext.Extractor
	schema    *jsontext.SchemaValidator
	tokens    TokenCounter
	recorder  Recorder
	logger    *slog.Logger
}

// OrchestratorOption は Orchestrator のオプション
type OrchestratorOption func(*Orchestrator)

// WithRenderer は PromptRenderer を差し替える
func WithRenderer(r *prompt.Renderer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.renderer = r
	}
}

// WithLocator はテンプレート検索を差し替える
func WithLocator(l *prompt.Locator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.locator = l
	}
}

// WithExtractor はJSON抽出器を差し替える
func WithExtractor(e *jsontext.Extractor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.extractor = e
	}
}

// WithSchemaValidator は構文検証後のスキーマ検証を有効にする
func WithSchemaValidator(v *jsontext.SchemaValidator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.schema = v
	}
}

// WithTokenCounter はトークン使用量の計測を有効にする
func WithTokenCounter(c TokenCounter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tokens = c
	}
}

// WithRecorder はメトリクスの記録先を設定する
func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithOrchestratorLogger はロガーを設定する
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator は新しい Orchestrator を作成する
func NewOrchestrator(client CompletionClient, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.renderer == nil {
		o.renderer = prompt.NewRenderer(prompt.WithRendererLogger(o.logger))
	}
	if o.locator == nil {
		o.locator = prompt.DefaultLocator()
	}
	if o.extractor == nil {
		o.extractor = jsontext.NewExtractor(jsontext.WithExtractorLogger(o.logger))
	}
	if o.recorder == nil {
		o.recorder = nopRecorder{}
	}
	return o
}

// Generate は1回の生成呼び出しを実行する。
// 有効なJSONが得られなかった場合は Success=false の Result を返し、error は nil となる。
// error を返すのは設定エラー・通信エラー・出力の書き込み失敗のみ。
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	req = normalize(req)
	art := Artifacts{Dir: req.OutputDir, Base: req.BaseName, Ext: req.Ext}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	current, err := o.initialPrompt(req)
	if err != nil {
		return nil, err
	}
	result := &Result{Prompt: current}

	if req.Debug {
		o.dump(art.Prompt(), current)
	}

	for n := 1; n <= req.MaxRetries; n++ {
		o.logger.Info("生成を試行します", "attempt", n, "max", req.MaxRetries, "base", req.BaseName)

		resp, err := o.client.Complete(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("attempt %d: %w", n, err)
		}
		if req.Debug {
			o.dump(art.Response(n), resp.Full())
		}
		result.Usage = result.Usage.Add(o.countUsage(current, resp))

		candidate := o.extractor.Extract(resp.Full())
		value, diag := jsontext.Validate(candidate)
		if diag == nil && o.schema != nil {
			diag = o.schema.Check(candidate)
		}

		attempt := Attempt{
			Number:     n,
			Prompt:     current,
			Response:   resp,
			Candidate:  candidate,
			Diagnostic: diag,
		}
		o.recorder.ObserveAttempt(diag == nil)

		if diag == nil {
			attempt.Value = value
			result.Attempts = append(result.Attempts, attempt)

			if err := WriteJSON(art.Output(), value); err != nil {
				return nil, err
			}
			o.logger.Info("有効なJSONを出力しました", "path", art.Output(), "attempt", n)

			result.Success = true
			result.Value = value
			result.OutputPath = art.Output()
			o.finish(result)
			return result, nil
		}

		result.Attempts = append(result.Attempts, attempt)
		result.Diagnostic = diag
		result.LastCandidate = candidate
		o.logger.Warn("無効なJSONです", "attempt", n, "diagnostic", diag.String())

		if n < req.MaxRetries {
			current = RetryPrompt(current, diag)
			if req.Debug {
				o.dump(art.RetryPrompt(n), current)
			}
		}
	}

	o.logger.Error("有効なJSONを生成できませんでした", "attempts", req.MaxRetries)
	if err := writeText(art.Error(), result.LastCandidate); err != nil {
		return nil, err
	}
	result.ErrorPath = art.Error()
	o.logger.Info("最後の候補を保存しました", "path", art.Error())

	o.finish(result)
	return result, nil
}

// RetryPrompt は直前のプロンプトに失敗の通知を追記したプロンプトを返す
func RetryPrompt(previous string, diag *jsontext.Diagnostic) string {
	return fmt.Sprintf(retryNoticeFormat, previous, diag.String())
}

func (o *Orchestrator) initialPrompt(req Request) (string, error) {
	if req.IsDirect() {
		if len(req.Substitutions) > 0 {
			o.logger.Warn("直接プロンプトモードでは置換値を無視します", "count", len(req.Substitutions))
		}
		if req.DirectPrompt != "" {
			return req.DirectPrompt, nil
		}
		data, err := os.ReadFile(req.DirectPromptPath)
		if err != nil {
			return "", configError(fmt.Errorf("failed to read direct prompt %s: %w", req.DirectPromptPath, err))
		}
		o.logger.Info("直接プロンプトを使用します", "path", req.DirectPromptPath)
		return string(data), nil
	}

	tmpl := req.Template
	if tmpl == "" {
		var err error
		tmpl, err = o.locator.Read(req.TemplatePath)
		if err != nil {
			return "", configError(err)
		}
		o.logger.Info("テンプレートを読み込みました", "path", req.TemplatePath, "chars", len(tmpl))
	}
	return o.renderer.Render(tmpl, req.Substitutions), nil
}

func (o *Orchestrator) countUsage(promptText string, resp RawResponse) Usage {
	if o.tokens == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:   o.tokens.CountTokens(promptText),
		ResponseTokens: o.tokens.CountTokens(resp.Full()),
	}
}

func (o *Orchestrator) finish(result *Result) {
	o.recorder.ObserveResult(result.Success, len(result.Attempts))
	o.recorder.ObserveTokens(result.Usage)
}

// dump はデバッグ用の中間ファイルを書き出す。失敗しても生成は続ける。
func (o *Orchestrator) dump(path, text string) {
	if err := writeText(path, text); err != nil {
		o.logger.Warn("デバッグファイルの書き込みに失敗しました", "path", path, "error", err)
		return
	}
	o.logger.Debug("デバッグファイルを保存しました", "path", path)
}

func normalize(req Request) Request {
	if req.MaxRetries < 1 {
		req.MaxRetries = 1
	}
	if req.OutputDir == "" {
		req.OutputDir = "."
	}
	if req.BaseName == "" {
		req.BaseName = "output"
	}
	if req.Ext == "" {
		req.Ext = DefaultExt
	}
	return req
}
