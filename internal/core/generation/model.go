package generation

import (
	"time"

	"github.com/samber/mo"

	"github.com/jinford/ai-json-generator/internal/core/jsontext"
	"github.com/jinford/ai-json-generator/internal/core/prompt"
)

const (
	// DefaultThinkingBudget は推論トークン数の既定値
	DefaultThinkingBudget = 4096
	// DefaultMinP は min_p の既定値
	DefaultMinP = 0.05
	// DefaultTopK は top_k の既定値
	DefaultTopK = 50
	// DefaultFrequencyPenalty は frequency_penalty の既定値
	DefaultFrequencyPenalty = 0.5
	// DefaultRequestTimeout はストリーム全体のタイムアウト既定値
	DefaultRequestTimeout = 600 * time.Second

	// DefaultExt は出力ファイルの既定の拡張子
	DefaultExt = "json"
)

// Config はLLM呼び出しの設定。生成中に変更されることはない。
type Config struct {
	APIURL           string
	Model            string
	APIToken         string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	TopK             int
	MinP             float64
	FrequencyPenalty float64
	ThinkingBudget   int
	// EnableThinking は未設定の場合リクエストに含めない
	EnableThinking mo.Option[bool]
	RequestTimeout time.Duration
	Markers        jsontext.Markers
}

// RawResponse はストリームから組み立てた応答
type RawResponse struct {
	Reasoning string
	Content   string
	// HasReasoning は推論フェーズを観測したかどうか
	HasReasoning bool
}

// Full は推論フェーズがあれば見出し付きで連結した全文を返す
func (r RawResponse) Full() string {
	if !r.HasReasoning {
		return r.Content
	}
	return "THINKING:\n" + r.Reasoning + "\n\nRESPONSE:\n" + r.Content
}

// Request は1回の生成呼び出しの入力
type Request struct {
	// TemplatePath はテンプレートファイル（Locator で検索する）
	TemplatePath string
	// Template はテンプレート本文。指定時は TemplatePath より優先する
	Template      string
	Substitutions prompt.Substitutions

	// DirectPromptPath が指定された場合はテンプレートと置換値を使わない
	DirectPromptPath string
	// DirectPrompt はプロンプト本文を直接渡す場合に使う
	DirectPrompt string

	OutputDir  string
	BaseName   string
	Ext        string
	MaxRetries int
	Debug      bool
}

// IsDirect は直接プロンプトモードかどうかを返す
func (r Request) IsDirect() bool {
	return r.DirectPromptPath != "" || r.DirectPrompt != ""
}

// Attempt は1回の試行の記録
type Attempt struct {
	Number     int
	Prompt     string
	Response   RawResponse
	Candidate  string
	Value      any
	Diagnostic *jsontext.Diagnostic
}

// Usage はトークン使用量
type Usage struct {
	PromptTokens   int
	ResponseTokens int
}

// Total は合計トークン数を返す
func (u Usage) Total() int {
	return u.PromptTokens + u.ResponseTokens
}

// Add は使用量を加算する
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:   u.PromptTokens + other.PromptTokens,
		ResponseTokens: u.ResponseTokens + other.ResponseTokens,
	}
}

// Result は生成呼び出しの終端状態
type Result struct {
	Success bool
	// Value は検証済みのJSON値（成功時）
	Value      any
	OutputPath string
	// ErrorPath は失敗時に最後の候補を書き出したファイル
	ErrorPath     string
	Diagnostic    *jsontext.Diagnostic
	LastCandidate string
	// Prompt は最初の試行で使ったプロンプト
	Prompt   string
	Attempts []Attempt
	Usage    Usage
}

// Err は失敗時に ErrExhaustedRetries を返す
func (r *Result) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return &ExhaustedError{Attempts: len(r.Attempts), ErrorPath: r.ErrorPath, Diagnostic: r.Diagnostic}
}
