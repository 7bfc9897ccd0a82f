package generation

import (
	"context"
)

// CompletionClient はストリーミングのチャット補完を1回実行する。
// 失敗はすべて ErrTransport として扱える error で返す。
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (RawResponse, error)
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// Recorder は生成のメトリクスを記録する
type Recorder interface {
	ObserveAttempt(valid bool)
	ObserveResult(success bool, attempts int)
	ObserveTokens(usage Usage)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(bool) {}
func (nopRecorder) ObserveResult(bool, int) {}
func (nopRecorder) ObserveTokens(Usage) {}
