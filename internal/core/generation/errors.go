package generation

import (
	"errors"
	"fmt"

	"github.com/jinford/ai-json-generator/internal/core/jsontext"
)

var (
	// ErrConfig は設定ファイルやテンプレートが見つからない場合のエラー（ネットワーク呼び出し前に中断する）
	ErrConfig = errors.New("configuration error")

	// ErrTransport はHTTPステータス異常・接続失敗・ストリーム読み込み失敗のエラー
	ErrTransport = errors.New("transport error")

	// ErrExhaustedRetries は全試行で有効なJSONが得られなかった場合のエラー
	ErrExhaustedRetries = errors.New("exhausted retries without valid JSON")
)

// ExhaustedError は試行回数を使い切った失敗の詳細
type ExhaustedError struct {
	Attempts   int
	ErrorPath  string
	Diagnostic *jsontext.Diagnostic
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("failed to generate valid JSON after %d attempt(s)", e.Attempts)
	if e.ErrorPath != "" {
		msg += ": last candidate saved to " + e.ErrorPath
	}
	return msg
}

// Is は errors.Is(err, ErrExhaustedRetries) を成立させる
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// configError は原因を保持したまま ErrConfig として扱えるようにする
func configError(err error) error {
	return fmt.Errorf("%w: %w", ErrConfig, err)
}
