package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifacts は1回の生成呼び出しで書き出すファイルの命名規則
type Artifacts struct {
	Dir  string
	Base string
	Ext  string
}

// Output は成功時の出力パス {dir}/{base}.{ext}
func (a Artifacts) Output() string {
	return filepath.Join(a.Dir, a.Base+"."+a.Ext)
}

// Error は失敗時に最後の候補を書き出すパス
func (a Artifacts) Error() string {
	return a.Output() + ".error"
}

// Prompt は最初のプロンプトのダンプ先
func (a Artifacts) Prompt() string {
	return filepath.Join(a.Dir, a.Base+".prompt.txt")
}

// Response は n 回目の試行の応答ダンプ先
func (a Artifacts) Response(n int) string {
	return filepath.Join(a.Dir, fmt.Sprintf("%s.attempt%d.response.txt", a.Base, n))
}

// RetryPrompt は n 回目の失敗後に組み立てたプロンプトのダンプ先
func (a Artifacts) RetryPrompt(n int) string {
	return filepath.Join(a.Dir, fmt.Sprintf("%s.retry%d.prompt.txt", a.Base, n))
}

// MarshalPretty はインデント2、HTMLエスケープなしでJSONを整形する（非ASCII文字はそのまま）
func MarshalPretty(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON は値を整形して書き出す
func WriteJSON(path string, value any) error {
	data, err := MarshalPretty(value)
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return writeFile(path, data)
}

func writeText(path, text string) error {
	return writeFile(path, []byte(text))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
