package jsontext

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// contextRadius はエラー行の前後に表示する行数
const contextRadius = 3

// EmptyInputMessage は空文字列を検証したときの診断メッセージ
const EmptyInputMessage = "Empty JSON string"

// Diagnostic はJSON解析失敗の位置情報付き診断
type Diagnostic struct {
	// Message はパーサのエラーメッセージ
	Message string
	// Offset はエラー位置のバイトオフセット（位置情報がない場合は -1）
	Offset int
	// Line は1始まりの行番号
	Line int
	// Column は1始まりの列番号（文字単位）
	Column int
	// Context はエラー行の前後とキャレットを描画した文字列
	Context string
	// Violations はスキーマ違反の一覧（スキーマ検証時のみ）
	Violations []string
}

// HasPosition は位置情報を持つか判定する
func (d *Diagnostic) HasPosition() bool {
	return d != nil && d.Offset >= 0
}

// String はリトライ時のプロンプトに埋め込む形式で診断を描画する
func (d *Diagnostic) String() string {
	if d == nil {
		return ""
	}
	if len(d.Violations) > 0 {
		var b strings.Builder
		b.WriteString("JSON Schema Validation Error: ")
		b.WriteString(d.Message)
		for _, v := range d.Violations {
			b.WriteString("\n- ")
			b.WriteString(v)
		}
		return b.String()
	}
	if !d.HasPosition() {
		return d.Message
	}
	return fmt.Sprintf("JSON Validation Error: %s\nError at position %d, line %d, column %d\nContext:\n%s",
		d.Message, d.Offset, d.Line, d.Column, d.Context)
}

// Validate はJSON文字列を解析し、失敗時は位置情報付きの診断を返す。
// 数値は json.Number として保持する。
func Validate(candidate string) (any, *Diagnostic) {
	if candidate == "" {
		return nil, &Diagnostic{Message: EmptyInputMessage, Offset: -1}
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, diagnose(candidate, err)
	}

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, diagnose(candidate, err)
	}
	return value, nil
}

// diagnose はパーサのエラーから診断を組み立てる
func diagnose(input string, err error) *Diagnostic {
	offset := len(input)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) && !strings.Contains(syntaxErr.Error(), "unexpected end") {
		// Offset はエラー文字を読み終えた位置を指す
		offset = int(syntaxErr.Offset) - 1
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(input) {
		offset = len(input)
	}

	line, column := position(input, offset)
	return &Diagnostic{
		Message: err.Error(),
		Offset:  offset,
		Line:    line,
		Column:  column,
		Context: renderContext(input, line, column),
	}
}

// position はバイトオフセットを1始まりの行・列に変換する
func position(input string, offset int) (int, int) {
	before := input[:offset]
	line := strings.Count(before, "\n") + 1
	lineStart := strings.LastIndex(before, "\n") + 1
	column := utf8.RuneCountInString(before[lineStart:]) + 1
	return line, column
}

// renderContext はエラー行の前後3行を描画し、エラー行の直下にキャレットを置く
func renderContext(input string, line, column int) string {
	lines := strings.Split(input, "\n")
	first := max(1, line-contextRadius)
	last := min(len(lines), line+contextRadius)

	out := make([]string, 0, last-first+2)
	for n := first; n <= last; n++ {
		text := lines[n-1]
		if n == line {
			prefix := fmt.Sprintf("LINE %d (ERROR): ", n)
			out = append(out, prefix+text)
			out = append(out, strings.Repeat(" ", len(prefix)+column-1)+"^")
			continue
		}
		out = append(out, fmt.Sprintf("LINE %d: %s", n, text))
	}
	return strings.Join(out, "\n")
}
