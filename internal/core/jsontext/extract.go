package jsontext

import (
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	// DefaultStartMarker はJSON本体の開始を示すフレーズ
	DefaultStartMarker = "用例IR JSON如下"
	// DefaultEndMarker はJSON本体の終了を示すフレーズ
	DefaultEndMarker = "JSON输出完毕"

	// 推論フェーズと回答フェーズを連結したレスポンスの見出し
	thinkingHeader = "THINKING:\n"
	responseHeader = "\n\nRESPONSE:\n"
)

// fenceOpeners はコードブロック開始として認識するフェンス（順序に意味がある）
var fenceOpeners = []string{"```json", "``` json", "```"}

const fenceCloser = "```"

// Markers はレスポンス中のJSON本体を囲む目印
type Markers struct {
	Start string
	End   string
}

// DefaultMarkers は既定の目印を返す
func DefaultMarkers() Markers {
	return Markers{Start: DefaultStartMarker, End: DefaultEndMarker}
}

// Extractor はLLMの自由文からJSON候補を取り出す
type Extractor struct {
	markers Markers
	logger  *slog.Logger
}

// ExtractorOption は Extractor のオプション
type ExtractorOption func(*Extractor)

// WithMarkers は目印を差し替える
func WithMarkers(m Markers) ExtractorOption {
	return func(e *Extractor) {
		e.markers = m
	}
}

// WithExtractorLogger はロガーを設定する
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor は新しい Extractor を作成する
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		markers: DefaultMarkers(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Extract は既定の目印でJSON候補を取り出す
func Extract(text string) string {
	return NewExtractor().Extract(text)
}

// Extract はテキストからJSON候補を取り出す。
// 常に文字列を返し、有効なJSONが見つからなければ作業テキストをそのまま返す。
func (e *Extractor) Extract(text string) string {
	working := e.narrow(responsePart(text))

	blocks := CodeBlocks(working)
	if len(blocks) > 0 {
		e.logger.Debug("コードブロックを検出", "count", len(blocks))
	}
	for _, block := range blocks {
		if candidate, ok := parseable(block); ok {
			return candidate
		}
	}

	start := strings.Index(working, "{")
	end := strings.LastIndex(working, "}")
	if start != -1 && end != -1 && start < end {
		if candidate, ok := parseable(working[start : end+1]); ok {
			return candidate
		}
	}

	e.logger.Debug("有効なJSONが見つかりませんでした", "length", len(working))
	return working
}

// narrow は開始・終了の目印が揃っている場合にその間だけを切り出す
func (e *Extractor) narrow(text string) string {
	if e.markers.Start == "" || e.markers.End == "" {
		return text
	}
	start := strings.Index(text, e.markers.Start)
	if start == -1 {
		return text
	}
	from := start + len(e.markers.Start)
	end := strings.Index(text[from:], e.markers.End)
	if end == -1 {
		return text
	}
	return strings.TrimSpace(text[from : from+end])
}

// responsePart は推論付きレスポンスから回答部分だけを返す
func responsePart(text string) string {
	if !strings.Contains(text, thinkingHeader) {
		return text
	}
	if _, after, found := strings.Cut(text, responseHeader); found {
		return after
	}
	return text
}

// CodeBlocks はMarkdownのフェンス付きコードブロックを出現順に収集する。
// 開始フェンスの種類ごとに走査するため、同じブロックが重複して含まれることがある。
func CodeBlocks(text string) []string {
	var blocks []string
	for _, opener := range fenceOpeners {
		pos := 0
		for {
			start := strings.Index(text[pos:], opener)
			if start == -1 {
				break
			}
			start += pos
			bodyStart := start + len(opener)
			end := strings.Index(text[bodyStart:], fenceCloser)
			if end == -1 {
				break
			}
			end += bodyStart

			if block := strings.TrimSpace(text[bodyStart:end]); block != "" {
				blocks = append(blocks, block)
			}
			pos = end + len(fenceCloser)
		}
	}
	return blocks
}

// parseable は候補をそのまま、次に修復後の形で検証し、最初に有効となった文字列を返す
func parseable(candidate string) (string, bool) {
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	repaired := Repair(candidate)
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return "", false
}
