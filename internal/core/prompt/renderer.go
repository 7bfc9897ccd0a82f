package prompt

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"text/template"
)

// FileReader はファイル参照の内容を読み込む
type FileReader func(path string) ([]byte, error)

// Renderer はテンプレートのプレースホルダを置換してプロンプトを組み立てる
type Renderer struct {
	readFile   FileReader
	structured bool
	logger     *slog.Logger
}

// RendererOption は Renderer のオプション
type RendererOption func(*Renderer)

// WithFileReader はファイル読み込み関数を差し替える
func WithFileReader(fn FileReader) RendererOption {
	return func(r *Renderer) {
		r.readFile = fn
	}
}

// WithStructured は text/template による構造化置換を有効にする
func WithStructured(enabled bool) RendererOption {
	return func(r *Renderer) {
		r.structured = enabled
	}
}

// WithRendererLogger はロガーを設定する
func WithRendererLogger(logger *slog.Logger) RendererOption {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// NewRenderer は新しい Renderer を作成する
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		readFile: os.ReadFile,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Render はテンプレート中の {key} を置換値で置き換える。
// 対応する値がないプレースホルダはそのまま残し、エラーにはしない。
func (r *Renderer) Render(tmpl string, subs Substitutions) string {
	resolved := r.resolve(subs)

	if r.structured {
		if out, ok := r.renderStructured(tmpl, resolved); ok {
			return out
		}
	}
	return renderLiteral(tmpl, resolved)
}

// resolve はファイル参照を内容に解決する。読み込みに失敗した場合はパスを値として使う。
func (r *Renderer) resolve(subs Substitutions) map[string]string {
	resolved := make(map[string]string, len(subs))
	for key, v := range subs {
		if v.Kind != KindFile {
			resolved[key] = v.Text
			continue
		}
		data, err := r.readFile(v.Text)
		if err != nil {
			r.logger.Warn("置換ファイルの読み込みに失敗しました。パスをそのまま使用します",
				"key", key, "path", v.Text, "error", err)
			resolved[key] = v.Text
			continue
		}
		r.logger.Debug("置換値をファイルから読み込みました", "key", key, "path", v.Text, "chars", len(data))
		resolved[key] = string(data)
	}
	return resolved
}

// renderStructured は text/template で描画する。構文エラーや未定義キーでは失敗を返す。
func (r *Renderer) renderStructured(tmpl string, values map[string]string) (string, bool) {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		r.logger.Warn("構造化テンプレートの解析に失敗しました。単純置換にフォールバックします", "error", err)
		return "", false
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, values); err != nil {
		r.logger.Warn("構造化テンプレートの描画に失敗しました。単純置換にフォールバックします", "error", err)
		return "", false
	}
	return buf.String(), true
}

// renderLiteral は全キーを一度の走査で置換する（置換結果が再置換されることはない）
func renderLiteral(tmpl string, values map[string]string) string {
	if len(values) == 0 {
		return tmpl
	}
	oldnew := make([]string, 0, len(values)*2)
	for key, value := range values {
		oldnew = append(oldnew, "{"+key+"}", value)
	}
	return strings.NewReplacer(oldnew...).Replace(tmpl)
}
