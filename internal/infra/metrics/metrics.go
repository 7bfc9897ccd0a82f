package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

const namespace = "aijson"

// Recorder は生成・変換・バッチのメトリクスを保持する。
// 実行ごとに独立したレジストリを持ち、終了時にテキストファイルへ書き出す。
type Recorder struct {
	registry *prometheus.Registry

	Attempts    *prometheus.CounterVec
	Generations *prometheus.CounterVec
	AttemptsPer prometheus.Histogram
	Tokens      *prometheus.CounterVec
	Conversions *prometheus.CounterVec
	Rows        *prometheus.CounterVec
}

// NewRecorder は新しいレジストリにコレクタを登録した Recorder を作成する
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		Attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of LLM attempts by validation result",
			},
			[]string{"result"},
		),
		Generations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of generation calls by outcome",
			},
			[]string{"result"},
		),
		AttemptsPer: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_attempts",
				Help:      "Number of attempts used per generation call",
				Buckets:   []float64{1, 2, 3, 5, 8},
			},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total number of counted tokens",
			},
			[]string{"kind"},
		),
		Conversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total number of conversion attempts by outcome",
			},
			[]string{"result"},
		),
		Rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_rows_total",
				Help:      "Total number of batch rows by status",
			},
			[]string{"status"},
		),
	}
}

// Registry はメトリクスのレジストリを返す
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveAttempt は1回の試行の検証結果を記録する
func (r *Recorder) ObserveAttempt(valid bool) {
	r.Attempts.WithLabelValues(label(valid, "valid", "invalid")).Inc()
}

// ObserveResult は生成呼び出しの結果を記録する
func (r *Recorder) ObserveResult(success bool, attempts int) {
	r.Generations.WithLabelValues(label(success, "success", "failure")).Inc()
	r.AttemptsPer.Observe(float64(attempts))
}

// ObserveTokens はトークン使用量を記録する
func (r *Recorder) ObserveTokens(usage generation.Usage) {
	r.Tokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	r.Tokens.WithLabelValues("response").Add(float64(usage.ResponseTokens))
}

// ObserveConversion は変換の結果を記録する
func (r *Recorder) ObserveConversion(success bool) {
	r.Conversions.WithLabelValues(label(success, "success", "failure")).Inc()
}

// ObserveRow はバッチ行の結果を記録する
func (r *Recorder) ObserveRow(status string) {
	r.Rows.WithLabelValues(status).Inc()
}

// WriteTextfile は node_exporter の textfile 形式で書き出す
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

func label(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

var _ generation.Recorder = (*Recorder)(nil)
