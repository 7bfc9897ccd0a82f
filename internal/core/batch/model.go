package batch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/ai-json-generator/internal/core/conversion"
	"github.com/jinford/ai-json-generator/internal/core/generation"
)

// Status はバッチ行の処理結果
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Entry は台帳に記録する1行分の結果
type Entry struct {
	Row        int              `json:"row"`
	Status     Status           `json:"status"`
	RunID      uuid.UUID        `json:"run_id"`
	OutputPath string           `json:"output_path,omitempty"`
	ModelPath  string           `json:"model_path,omitempty"`
	Attempts   int              `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	Usage      generation.Usage `json:"usage"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Ledger はバッチ行の処理結果を永続化する。
// 再実行時に成功済みの行を飛ばすために使う
type Ledger interface {
	// Load は記録済みの結果を行番号ごとに返す
	Load(ctx context.Context) (map[int]Entry, error)
	// Record は1行分の結果を記録する（同じ行は上書き）
	Record(ctx context.Context, entry Entry) error
}

// PipelineRunner は1行分の生成（と変換）を実行する
type PipelineRunner interface {
	Run(ctx context.Context, req conversion.Request) (*conversion.Result, error)
}

// UsageCounter はトークン使用量を集計する
type UsageCounter interface {
	Add(usage generation.Usage)
	Snapshot() (generation.Usage, int)
}

// Recorder はバッチ行の結果を記録する
type Recorder interface {
	ObserveRow(status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRow(string) {}

// Request はバッチ実行の入力
type Request struct {
	CSVPath string
	// Generation は各行の生成リクエストのひな形。OutputDir はバッチ全体の出力先
	Generation generation.Request
	Convert    bool
	// Concurrency は同時に処理する行数（1未満は1）
	Concurrency int
}

// Summary はバッチ実行の集計
type Summary struct {
	RunID      uuid.UUID        `json:"run_id"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	Usage      generation.Usage `json:"usage"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Rows       []Entry          `json:"rows"`
}
