package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/ai-json-generator/internal/core/conversion"
	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/core/prompt"
)

// SummaryFileName はバッチ出力先に書き出す集計ファイル名
const SummaryFileName = "summary.json"

// Runner はCSVの各行について生成を実行する
type Runner struct {
	pipeline   PipelineRunner
	ledger     Ledger
	usage      UsageCounter
	recorder   Recorder
	classifier prompt.Classifier
	now        func() time.Time
	logger     *slog.Logger
}

// RunnerOption は Runner のオプション
type RunnerOption func(*Runner)

// WithUsageCounter はトークン使用量の集計先を設定する
func WithUsageCounter(c UsageCounter) RunnerOption {
	return func(r *Runner) {
		r.usage = c
	}
}

// WithRecorder はメトリクスの記録先を設定する
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithClassifier は列の値を置換値に変換する方法を設定する
func WithClassifier(c prompt.Classifier) RunnerOption {
	return func(r *Runner) {
		r.classifier = c
	}
}

// WithRunnerLogger はロガーを設定する
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner は Runner を作成する
func NewRunner(pipeline PipelineRunner, ledger Ledger, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline:   pipeline,
		ledger:     ledger,
		recorder:   nopRecorder{},
		classifier: prompt.FilesystemClassifier,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run はバッチを実行する。
// 行ごとの生成失敗は Summary に記録して続行し、error を返すのは
// CSV・台帳の読み書きの失敗とキャンセルのみ
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	rows, err := ReadRowsFile(req.CSVPath)
	if err != nil {
		return nil, err
	}
	done, err := r.ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	summary := &Summary{
		RunID:     uuid.New(),
		Total:     len(rows),
		StartedAt: r.now(),
	}
	r.logger.Info("バッチを開始します", "run_id", summary.RunID, "rows", len(rows), "csv", req.CSVPath)

	limit := req.Concurrency
	if limit < 1 {
		limit = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, row := range rows {
		if prev, ok := done[row.Index]; ok && prev.Status == StatusSuccess {
			r.logger.Info("成功済みの行を飛ばします", "row", row.Index)
			r.recorder.ObserveRow(string(StatusSkipped))
			prev.Status = StatusSkipped
			mu.Lock()
			summary.Skipped++
			summary.Rows = append(summary.Rows, prev)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			entry, err := r.runRow(gctx, req, row, summary.RunID)
			if err != nil {
				return err
			}
			if err := r.ledger.Record(gctx, entry); err != nil {
				return fmt.Errorf("failed to record row %d: %w", row.Index, err)
			}
			r.recorder.ObserveRow(string(entry.Status))

			mu.Lock()
			defer mu.Unlock()
			summary.Rows = append(summary.Rows, entry)
			summary.Usage = summary.Usage.Add(entry.Usage)
			if entry.Status == StatusSuccess {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(summary.Rows, func(i, j int) bool { return summary.Rows[i].Row < summary.Rows[j].Row })
	summary.FinishedAt = r.now()

	if req.Generation.OutputDir != "" {
		path := filepath.Join(req.Generation.OutputDir, SummaryFileName)
		if err := generation.WriteJSON(path, summary); err != nil {
			return nil, err
		}
	}

	r.logger.Info("バッチが完了しました",
		"run_id", summary.RunID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"tokens", summary.Usage.Total(),
	)
	return summary, nil
}

// runRow は1行を処理する。返す error はバッチ全体を止めるもの（キャンセル）のみ
func (r *Runner) runRow(ctx context.Context, req Request, row Row, runID uuid.UUID) (Entry, error) {
	entry := Entry{Row: row.Index, RunID: runID}

	genReq := req.Generation
	genReq.OutputDir = filepath.Join(req.Generation.OutputDir, fmt.Sprintf("row_%d", row.Index))
	genReq.Substitutions = r.substitutions(req.Generation.Substitutions, row)

	r.logger.Info("行を処理します", "row", row.Index, "output_dir", genReq.OutputDir)
	res, err := r.pipeline.Run(ctx, conversion.Request{Generation: genReq, Convert: req.Convert})
	entry.UpdatedAt = r.now()

	if err != nil {
		if ctx.Err() != nil {
			return entry, ctx.Err()
		}
		r.logger.Error("行の処理に失敗しました", "row", row.Index, "error", err)
		entry.Status = StatusFailure
		entry.Error = err.Error()
		return entry, nil
	}

	entry.Attempts = res.Attempts
	entry.OutputPath = res.JSONPath
	entry.ModelPath = res.ModelPath
	entry.Usage = res.Usage
	if r.usage != nil {
		r.usage.Add(res.Usage)
		total, calls := r.usage.Snapshot()
		r.logger.Debug("累計トークン数", "tokens", total.Total(), "calls", calls)
	}

	if res.Success {
		entry.Status = StatusSuccess
		return entry, nil
	}

	entry.Status = StatusFailure
	if failure := res.Err(); failure != nil {
		entry.Error = failure.Error()
	}
	if res.Generation != nil && res.Generation.ErrorPath != "" && !errors.Is(res.Err(), conversion.ErrConversionFailed) {
		entry.OutputPath = res.Generation.ErrorPath
	}
	r.logger.Warn("行の生成に失敗しました", "row", row.Index, "error", entry.Error)
	return entry, nil
}

// substitutions は共通の置換値に行の値を重ねる（行の値が優先）
func (r *Runner) substitutions(base prompt.Substitutions, row Row) prompt.Substitutions {
	merged := make(prompt.Substitutions, len(base)+len(row.Values))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range prompt.Classify(row.Values, r.classifier) {
		merged[k] = v
	}
	return merged
}
