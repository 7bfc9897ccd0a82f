package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/batch"
	"github.com/jinford/ai-json-generator/internal/platform/container"
)

// MetricsFileName はバッチ出力先に書き出すメトリクスファイル名
const MetricsFileName = "metrics.prom"

// BatchAction はCSVの各行について生成するコマンドのアクション
func BatchAction(ctx context.Context, cmd *cli.Command) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return exitError("引数が不正です: %v", err)
	}

	out := cmd.Root().Writer
	concurrency := cmd.Int("concurrency")
	var opts []container.ContainerOption
	// 並列実行時は進捗表示が混ざるため表示しない
	if !cmd.Bool("quiet") && concurrency <= 1 {
		opts = append(opts, container.WithConverterEcho(out))
	}

	appCtx, err := NewAppContext(ctx, cmd, opts...)
	if err != nil {
		return exitError("%v", err)
	}
	defer appCtx.Close()

	metricsPath := cmd.String("metrics-file")
	if metricsPath == "" {
		metricsPath = filepath.Join(req.OutputDir, MetricsFileName)
	}
	defer appCtx.writeMetrics(metricsPath)

	runner, err := appCtx.Container.NewBatchRunner(ctx, container.LedgerKind(cmd.String("ledger")), req.OutputDir)
	if err != nil {
		return exitError("台帳の初期化に失敗しました: %v", err)
	}

	summary, err := runner.Run(ctx, batch.Request{
		CSVPath:     cmd.String("csv"),
		Generation:  req,
		Convert:     cmd.Bool("convert"),
		Concurrency: concurrency,
	})
	if err != nil {
		return exitError("バッチの実行に失敗しました: %v", err)
	}

	renderSummaryTable(out, summary)
	fmt.Fprintf(out, "合計: %d  成功: %d  失敗: %d  スキップ: %d  トークン: %d\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Skipped, summary.Usage.Total())
	if summary.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d 行の生成に失敗しました", summary.Failed), 1)
	}
	return nil
}

// renderSummaryTable は行ごとの結果をテーブル形式で表示します
func renderSummaryTable(w io.Writer, summary *batch.Summary) {
	table := tablewriter.NewWriter(w)
	table.Header("行", "状態", "試行", "出力", "エラー")

	for _, entry := range summary.Rows {
		table.Append(
			fmt.Sprintf("%d", entry.Row),
			string(entry.Status),
			fmt.Sprintf("%d", entry.Attempts),
			entry.OutputPath,
			truncate(entry.Error, 60),
		)
	}

	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
