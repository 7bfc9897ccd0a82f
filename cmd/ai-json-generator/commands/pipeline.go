package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/conversion"
	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/platform/container"
)

// PipelineAction は生成と変換をまとめて実行するコマンドのアクション
func PipelineAction(ctx context.Context, cmd *cli.Command) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return exitError("引数が不正です: %v", err)
	}

	out := cmd.Root().Writer
	var opts []container.ContainerOption
	if !cmd.Bool("quiet") {
		opts = append(opts,
			container.WithProgress(generation.NewConsoleProgress(out)),
			container.WithConverterEcho(out),
		)
	}

	appCtx, err := NewAppContext(ctx, cmd, opts...)
	if err != nil {
		return exitError("%v", err)
	}
	defer appCtx.Close()
	defer appCtx.writeMetrics(cmd.String("metrics-file"))

	result, err := appCtx.Container.Pipeline.Run(ctx, conversion.Request{
		Generation: req,
		Convert:    !cmd.Bool("no-convert"),
	})
	if err != nil {
		return exitError("パイプラインの実行に失敗しました: %v", err)
	}

	appCtx.Logger.Info("トークン使用量",
		"prompt", result.Usage.PromptTokens,
		"response", result.Usage.ResponseTokens,
		"attempts", result.Attempts,
	)
	if !result.Success {
		return exitError("パイプラインが失敗しました: %v", result.Err())
	}

	fmt.Fprintf(out, "出力ファイル: %s\n", result.JSONPath)
	if result.ModelPath != "" {
		fmt.Fprintf(out, "モデル: %s\n", result.ModelPath)
	}
	return nil
}
