package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/platform/container"
)

// GenerateAction はJSONを1件生成するコマンドのアクション
func GenerateAction(ctx context.Context, cmd *cli.Command) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return exitError("引数が不正です: %v", err)
	}

	out := cmd.Root().Writer
	var opts []container.ContainerOption
	if !cmd.Bool("quiet") {
		opts = append(opts, container.WithProgress(generation.NewConsoleProgress(out)))
	}

	appCtx, err := NewAppContext(ctx, cmd, opts...)
	if err != nil {
		return exitError("%v", err)
	}
	defer appCtx.Close()
	defer appCtx.writeMetrics(cmd.String("metrics-file"))

	result, err := appCtx.Container.Orchestrator.Generate(ctx, req)
	if err != nil {
		return exitError("生成に失敗しました: %v", err)
	}

	appCtx.Logger.Info("トークン使用量",
		"prompt", result.Usage.PromptTokens,
		"response", result.Usage.ResponseTokens,
		"attempts", len(result.Attempts),
	)
	if !result.Success {
		return exitError("有効なJSONを生成できませんでした: %v", result.Err())
	}

	fmt.Fprintf(out, "出力ファイル: %s\n", result.OutputPath)
	return nil
}
