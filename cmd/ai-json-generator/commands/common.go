package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/core/prompt"
	"github.com/jinford/ai-json-generator/internal/platform/config"
	"github.com/jinford/ai-json-generator/internal/platform/container"
	"github.com/jinford/ai-json-generator/internal/platform/logger"
)

// ErrPromptSource はテンプレートと直接プロンプトの指定が不正な場合のエラー
var ErrPromptSource = errors.New("exactly one of --template or --direct-prompt is required")

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
	Logger    *slog.Logger
}

// loadConfig は .env を読み込み、設定ファイルを解決して読み込む
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	envFile := cmd.String("env")
	// AI_JSON_GENERATOR_CONFIG を .env に書けるよう、解決より先に読み込む
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	path, err := config.Resolve(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger はフラグ（未指定なら設定ファイル）の値でロガーを作成する
func newLogger(cmd *cli.Command, cfg *config.Config) *slog.Logger {
	level := cmd.String("log-level")
	if level == "" {
		level = cfg.Log.Level
	}
	format := cmd.String("log-format")
	if format == "" {
		format = cfg.Log.Format
	}
	return logger.New(logger.Config{
		Level:  logger.ParseLevel(level),
		Format: format,
	})
}

// NewAppContext は設定を読み込み、ロガーとコンテナを初期化する
func NewAppContext(_ context.Context, cmd *cli.Command, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := newLogger(cmd, cfg)
	appLogger.Debug("設定を読み込みました", "path", cfg.Path, "model", cfg.LLM.Model)

	opts = append([]container.ContainerOption{
		container.WithContainerLogger(appLogger),
		container.WithSchema(cmd.String("schema")),
		container.WithStructuredTemplates(cmd.Bool("structured")),
	}, opts...)

	cont, err := container.NewContainer(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
		Logger:    appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// writeMetrics は --metrics-file が指定されていればメトリクスを書き出す
func (ac *AppContext) writeMetrics(path string) {
	if path == "" {
		return
	}
	if err := ac.Container.Metrics.WriteTextfile(path); err != nil {
		ac.Logger.Warn("メトリクスの書き出しに失敗しました", "path", path, "error", err)
		return
	}
	ac.Logger.Info("メトリクスを書き出しました", "path", path)
}

// buildRequest はフラグから生成リクエストを組み立てる
func buildRequest(cmd *cli.Command) (generation.Request, error) {
	templatePath := strings.TrimSpace(cmd.String("template"))
	directPath := strings.TrimSpace(cmd.String("direct-prompt"))
	if (templatePath == "") == (directPath == "") {
		return generation.Request{}, fmt.Errorf("%w: %w", generation.ErrConfig, ErrPromptSource)
	}

	req := generation.Request{
		TemplatePath:     templatePath,
		DirectPromptPath: directPath,
		OutputDir:        cmd.String("output-folder"),
		BaseName:         cmd.String("output-name"),
		Ext:              cmd.String("output-ext"),
		MaxRetries:       cmd.Int("max-retries"),
		Debug:            cmd.Bool("debug"),
	}
	if raw := cmd.String("replacements"); raw != "" {
		req.Substitutions = prompt.Classify(prompt.ParsePairs(raw), prompt.FilesystemClassifier)
	}
	return req, nil
}

// exitError は失敗を終了コード1の cli.Exit に変換する
func exitError(format string, err error) error {
	return cli.Exit(fmt.Sprintf(format, err), 1)
}
