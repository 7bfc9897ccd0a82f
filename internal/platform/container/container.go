package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/jinford/ai-json-generator/internal/core/batch"
	"github.com/jinford/ai-json-generator/internal/core/conversion"
	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/core/jsontext"
	"github.com/jinford/ai-json-generator/internal/core/prompt"
	"github.com/jinford/ai-json-generator/internal/infra/converter"
	"github.com/jinford/ai-json-generator/internal/infra/filesystem"
	"github.com/jinford/ai-json-generator/internal/infra/metrics"
	"github.com/jinford/ai-json-generator/internal/infra/openai"
	"github.com/jinford/ai-json-generator/internal/infra/postgres"
	"github.com/jinford/ai-json-generator/internal/infra/tokenizer"
	"github.com/jinford/ai-json-generator/internal/platform/config"
	"github.com/jinford/ai-json-generator/internal/platform/database"
)

// LedgerKind は台帳の保存先の種類
type LedgerKind string

const (
	LedgerFile     LedgerKind = "file"
	LedgerPostgres LedgerKind = "postgres"
)

// ErrUnknownLedger は未知の台帳種別を指定した場合のエラー
var ErrUnknownLedger = errors.New("unknown ledger kind")

// ServiceContainer はコマンドが使うサービスの依存関係を保持する。
type ServiceContainer struct {
	Config       *config.Config
	Orchestrator *generation.Orchestrator
	Pipeline     *conversion.Pipeline
	Metrics      *metrics.Recorder
	Usage        *tokenizer.UsageCounter

	logger   *slog.Logger
	database *database.DB
}

type containerOptions struct {
	logger     *slog.Logger
	progress   generation.ProgressSink
	completion generation.CompletionClient
	converter  conversion.Converter
	echo       io.Writer
	schemaPath string
	structured bool
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithProgress はストリームの進捗表示先を設定する
func WithProgress(sink generation.ProgressSink) ContainerOption {
	return func(opts *containerOptions) {
		opts.progress = sink
	}
}

// WithCompletionClient はLLMクライアントを差し替える
func WithCompletionClient(c generation.CompletionClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.completion = c
	}
}

// WithConverter は変換ツールを差し替える
func WithConverter(c conversion.Converter) ContainerOption {
	return func(opts *containerOptions) {
		opts.converter = c
	}
}

// WithConverterEcho は変換ツールの出力の表示先を設定する
func WithConverterEcho(w io.Writer) ContainerOption {
	return func(opts *containerOptions) {
		opts.echo = w
	}
}

// WithSchema は生成したJSONを検証する JSON Schema ファイルを設定する
func WithSchema(path string) ContainerOption {
	return func(opts *containerOptions) {
		opts.schemaPath = path
	}
}

// WithStructuredTemplates はテンプレートを text/template として解釈する
func WithStructuredTemplates(enabled bool) ContainerOption {
	return func(opts *containerOptions) {
		opts.structured = enabled
	}
}

// NewContainer は設定からコンテナを生成する。
// データベースは PostgreSQL 台帳を使う場合のみ接続する。
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	o := containerOptions{
		logger:   slog.Default(),
		progress: generation.NopProgress{},
		echo:     io.Discard,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	// CompletionClient (OpenAI互換のストリーミングAPI)
	client := o.completion
	if client == nil {
		c, err := openai.NewClient(cfg.LLM,
			openai.WithProgress(o.progress),
			openai.WithClientLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("LLMクライアントの初期化に失敗しました: %w", err)
		}
		client = c
	}

	recorder := metrics.NewRecorder()

	orchestratorOpts := []generation.OrchestratorOption{
		generation.WithRenderer(prompt.NewRenderer(
			prompt.WithStructured(o.structured),
			prompt.WithRendererLogger(logger),
		)),
		generation.WithExtractor(jsontext.NewExtractor(
			jsontext.WithMarkers(cfg.LLM.Markers),
			jsontext.WithExtractorLogger(logger),
		)),
		generation.WithTokenCounter(tokenizer.NewCounterOrEstimate()),
		generation.WithRecorder(recorder),
		generation.WithOrchestratorLogger(logger),
	}
	if o.schemaPath != "" {
		schema, err := jsontext.LoadSchemaValidator(o.schemaPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", generation.ErrConfig, err)
		}
		orchestratorOpts = append(orchestratorOpts, generation.WithSchemaValidator(schema))
	}
	orchestrator := generation.NewOrchestrator(client, orchestratorOpts...)

	// Converter (サブプロセス)
	conv := o.converter
	if conv == nil {
		runner, err := converter.NewRunner(cfg.Converter.Command, cfg.Converter.OutputLabel,
			converter.WithEcho(o.echo),
			converter.WithRunnerLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", generation.ErrConfig, err)
		}
		conv = runner
	}

	pipeline := conversion.NewPipeline(orchestrator, conv,
		conversion.WithRecorder(recorder),
		conversion.WithPipelineLogger(logger),
	)

	return &ServiceContainer{
		Config:       cfg,
		Orchestrator: orchestrator,
		Pipeline:     pipeline,
		Metrics:      recorder,
		Usage:        &tokenizer.UsageCounter{},
		logger:       logger,
	}, nil
}

// NewBatchRunner は台帳を用意してバッチ実行器を作成する。
// outputDir は台帳のキー（PostgreSQL）またはファイルの置き場所（file）になる
func (c *ServiceContainer) NewBatchRunner(ctx context.Context, kind LedgerKind, outputDir string) (*batch.Runner, error) {
	ledger, err := c.newLedger(ctx, kind, outputDir)
	if err != nil {
		return nil, err
	}
	return batch.NewRunner(c.Pipeline, ledger,
		batch.WithUsageCounter(c.Usage),
		batch.WithRecorder(c.Metrics),
		batch.WithRunnerLogger(c.logger),
	), nil
}

func (c *ServiceContainer) newLedger(ctx context.Context, kind LedgerKind, outputDir string) (batch.Ledger, error) {
	switch kind {
	case LedgerFile, "":
		return filesystem.NewLedger(filepath.Join(outputDir, filesystem.LedgerFileName)), nil
	case LedgerPostgres:
		db, err := c.openDatabase(ctx)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db.Pool); err != nil {
			return nil, err
		}
		key, err := filepath.Abs(outputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve output directory: %w", err)
		}
		return postgres.NewLedger(db.Pool, key), nil
	default:
		return nil, fmt.Errorf("%w: %w: %s", generation.ErrConfig, ErrUnknownLedger, kind)
	}
}

func (c *ServiceContainer) openDatabase(ctx context.Context) (*database.DB, error) {
	if c.database != nil {
		return c.database, nil
	}
	dbCfg := c.Config.Database
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     dbCfg.Host,
		Port:     dbCfg.Port,
		User:     dbCfg.User,
		Password: dbCfg.Password,
		DBName:   dbCfg.DBName,
		SSLMode:  dbCfg.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	c.database = db
	return db, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c != nil && c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
