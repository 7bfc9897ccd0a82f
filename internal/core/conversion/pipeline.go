package conversion

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/core/prompt"
)

const (
	// ProcessDirName は変換時の作業ディレクトリ名
	ProcessDirName = "llm_process"
	// LogFileName は変換ツールの出力を保存するファイル名
	LogFileName = "irjson_convert.log"

	initialPromptFile = "initial_prompt.txt"
	retryPromptFile   = "retry_prompt.txt"
	failedModelSuffix = "_failed_onnx"
	caseNameField     = "Case_Name"
)

//go:embed prompts/retry_conversion.prompt
var retryTemplate string

var (
	// ErrConversionFailed は全ての試行で変換に失敗した場合のエラー
	ErrConversionFailed = errors.New("conversion failed")
	// ErrModelNotDetected は変換が成功したのにモデルディレクトリを特定できない場合のエラー
	ErrModelNotDetected = errors.New("converted model directory not detected")
)

var unsafeFileChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// Outcome は変換ツール1回分の結果
type Outcome struct {
	ExitCode int
	// ModelDir は変換ツールの出力から検出したモデルディレクトリ（未検出なら空）
	ModelDir string
}

// Succeeded は終了コード0かどうかを返す
func (o Outcome) Succeeded() bool {
	return o.ExitCode == 0
}

// Converter は生成したJSONを外部ツールで変換する
type Converter interface {
	// Convert は jsonPath を outDir に変換し、ツールの出力を logPath に保存する
	Convert(ctx context.Context, jsonPath, outDir, logPath string) (Outcome, error)
}

// Generator は内側のJSON生成ループ
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// Recorder は変換結果を記録する
type Recorder interface {
	ObserveConversion(success bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveConversion(bool) {}

// Request はパイプライン1回分の入力
type Request struct {
	// Generation は最初の試行の生成リクエスト。OutputDir は最終的な出力先
	Generation generation.Request
	// Convert が false の場合は生成のみ行う
	Convert bool
}

// Result はパイプラインの終端状態
type Result struct {
	Success bool
	// Attempts は外側のループで使った試行回数
	Attempts int
	// JSONPath は最後に生成したJSONファイル
	JSONPath string
	// ModelPath は出力先へ移動したモデルディレクトリ
	ModelPath  string
	ProcessDir string
	// Generation は最後の生成結果
	Generation *generation.Result
	Usage      generation.Usage

	err error
}

// Err は失敗理由を返す
func (r *Result) Err() error {
	if r == nil || r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return r.Generation.Err()
}

// Pipeline は生成と変換を外側のリトライループで組み合わせる
type Pipeline struct {
	generator Generator
	converter Converter
	renderer  *prompt.Renderer
	recorder  Recorder
	logger    *slog.Logger
}

// PipelineOption は Pipeline のオプション
type PipelineOption func(*Pipeline)

// WithRecorder はメトリクスの記録先を設定する
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithPipelineLogger はロガーを設定する
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline は Pipeline を作成する。converter は変換しない場合 nil でよい
func NewPipeline(generator Generator, converter Converter, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		generator: generator,
		converter: converter,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	p.renderer = prompt.NewRenderer(prompt.WithRendererLogger(p.logger))
	return p
}

// Run はパイプラインを実行する。
// 生成・変換に失敗した場合は Success=false の Result を返し、error は設定エラーや通信エラーのみ。
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if !req.Convert {
		res, err := p.generator.Generate(ctx, req.Generation)
		if err != nil {
			return nil, err
		}
		return &Result{
			Success:    res.Success,
			Attempts:   1,
			JSONPath:   res.OutputPath,
			ProcessDir: req.Generation.OutputDir,
			Generation: res,
			Usage:      res.Usage,
		}, nil
	}

	if p.converter == nil {
		return nil, fmt.Errorf("%w: converter is not configured", generation.ErrConfig)
	}

	outputDir := req.Generation.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	processDir := filepath.Join(outputDir, ProcessDirName)
	if err := os.RemoveAll(processDir); err != nil {
		return nil, fmt.Errorf("failed to reset process directory: %w", err)
	}
	if err := os.MkdirAll(processDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create process directory: %w", err)
	}

	maxRetries := req.Generation.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	result := &Result{ProcessDir: processDir}
	next := req.Generation
	next.OutputDir = processDir
	baseName := next.BaseName
	if baseName == "" {
		baseName = "output"
		next.BaseName = baseName
	}

	for k := 0; k <= maxRetries; k++ {
		result.Attempts = k + 1
		tag := attemptTag{dir: processDir, prefix: fmt.Sprintf("attempt_%d_", k), logger: p.logger}
		p.logger.Info("変換パイプラインを試行します", "attempt", k, "max_retries", maxRetries)

		res, err := p.generator.Generate(ctx, next)
		if err != nil {
			return nil, err
		}
		result.Generation = res
		result.Usage = result.Usage.Add(res.Usage)

		promptFile := initialPromptFile
		if k > 0 {
			promptFile = retryPromptFile
		}
		if err := os.WriteFile(filepath.Join(processDir, promptFile), []byte(res.Prompt), 0o644); err != nil {
			p.logger.Warn("プロンプトの保存に失敗しました", "error", err)
		}

		if !res.Success {
			p.logger.Warn("JSON生成に失敗しました", "attempt", k)
			tag.rename(promptFile)
			tag.renameGlob(baseName + ".*")
			continue
		}

		caseName, jsonPath := p.renameByCaseName(res.OutputPath, baseName)
		result.JSONPath = jsonPath

		jsonContent, err := os.ReadFile(jsonPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read generated JSON: %w", err)
		}

		logPath := filepath.Join(processDir, LogFileName)
		outcome, convErr := p.converter.Convert(ctx, jsonPath, processDir, logPath)
		if convErr == nil && outcome.Succeeded() {
			p.recorder.ObserveConversion(true)
			modelPath, err := p.collectModel(outcome.ModelDir, outputDir)
			if err != nil {
				result.err = err
				return result, nil
			}
			p.logger.Info("モデルを出力しました", "path", modelPath, "process_dir", processDir)
			result.Success = true
			result.ModelPath = modelPath
			return result, nil
		}
		p.recorder.ObserveConversion(false)

		errorLog := readLog(logPath)
		if convErr != nil {
			p.logger.Error("変換ツールの実行に失敗しました", "error", convErr)
			errorLog = strings.TrimSpace(errorLog + "\n" + convErr.Error())
		} else {
			p.logger.Error("変換に失敗しました", "exit_code", outcome.ExitCode, "log", logPath)
		}

		tag.rename(LogFileName)
		tag.rename(filepath.Base(jsonPath))
		tag.rename(promptFile)
		tag.renameGlob(baseName + ".*")
		tag.renameDir(caseName, caseName+failedModelSuffix)

		if k < maxRetries {
			p.logger.Warn("変換を再試行します", "retry", k+1, "max_retries", maxRetries)
		}

		next = generation.Request{
			DirectPrompt: p.renderer.Render(retryTemplate, prompt.Substitutions{
				"previous_prompt": prompt.Literal(res.Prompt),
				"previous_json":   prompt.Literal(string(jsonContent)),
				"error_log":       prompt.Literal(errorLog),
			}),
			OutputDir:  processDir,
			BaseName:   baseName,
			Ext:        req.Generation.Ext,
			MaxRetries: req.Generation.MaxRetries,
			Debug:      req.Generation.Debug,
		}
	}

	result.err = fmt.Errorf("%w after %d attempt(s)", ErrConversionFailed, result.Attempts)
	p.logger.Error("全ての試行で変換に失敗しました", "attempts", result.Attempts)
	return result, nil
}

// renameByCaseName は Case_Name があれば出力ファイルをその名前に変更する
func (p *Pipeline) renameByCaseName(outputPath, baseName string) (string, string) {
	caseName := CaseName(outputPath, baseName)
	newPath := filepath.Join(filepath.Dir(outputPath), caseName+filepath.Ext(outputPath))
	if newPath == outputPath {
		return caseName, outputPath
	}
	_ = os.Remove(newPath)
	if err := os.Rename(outputPath, newPath); err != nil {
		p.logger.Error("出力ファイル名の変更に失敗しました", "error", err)
		return caseName, outputPath
	}
	p.logger.Info("出力ファイル名を変更しました", "path", newPath)
	return caseName, newPath
}

// collectModel は変換ツールが作成したモデルディレクトリを出力先へ移動する
func (p *Pipeline) collectModel(modelDir, outputDir string) (string, error) {
	if modelDir == "" {
		return "", ErrModelNotDetected
	}
	info, err := os.Stat(modelDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: not a directory: %s", ErrModelNotDetected, modelDir)
	}

	dest := filepath.Join(outputDir, filepath.Base(modelDir))
	if _, err := os.Stat(dest); err == nil {
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("failed to remove existing model directory: %w", err)
		}
		p.logger.Warn("既存のモデルディレクトリを削除しました", "path", dest)
	}
	if err := os.Rename(modelDir, dest); err != nil {
		return "", fmt.Errorf("failed to move model directory: %w", err)
	}
	return dest, nil
}

// CaseName はJSONの Case_Name フィールドをファイル名に使える形で返す。
// 読めない場合やフィールドがない場合は fallback を返す
func CaseName(jsonPath, fallback string) string {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return fallback
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fallback
	}
	name, ok := doc[caseNameField].(string)
	if !ok || name == "" {
		return fallback
	}
	return SanitizeFileName(name)
}

// SanitizeFileName はファイル名に使えない文字を "_" に置き換える
func SanitizeFileName(name string) string {
	return unsafeFileChars.ReplaceAllString(name, "_")
}

func readLog(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// attemptTag は失敗した試行のファイルに接頭辞を付けて残す
type attemptTag struct {
	dir    string
	prefix string
	logger *slog.Logger
}

func (t attemptTag) rename(name string) {
	t.move(name, t.prefix+name)
}

func (t attemptTag) renameGlob(pattern string) {
	matches, err := filepath.Glob(filepath.Join(t.dir, pattern))
	if err != nil {
		return
	}
	for _, m := range matches {
		t.rename(filepath.Base(m))
	}
}

func (t attemptTag) renameDir(name, tagged string) {
	info, err := os.Stat(filepath.Join(t.dir, name))
	if err != nil || !info.IsDir() {
		return
	}
	t.move(name, t.prefix+tagged)
}

func (t attemptTag) move(from, to string) {
	src := filepath.Join(t.dir, from)
	if _, err := os.Stat(src); err != nil {
		return
	}
	dst := filepath.Join(t.dir, to)
	_ = os.RemoveAll(dst)
	if err := os.Rename(src, dst); err != nil {
		t.logger.Warn("ファイル名の変更に失敗しました", "from", src, "error", err)
	}
}
