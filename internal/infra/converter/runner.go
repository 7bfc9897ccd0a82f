package converter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jinford/ai-json-generator/internal/core/conversion"
)

// ErrEmptyCommand は変換コマンドが空の場合のエラー
var ErrEmptyCommand = errors.New("converter command is empty")

// Runner は変換ツールをサブプロセスとして実行する
type Runner struct {
	command []string
	label   string
	echo    io.Writer
	logger  *slog.Logger
}

// RunnerOption は Runner のオプション
type RunnerOption func(*Runner)

// WithEcho はツールの出力を表示する先を設定する
func WithEcho(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.echo = w
	}
}

// WithRunnerLogger はロガーを設定する
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner は Runner を作成する。
// command は空白区切りで引数を含められる（例: "python -m irjson"）。
// label はモデルの出力先を示す行の見出し（例: "输出目录"）
func NewRunner(command, label string, opts ...RunnerOption) (*Runner, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}
	r := &Runner{
		command: fields,
		label:   label + ":",
		echo:    io.Discard,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Convert は "<command> <json> -o <outDir>" を実行し、標準出力と標準エラー出力を logPath に保存する。
// 終了コードが0以外でも error は返さず Outcome.ExitCode に設定する
func (r *Runner) Convert(ctx context.Context, jsonPath, outDir, logPath string) (conversion.Outcome, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return conversion.Outcome{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return conversion.Outcome{}, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return conversion.Outcome{}, fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	args := append(append([]string{}, r.command[1:]...), jsonPath, "-o", outDir)
	cmd := exec.CommandContext(ctx, r.command[0], args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return conversion.Outcome{}, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	r.logger.Info("変換ツールを実行します", "command", cmd.String())
	if err := cmd.Start(); err != nil {
		return conversion.Outcome{}, fmt.Errorf("failed to start %s: %w", r.command[0], err)
	}

	modelDir, scanErr := r.scan(stdout, logFile)

	waitErr := cmd.Wait()
	outcome := conversion.Outcome{ModelDir: modelDir}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
		if outcome.ExitCode == 0 {
			outcome.ExitCode = -1
		}
	default:
		return outcome, fmt.Errorf("failed to wait for %s: %w", r.command[0], waitErr)
	}
	if ctx.Err() != nil {
		return outcome, ctx.Err()
	}
	if scanErr != nil {
		return outcome, fmt.Errorf("failed to read converter output: %w", scanErr)
	}

	if outcome.Succeeded() {
		r.logger.Info("変換が完了しました", "json", jsonPath, "log", logPath, "model_dir", modelDir)
	} else {
		r.logger.Error("変換に失敗しました", "json", jsonPath, "exit_code", outcome.ExitCode, "log", logPath)
	}
	return outcome, nil
}

// scan は出力を1行ずつログへ書き出しながら出力先の行を探す
func (r *Runner) scan(src io.Reader, log io.Writer) (string, error) {
	var modelDir string

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := fmt.Fprintln(log, line); err != nil {
			return modelDir, err
		}
		fmt.Fprintln(r.echo, strings.TrimSpace(line))

		if dir, ok := ParseModelDir(line, r.label); ok {
			modelDir = dir
			r.logger.Info("モデルの出力先を検出しました", "path", dir)
		}
	}
	return modelDir, scanner.Err()
}

// ParseModelDir は label（コロンを含む）に続くパスを取り出す
func ParseModelDir(line, label string) (string, bool) {
	_, after, found := strings.Cut(line, label)
	if !found {
		return "", false
	}
	dir := strings.TrimSpace(after)
	return dir, dir != ""
}

var _ conversion.Converter = (*Runner)(nil)
