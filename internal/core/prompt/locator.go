package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrTemplateNotFound はどの検索場所にもテンプレートが見つからない場合のエラー
var ErrTemplateNotFound = errors.New("template file not found")

// Locator はテンプレートファイルを検索する
type Locator struct {
	workDir string
	baseDir string
}

// NewLocator は作業ディレクトリと既定ディレクトリ（通常は実行ファイルの場所）から Locator を作成する
func NewLocator(workDir, baseDir string) *Locator {
	return &Locator{workDir: workDir, baseDir: baseDir}
}

// DefaultLocator はカレントディレクトリと実行ファイルのディレクトリを使う Locator を返す
func DefaultLocator() *Locator {
	wd, _ := os.Getwd()
	var base string
	if exe, err := os.Executable(); err == nil {
		base = filepath.Dir(exe)
	}
	return NewLocator(wd, base)
}

// Find は 絶対パス → 作業ディレクトリ相対 → 既定ディレクトリ相対 → 既定ディレクトリ/prompts/<ファイル名> の順に検索する
func (l *Locator) Find(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrTemplateNotFound)
	}

	var candidates []string
	if filepath.IsAbs(path) {
		candidates = append(candidates, path)
	} else {
		if l.workDir != "" {
			candidates = append(candidates, filepath.Join(l.workDir, path))
		} else {
			candidates = append(candidates, path)
		}
		if l.baseDir != "" {
			candidates = append(candidates,
				filepath.Join(l.baseDir, path),
				filepath.Join(l.baseDir, "prompts", filepath.Base(path)),
			)
		}
	}

	for _, c := range candidates {
		if isRegularFile(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
}

// Read はテンプレートを検索して内容を返す
func (l *Locator) Read(path string) (string, error) {
	found, err := l.Find(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(found)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", found, err)
	}
	return string(data), nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
