package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

const (
	// EnvConfigPath は設定ファイルのパスを直接指定する環境変数
	EnvConfigPath = "AI_JSON_GENERATOR_CONFIG"
	// DefaultConfigName は既定の設定ファイル名
	DefaultConfigName = "config.json"
	// homeConfigDir はホームディレクトリ配下の設定ディレクトリ
	homeConfigDir = ".ai_json_generator"
)

// ErrConfigNotFound はどの検索場所にも設定ファイルが見つからない場合のエラー
var ErrConfigNotFound = errors.New("config file not found")

// Resolver は設定ファイルの検索場所を保持する
type Resolver struct {
	Getenv  func(string) string
	WorkDir string
	ExeDir  string
	HomeDir string
}

// DefaultResolver は実行環境から Resolver を作成する
func DefaultResolver() Resolver {
	r := Resolver{Getenv: os.Getenv}
	r.WorkDir, _ = os.Getwd()
	if exe, err := os.Executable(); err == nil {
		r.ExeDir = filepath.Dir(exe)
	}
	r.HomeDir, _ = os.UserHomeDir()
	return r
}

// Resolve は既定の検索場所から設定ファイルを探す
func Resolve(name string) (string, error) {
	return DefaultResolver().Resolve(name)
}

// Resolve は 環境変数 → 絶対パス → 作業ディレクトリ相対 → 実行ファイルのディレクトリ → ~/.ai_json_generator の順に探し、
// 最初に見つかったファイルを返す
func (r Resolver) Resolve(name string) (string, error) {
	if name == "" {
		name = DefaultConfigName
	}

	var candidates []string
	if r.Getenv != nil {
		if env := r.Getenv(EnvConfigPath); env != "" {
			candidates = append(candidates, env)
		}
	}
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	} else {
		candidates = append(candidates, r.join(r.WorkDir, name))
		if r.ExeDir != "" {
			candidates = append(candidates, filepath.Join(r.ExeDir, name))
		}
		if r.HomeDir != "" {
			candidates = append(candidates, filepath.Join(r.HomeDir, homeConfigDir, name))
		}
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %w: %s", generation.ErrConfig, ErrConfigNotFound, name)
}

func (r Resolver) join(dir, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}
