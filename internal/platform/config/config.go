package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/mo"
	"github.com/spf13/viper"

	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/core/jsontext"
)

const (
	// EnvPrefix は設定値を上書きする環境変数の接頭辞（例: AIJSON_API_TOKEN）
	EnvPrefix = "AIJSON"

	// DefaultConverterCommand は変換ツールのコマンド
	DefaultConverterCommand = "irjson-convert"
	// DefaultConverterOutputLabel は変換ツールが出力ディレクトリを示す行のラベル
	DefaultConverterOutputLabel = "输出目录"
)

// requiredKeys は設定ファイルに必須のキー
var requiredKeys = []string{"api_token", "model", "api_url", "max_tokens", "temperature", "top_p"}

// ErrMissingKey は必須キーが設定されていない場合のエラー
var ErrMissingKey = errors.New("missing required config key")

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Path は読み込んだ設定ファイル
	Path string

	// LLM は生成に使うモデル設定
	LLM generation.Config

	Converter ConverterConfig
	Database  DatabaseConfig
	Log       LogConfig
}

// ConverterConfig は変換ツールの設定
type ConverterConfig struct {
	Command     string
	OutputLabel string
}

// DatabaseConfig はデータベース接続設定（PostgreSQL 台帳を使う場合のみ）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は .env を読み込んだうえで JSON 設定ファイルを読み込みます。
// AIJSON_ 接頭辞の環境変数でファイルの値を上書きできます。
func Load(path, envFilePath string) (*Config, error) {
	if err := LoadEnvFile(envFilePath); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDatabaseEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to read config %s: %w", generation.ErrConfig, path, err)
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, fmt.Errorf("%w: %w: %s", generation.ErrConfig, ErrMissingKey, key)
		}
	}

	enableThinking := mo.None[bool]()
	if v.IsSet("enable_thinking") {
		enableThinking = mo.Some(v.GetBool("enable_thinking"))
	}

	return &Config{
		Path: path,
		LLM: generation.Config{
			APIURL:           v.GetString("api_url"),
			Model:            v.GetString("model"),
			APIToken:         v.GetString("api_token"),
			MaxTokens:        v.GetInt("max_tokens"),
			Temperature:      v.GetFloat64("temperature"),
			TopP:             v.GetFloat64("top_p"),
			TopK:             v.GetInt("top_k"),
			MinP:             v.GetFloat64("min_p"),
			FrequencyPenalty: v.GetFloat64("frequency_penalty"),
			ThinkingBudget:   v.GetInt("thinking_budget"),
			EnableThinking:   enableThinking,
			RequestTimeout:   time.Duration(v.GetInt("request_timeout_seconds")) * time.Second,
			Markers: jsontext.Markers{
				Start: v.GetString("extraction.start_marker"),
				End:   v.GetString("extraction.end_marker"),
			},
		},
		Converter: ConverterConfig{
			Command:     v.GetString("converter.command"),
			OutputLabel: v.GetString("converter.output_label"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}

// Redacted は表示用に認証情報を伏せた設定を返す
func (c *Config) Redacted() map[string]any {
	thinking := "unset"
	if b, ok := c.LLM.EnableThinking.Get(); ok {
		thinking = fmt.Sprintf("%t", b)
	}
	return map[string]any{
		"path":                    c.Path,
		"api_url":                 c.LLM.APIURL,
		"model":                   c.LLM.Model,
		"api_token":               mask(c.LLM.APIToken),
		"max_tokens":              c.LLM.MaxTokens,
		"temperature":             c.LLM.Temperature,
		"top_p":                   c.LLM.TopP,
		"top_k":                   c.LLM.TopK,
		"min_p":                   c.LLM.MinP,
		"frequency_penalty":       c.LLM.FrequencyPenalty,
		"thinking_budget":         c.LLM.ThinkingBudget,
		"enable_thinking":         thinking,
		"request_timeout_seconds": int(c.LLM.RequestTimeout / time.Second),
		"extraction": map[string]string{
			"start_marker": c.LLM.Markers.Start,
			"end_marker":   c.LLM.Markers.End,
		},
		"converter": map[string]string{
			"command":      c.Converter.Command,
			"output_label": c.Converter.OutputLabel,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("thinking_budget", generation.DefaultThinkingBudget)
	v.SetDefault("min_p", generation.DefaultMinP)
	v.SetDefault("top_k", generation.DefaultTopK)
	v.SetDefault("frequency_penalty", generation.DefaultFrequencyPenalty)
	v.SetDefault("request_timeout_seconds", int(generation.DefaultRequestTimeout/time.Second))

	v.SetDefault("extraction.start_marker", jsontext.DefaultStartMarker)
	v.SetDefault("extraction.end_marker", jsontext.DefaultEndMarker)

	v.SetDefault("converter.command", DefaultConverterCommand)
	v.SetDefault("converter.output_label", DefaultConverterOutputLabel)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "aijson")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "aijson")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindDatabaseEnv は DB_HOST などの慣用的な環境変数名も受け付ける
func bindDatabaseEnv(v *viper.Viper) {
	pairs := map[string]string{
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.name":     "DB_NAME",
		"database.sslmode":  "DB_SSLMODE",
	}
	for key, env := range pairs {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, env)
	}
}

// LoadEnvFile は .env ファイルが存在する場合に読み込む。既に設定済みの環境変数は上書きしない
func LoadEnvFile(envFilePath string) error {
	if envFilePath == "" {
		return nil
	}
	if err := godotenv.Load(envFilePath); err != nil {
		// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	return nil
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
