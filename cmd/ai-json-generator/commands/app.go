package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/platform/config"
)

// NewApp はコマンドツリーを組み立てる
func NewApp() *cli.Command {
	return &cli.Command{
		Name:  "ai-json-generator",
		Usage: "プロンプトテンプレートからLLMでJSONを生成し、検証・修復・再試行するツール",
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "テンプレートまたは直接プロンプトからJSONを1件生成",
				Flags:  append(commonFlags(), generationFlags()...),
				Action: GenerateAction,
			},
			{
				Name:  "pipeline",
				Usage: "JSONを生成し、変換ツールでモデルに変換（失敗時は変換ログを添えて再生成）",
				Flags: append(append(commonFlags(), generationFlags()...),
					&cli.BoolFlag{
						Name:  "no-convert",
						Usage: "変換を行わず生成のみ実行",
					},
				),
				Action: PipelineAction,
			},
			{
				Name:  "batch",
				Usage: "CSVの各行を置換値として一括生成",
				Flags: append(append(commonFlags(), generationFlags()...),
					&cli.StringFlag{
						Name:     "csv",
						Usage:    "入力CSVファイル（1行目はヘッダー）",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "同時に処理する行数",
						Value: 1,
					},
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "処理結果の台帳 (file/postgres)",
						Value: "file",
					},
					&cli.BoolFlag{
						Name:  "convert",
						Usage: "各行で変換ツールも実行",
					},
				),
				Action: BatchAction,
			},
			{
				Name:  "config",
				Usage: "設定管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "解決した設定を表示（トークンは伏せ字）",
						Flags:  commonFlags(),
						Action: ConfigShowAction,
					},
					{
						Name:  "init",
						Usage: "対話形式で設定ファイルを作成",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "output",
								Usage: "作成する設定ファイルのパス",
								Value: config.DefaultConfigName,
							},
							&cli.BoolFlag{
								Name:  "force",
								Usage: "既存のファイルを上書き",
							},
						},
						Action: ConfigInitAction,
					},
				},
			},
		},
	}
}

// commonFlags は全コマンド共通のフラグ
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "env",
			Usage: "環境変数ファイルパス",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "LLM設定ファイル（絶対パス・相対パス・ファイル名のいずれか）",
			Value: config.DefaultConfigName,
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "ログレベル (debug/info/warn/error)。省略時は設定ファイルの値",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "ログ形式 (text/json)。省略時は設定ファイルの値",
		},
	}
}

// generationFlags は生成系コマンドのフラグ
func generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "template",
			Usage: "プロンプトテンプレートファイル",
		},
		&cli.StringFlag{
			Name:  "direct-prompt",
			Usage: "テンプレートを使わずそのまま送るプロンプトファイル",
		},
		&cli.StringFlag{
			Name:  "replacements",
			Usage: "置換値 (key=value をカンマ区切り。値にファイルパスを指定すると内容で置換)",
		},
		&cli.StringFlag{
			Name:    "output-folder",
			Aliases: []string{"o"},
			Usage:   "出力ディレクトリ",
			Value:   "output",
		},
		&cli.StringFlag{
			Name:  "output-name",
			Usage: "出力ファイルのベース名",
			Value: "output",
		},
		&cli.StringFlag{
			Name:  "output-ext",
			Usage: "出力ファイルの拡張子",
			Value: generation.DefaultExt,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "最大試行回数（JSON生成と変換の両方に適用）",
			Value: 1,
		},
		&cli.StringFlag{
			Name:  "schema",
			Usage: "生成したJSONを検証する JSON Schema ファイル",
		},
		&cli.BoolFlag{
			Name:  "structured",
			Usage: "テンプレートを text/template として解釈（{{.key}} 形式）",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "プロンプトと生の応答をファイルに保存",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "LLMの出力を画面に表示しない",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Prometheus textfile 形式でメトリクスを書き出すパス",
		},
	}
}
