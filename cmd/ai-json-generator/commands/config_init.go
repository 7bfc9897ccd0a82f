package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

// configTemplate は config init が書き出す設定ファイルの内容
type configTemplate struct {
	APIToken    string  `json:"api_token"`
	Model       string  `json:"model"`
	APIURL      string  `json:"api_url"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// ConfigInitAction は対話形式で設定ファイルを作成するコマンドのアクション
func ConfigInitAction(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return cli.Exit(fmt.Sprintf("%s は既に存在します（上書きするには --force）", path), 1)
	}

	tmpl, err := promptConfig()
	if err != nil {
		return fmt.Errorf("入力が中断されました: %w", err)
	}

	if err := generation.WriteJSON(path, tmpl); err != nil {
		return exitError("設定ファイルの書き出しに失敗: %v", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "設定ファイルを作成しました: %s\n", path)
	return nil
}

// promptConfig はインタラクティブに必須の設定値を受け付けます
func promptConfig() (*configTemplate, error) {
	tmpl := &configTemplate{}

	promptURL := promptui.Prompt{
		Label:   "API URL",
		Default: "http://localhost:8000/v1/chat/completions",
	}
	url, err := promptURL.Run()
	if err != nil {
		return nil, err
	}
	tmpl.APIURL = url

	promptModel := promptui.Prompt{
		Label: "モデル名",
	}
	model, err := promptModel.Run()
	if err != nil {
		return nil, err
	}
	tmpl.Model = model

	// トークンは画面に表示しない
	promptToken := promptui.Prompt{
		Label: "APIトークン",
		Mask:  '*',
	}
	token, err := promptToken.Run()
	if err != nil {
		return nil, err
	}
	tmpl.APIToken = token

	if tmpl.MaxTokens, err = promptNumber("最大トークン数", "8192", strconv.Atoi); err != nil {
		return nil, err
	}
	parseFloat := func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
	if tmpl.Temperature, err = promptNumber("temperature", "0.6", parseFloat); err != nil {
		return nil, err
	}
	if tmpl.TopP, err = promptNumber("top_p", "0.95", parseFloat); err != nil {
		return nil, err
	}

	return tmpl, nil
}

func promptNumber[T int | float64](label, def string, parse func(string) (T, error)) (T, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: def,
		Validate: func(s string) error {
			_, err := parse(s)
			return err
		},
	}
	raw, err := p.Run()
	if err != nil {
		var zero T
		return zero, err
	}
	return parse(raw)
}
