package openai

import (
	"github.com/jinford/ai-json-generator/internal/core/generation"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest はストリーミング補完のリクエスト本文。
// SDKの型は thinking_budget などの拡張パラメータを持たないため独自に定義する。
type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	Stream           bool          `json:"stream"`
	ThinkingBudget   int           `json:"thinking_budget"`
	MinP             float64       `json:"min_p"`
	TopK             int           `json:"top_k"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	N                int           `json:"n"`
	Stop             []string      `json:"stop"`
	EnableThinking   *bool         `json:"enable_thinking,omitempty"`
}

func newChatRequest(cfg generation.Config, prompt string) chatRequest {
	req := chatRequest{
		Model:            cfg.Model,
		Messages:         []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		Stream:           true,
		ThinkingBudget:   cfg.ThinkingBudget,
		MinP:             cfg.MinP,
		TopK:             cfg.TopK,
		FrequencyPenalty: cfg.FrequencyPenalty,
		N:                1,
		Stop:             []string{},
	}
	if v, ok := cfg.EnableThinking.Get(); ok {
		req.EnableThinking = &v
	}
	return req
}
