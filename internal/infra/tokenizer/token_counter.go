package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

// DefaultEncoding は使用するエンコーディング
const DefaultEncoding = "cl100k_base"

// Counter はトークン数をカウントする
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は新しい Counter を作成する
func NewCounter() (*Counter, error) {
	encoding, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &Counter{encoding: encoding}, nil
}

// NewCounterOrEstimate はエンコーディングを取得できない場合に推定値で数える Counter を返す
func NewCounterOrEstimate() *Counter {
	c, err := NewCounter()
	if err != nil {
		return &Counter{}
	}
	return c
}

// CountTokens はテキストのトークン数をカウントする
func (c *Counter) CountTokens(text string) int {
	if c == nil || c.encoding == nil {
		// エンコーディングが使えない場合は推定値
		return EstimateTokens(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// EstimateTokens はテキストの推定トークン数を返す（3文字で1トークンとする）
func EstimateTokens(text string) int {
	return len([]rune(text)) / 3
}

// UsageCounter は複数の生成呼び出しにまたがるトークン使用量を集計する
type UsageCounter struct {
	mu    sync.Mutex
	total generation.Usage
	calls int
}

// Add は使用量を加算する
func (u *UsageCounter) Add(usage generation.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.total = u.total.Add(usage)
	u.calls++
}

// Snapshot は現在の合計と呼び出し回数を返す
func (u *UsageCounter) Snapshot() (generation.Usage, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total, u.calls
}

var _ generation.TokenCounter = (*Counter)(nil)
