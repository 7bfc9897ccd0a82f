package tokenizer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

func TestCounter_CountTokens(t *testing.T) {
	counter, err := NewCounter()
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	require.NotNil(t, counter.encoding)

	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{name: "空文字列", text: "", expected: 0},
		{name: "英語", text: "Hello, World!", expected: 4},
		{name: "日本語", text: "これはテストです", expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, counter.CountTokens(tt.text))
		})
	}
}

func TestCounter_FallbackEstimate(t *testing.T) {
	var c *Counter
	assert.Equal(t, 2, c.CountTokens("abcdef"))
	assert.Equal(t, 3, (&Counter{}).CountTokens("あいうえおかきくけ"))
}

func TestUsageCounter_Concurrent(t *testing.T) {
	var u UsageCounter
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Add(generation.Usage{PromptTokens: 2, ResponseTokens: 3})
		}()
	}
	wg.Wait()

	total, calls := u.Snapshot()
	assert.Equal(t, 50, calls)
	assert.Equal(t, 100, total.PromptTokens)
	assert.Equal(t, 150, total.ResponseTokens)
	assert.Equal(t, 250, total.Total())
}
