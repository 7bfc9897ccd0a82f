package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ai-json-generator/internal/core/generation"
)

func TestRecorder_Observe(t *testing.T) {
	r := NewRecorder()

	r.ObserveAttempt(false)
	r.ObserveAttempt(false)
	r.ObserveAttempt(true)
	r.ObserveResult(true, 3)
	r.ObserveTokens(generation.Usage{PromptTokens: 10, ResponseTokens: 4})
	r.ObserveConversion(false)
	r.ObserveRow("skipped")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Attempts.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Attempts.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Generations.WithLabelValues("success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.Tokens.WithLabelValues("prompt")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.Tokens.WithLabelValues("response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Conversions.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Rows.WithLabelValues("skipped")))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveResult(false, 2)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `aijson_generations_total{result="failure"} 1`)
}
