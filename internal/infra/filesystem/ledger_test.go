package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/ai-json-generator/internal/core/batch"
	"github.com/jinford/ai-json-generator/internal/core/generation"
)

func TestLedger_RecordAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", LedgerFileName)
	runID := uuid.New()

	l := NewLedger(path)
	entries, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, l.Record(ctx, batch.Entry{Row: 2, Status: batch.StatusFailure, RunID: runID, Error: "bad"}))
	require.NoError(t, l.Record(ctx, batch.Entry{
		Row: 1, Status: batch.StatusSuccess, RunID: runID, OutputPath: "row_1/out.json",
		Usage: generation.Usage{PromptTokens: 3, ResponseTokens: 4}, UpdatedAt: time.Unix(0, 0).UTC(),
	}))
	require.NoError(t, l.Record(ctx, batch.Entry{Row: 2, Status: batch.StatusSuccess, RunID: runID}))

	reloaded, err := NewLedger(path).Load(ctx)
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	assert.Equal(t, batch.StatusSuccess, reloaded[2].Status, "同じ行は上書きする")
	assert.Equal(t, runID, reloaded[1].RunID)
	assert.Equal(t, 7, reloaded[1].Usage.Total())

	var doc ledgerDocument
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Rows[0].Row, "行番号順に保存する")

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".ledger-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLedger_ConcurrentRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), LedgerFileName)
	l := NewLedger(path)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(ctx, batch.Entry{Row: i, Status: batch.StatusSuccess, Error: fmt.Sprint(i)}))
		}()
	}
	wg.Wait()

	got, err := NewLedger(path).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 20)
}

func TestLedger_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), LedgerFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewLedger(path).Load(context.Background())

	assert.ErrorContains(t, err, "failed to parse ledger")
}
