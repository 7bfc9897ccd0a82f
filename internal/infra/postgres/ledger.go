package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/ai-json-generator/internal/core/batch"
	"github.com/jinford/ai-json-generator/internal/core/generation"
	"github.com/jinford/ai-json-generator/internal/infra/postgres/sqlc"
)

//go:embed schema.sql
var schemaSQL string

// Migrate は台帳のテーブルを作成する（存在する場合は何もしない）
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}

// Ledger は batch.Ledger を実装する PostgreSQL 台帳です。
// batchKey（通常はバッチの出力先の絶対パス）ごとに行の結果を保持する
type Ledger struct {
	q        *sqlc.Queries
	tx       *TransactionProvider
	batchKey string
	now      func() time.Time
}

// NewLedger は新しい Ledger を作成します
func NewLedger(pool *pgxpool.Pool, batchKey string) *Ledger {
	return &Ledger{
		q:        sqlc.New(pool),
		tx:       NewTransactionProvider(pool),
		batchKey: batchKey,
		now:      time.Now,
	}
}

// コンパイル時の型チェック
var _ batch.Ledger = (*Ledger)(nil)

func (l *Ledger) Load(ctx context.Context) (map[int]batch.Entry, error) {
	rows, err := l.q.ListBatchRows(ctx, l.batchKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch rows: %w", err)
	}

	entries := make(map[int]batch.Entry, len(rows))
	for _, row := range rows {
		entries[int(row.RowIndex)] = batch.Entry{
			Row:        int(row.RowIndex),
			Status:     batch.Status(row.Status),
			RunID:      PgtypeToUUID(row.RunID),
			OutputPath: PgtextToString(row.OutputPath),
			ModelPath:  PgtextToString(row.ModelPath),
			Attempts:   int(row.Attempts),
			Error:      PgtextToString(row.Error),
			Usage: generation.Usage{
				PromptTokens:   int(row.PromptTokens),
				ResponseTokens: int(row.ResponseTokens),
			},
			UpdatedAt: PgtypeToTime(row.UpdatedAt),
		}
	}
	return entries, nil
}

// Record は実行の登録と行の upsert を1つのトランザクションで行う。
// 同じ行への同時書き込みはアドバイザリロックで直列化する
func (l *Ledger) Record(ctx context.Context, entry batch.Entry) error {
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = l.now()
	}

	_, err := Transact(ctx, l.tx, func(a *Adapter) (struct{}, error) {
		if err := a.Locks.Acquire(ctx, GenerateLockID(l.batchKey, strconv.Itoa(entry.Row))); err != nil {
			return struct{}{}, err
		}

		if err := a.Queries.EnsureBatchRun(ctx, sqlc.EnsureBatchRunParams{
			ID:        UUIDToPgtype(entry.RunID),
			BatchKey:  l.batchKey,
			StartedAt: TimeToPgtype(updatedAt),
		}); err != nil {
			return struct{}{}, fmt.Errorf("failed to register batch run: %w", err)
		}

		if err := a.Queries.UpsertBatchRow(ctx, sqlc.UpsertBatchRowParams{
			BatchKey:       l.batchKey,
			RowIndex:       int32(entry.Row),
			RunID:          UUIDToPgtype(entry.RunID),
			Status:         string(entry.Status),
			OutputPath:     StringToNullableText(entry.OutputPath),
			ModelPath:      StringToNullableText(entry.ModelPath),
			Attempts:       int32(entry.Attempts),
			Error:          StringToNullableText(entry.Error),
			PromptTokens:   int32(entry.Usage.PromptTokens),
			ResponseTokens: int32(entry.Usage.ResponseTokens),
			UpdatedAt:      TimeToPgtype(updatedAt),
		}); err != nil {
			return struct{}{}, fmt.Errorf("failed to upsert batch row: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Runs はこの batchKey で記録された実行の数を返す
func (l *Ledger) Runs(ctx context.Context) (int64, error) {
	n, err := l.q.CountBatchRuns(ctx, l.batchKey)
	if err != nil {
		return 0, fmt.Errorf("failed to count batch runs: %w", err)
	}
	return n, nil
}
