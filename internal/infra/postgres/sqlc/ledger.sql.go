package sqlc

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const ensureBatchRun = `-- name: EnsureBatchRun :exec
INSERT INTO batch_runs (id, batch_key, started_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`

type EnsureBatchRunParams struct {
	ID        pgtype.UUID
	BatchKey  string
	StartedAt pgtype.Timestamp
}

func (q *Queries) EnsureBatchRun(ctx context.Context, arg EnsureBatchRunParams) error {
	_, err := q.db.Exec(ctx, ensureBatchRun, arg.ID, arg.BatchKey, arg.StartedAt)
	return err
}

const upsertBatchRow = `-- name: UpsertBatchRow :exec
INSERT INTO batch_rows (
    batch_key, row_index, run_id, status, output_path, model_path,
    attempts, error, prompt_tokens, response_tokens, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (batch_key, row_index) DO UPDATE SET
    run_id = EXCLUDED.run_id,
    status = EXCLUDED.status,
    output_path = EXCLUDED.output_path,
    model_path = EXCLUDED.model_path,
    attempts = EXCLUDED.attempts,
    error = EXCLUDED.error,
    prompt_tokens = EXCLUDED.prompt_tokens,
    response_tokens = EXCLUDED.response_tokens,
    updated_at = EXCLUDED.updated_at
`

type UpsertBatchRowParams struct {
	BatchKey       string
	RowIndex       int32
	RunID          pgtype.UUID
	Status         string
	OutputPath     pgtype.Text
	ModelPath      pgtype.Text
	Attempts       int32
	Error          pgtype.Text
	PromptTokens   int32
	ResponseTokens int32
	UpdatedAt      pgtype.Timestamp
}

func (q *Queries) UpsertBatchRow(ctx context.Context, arg UpsertBatchRowParams) error {
	_, err := q.db.Exec(ctx, upsertBatchRow,
		arg.BatchKey,
		arg.RowIndex,
		arg.RunID,
		arg.Status,
		arg.OutputPath,
		arg.ModelPath,
		arg.Attempts,
		arg.Error,
		arg.PromptTokens,
		arg.ResponseTokens,
		arg.UpdatedAt,
	)
	return err
}

const listBatchRows = `-- name: ListBatchRows :many
SELECT batch_key, row_index, run_id, status, output_path, model_path,
       attempts, error, prompt_tokens, response_tokens, updated_at
FROM batch_rows
WHERE batch_key = $1
ORDER BY row_index
`

func (q *Queries) ListBatchRows(ctx context.Context, batchKey string) ([]BatchRow, error) {
	rows, err := q.db.Query(ctx, listBatchRows, batchKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BatchRow
	for rows.Next() {
		var i BatchRow
		if err := rows.Scan(
			&i.BatchKey,
			&i.RowIndex,
			&i.RunID,
			&i.Status,
			&i.OutputPath,
			&i.ModelPath,
			&i.Attempts,
			&i.Error,
			&i.PromptTokens,
			&i.ResponseTokens,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countBatchRuns = `-- name: CountBatchRuns :one
SELECT count(*) FROM batch_runs WHERE batch_key = $1
`

func (q *Queries) CountBatchRuns(ctx context.Context, batchKey string) (int64, error) {
	row := q.db.QueryRow(ctx, countBatchRuns, batchKey)
	var count int64
	err := row.Scan(&count)
	return count, err
}
