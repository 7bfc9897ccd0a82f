package sqlc

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type BatchRow struct {
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

type BatchRun struct {
	ID        pgtype.UUID
	BatchKey  string
	StartedAt pgtype.Timestamp
}
