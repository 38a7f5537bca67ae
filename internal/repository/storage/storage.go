// Package storage is the Postgres run log: one row per source object,
// holding the outcome of its latest pipeline run.
package storage

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trunov/thumbhub/internal/entities"
)

const runsTable = "thumbnail_runs"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var runColumns = []string{
	"batch_id",
	"source_bucket",
	"source_key",
	"dest_bucket",
	"dest_key",
	"status",
	"stage",
	"error",
	"format",
	"source_width",
	"source_height",
	"target_width",
	"target_height",
	"duration_ms",
	"updated_at",
}

type dbStorage struct {
	dbpool *pgxpool.Pool
}

func New(ctx context.Context, databaseDSN string) (*dbStorage, error) {
	pool, err := pgxpool.New(ctx, databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &dbStorage{dbpool: pool}, nil
}

func (s *dbStorage) Ping(ctx context.Context) error {
	return s.dbpool.Ping(ctx)
}

func (s *dbStorage) Close() {
	s.dbpool.Close()
}

// Observe upserts the record, so the row always reflects the latest run.
func (s *dbStorage) Observe(ctx context.Context, rec entities.RunRecord) error {
	query, args, err := upsertRunQuery(rec)
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.dbpool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save run %s/%s: %w", rec.SourceBucket, rec.SourceKey, err)
	}
	return nil
}

func (s *dbStorage) GetRun(ctx context.Context, bucket, key string) (entities.RunRecord, error) {
	var rec entities.RunRecord

	query, args, err := getRunQuery(bucket, key)
	if err != nil {
		return rec, fmt.Errorf("build select: %w", err)
	}

	err = s.dbpool.QueryRow(ctx, query, args...).Scan(
		&rec.BatchID,
		&rec.SourceBucket,
		&rec.SourceKey,
		&rec.DestBucket,
		&rec.DestKey,
		&rec.Status,
		&rec.Stage,
		&rec.Error,
		&rec.Format,
		&rec.SourceWidth,
		&rec.SourceHeight,
		&rec.TargetWidth,
		&rec.TargetHeight,
		&rec.DurationMS,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, entities.ErrRunNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get run %s/%s: %w", bucket, key, err)
	}
	return rec, nil
}

func upsertRunQuery(rec entities.RunRecord) (string, []any, error) {
	return psql.Insert(runsTable).
		Columns(runColumns...).
		Values(
			rec.BatchID,
			rec.SourceBucket,
			rec.SourceKey,
			rec.DestBucket,
			rec.DestKey,
			rec.Status,
			rec.Stage,
			rec.Error,
			rec.Format,
			rec.SourceWidth,
			rec.SourceHeight,
			rec.TargetWidth,
			rec.TargetHeight,
			rec.DurationMS,
			rec.UpdatedAt,
		).
		Suffix(`ON CONFLICT (source_bucket, source_key) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			dest_bucket = EXCLUDED.dest_bucket,
			dest_key = EXCLUDED.dest_key,
			status = EXCLUDED.status,
			stage = EXCLUDED.stage,
			error = EXCLUDED.error,
			format = EXCLUDED.format,
			source_width = EXCLUDED.source_width,
			source_height = EXCLUDED.source_height,
			target_width = EXCLUDED.target_width,
			target_height = EXCLUDED.target_height,
			duration_ms = EXCLUDED.duration_ms,
			updated_at = EXCLUDED.updated_at,
			runs = ` + runsTable + `.runs + 1`).
		ToSql()
}

func getRunQuery(bucket, key string) (string, []any, error) {
	return psql.Select(runColumns...).
		From(runsTable).
		Where(sq.Eq{"source_bucket": bucket, "source_key": key}).
		ToSql()
}
