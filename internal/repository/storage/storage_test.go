package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunov/thumbhub/internal/entities"
)

func TestUpsertRunQuery(t *testing.T) {
	rec := entities.RunRecord{
		BatchID:      "batch",
		SourceBucket: "uploads",
		SourceKey:    "a b.png",
		Status:       "succeeded",
		Stage:        "done",
		UpdatedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	query, args, err := upsertRunQuery(rec)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO thumbnail_runs ("), query)
	assert.Contains(t, query, "$15")
	assert.NotContains(t, query, "$16")
	assert.Contains(t, query, "ON CONFLICT (source_bucket, source_key) DO UPDATE SET")
	assert.Contains(t, query, "runs = thumbnail_runs.runs + 1")

	require.Len(t, args, len(runColumns))
	assert.Equal(t, "batch", args[0])
	assert.Equal(t, "uploads", args[1])
	assert.Equal(t, "a b.png", args[2])
	assert.Equal(t, rec.UpdatedAt, args[len(args)-1])
}

func TestGetRunQuery(t *testing.T) {
	query, args, err := getRunQuery("uploads", "a b.png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "SELECT batch_id, source_bucket, source_key,"), query)
	assert.Contains(t, query, "FROM thumbnail_runs WHERE source_bucket = $1 AND source_key = $2")
	assert.Equal(t, []any{"uploads", "a b.png"}, args)
}
