package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunov/thumbhub/internal/config"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/events"
	"github.com/trunov/thumbhub/internal/transport/handler"
)

type fakeUseCase struct {
	ingested  []events.Notification
	ingestErr error
	jobID     string
	runs      map[string]entities.RunRecord
}

func (f *fakeUseCase) Ingest(ctx context.Context, n events.Notification) (handler.IngestResult, error) {
	if f.ingestErr != nil {
		return handler.IngestResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, n)
	return handler.IngestResult{Accepted: len(n.EventRecords()), JobID: f.jobID}, nil
}

func (f *fakeUseCase) Status(ctx context.Context, bucket, key string) (entities.RunRecord, error) {
	rec, ok := f.runs[bucket+"/"+key]
	if !ok {
		return rec, entities.ErrRunNotFound
	}
	return rec, nil
}

const body = `{"Records":[{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"a.png"}}}]}`

func newServer(t *testing.T, uc *fakeUseCase, token string) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.AuthToken = token
	cfg.Server.MaxRequestBodyKB = 1

	h := handler.New(uc, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, token, payload string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(payload))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestEventsQueued(t *testing.T) {
	uc := &fakeUseCase{jobID: "1700000000000-0"}
	srv := newServer(t, uc, "")

	resp := post(t, srv.URL+"/api/events", "", body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var res handler.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, "1700000000000-0", res.JobID)
	require.Len(t, uc.ingested, 1)
}

func TestEventsInline(t *testing.T) {
	srv := newServer(t, &fakeUseCase{}, "")
	resp := post(t, srv.URL+"/api/events", "", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventsAuth(t *testing.T) {
	srv := newServer(t, &fakeUseCase{jobID: "1-0"}, "s3cret")

	assert.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/api/events", "", body).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/api/events", "Bearer nope", body).StatusCode)
	assert.Equal(t, http.StatusAccepted, post(t, srv.URL+"/api/events", "Bearer s3cret", body).StatusCode)
	assert.Equal(t, http.StatusAccepted, post(t, srv.URL+"/api/events", "s3cret", body).StatusCode)
}

func TestEventsRejectsBadBodies(t *testing.T) {
	srv := newServer(t, &fakeUseCase{}, "")

	assert.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/api/events", "", `{`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/api/events", "", `{"Records":[]}`).StatusCode)

	resp := post(t, srv.URL+"/api/events", "", `{"Records":[{"s3":{"bucket":{"name":"u"}}}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var apiErr handler.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "is required", apiErr.Fields["Key"])

	huge := `{"Records":[],"pad":"` + strings.Repeat("x", 2048) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(t, srv.URL+"/api/events", "", huge).StatusCode)
}

func TestEventsIngestFailure(t *testing.T) {
	srv := newServer(t, &fakeUseCase{ingestErr: errors.New("redis down")}, "")
	assert.Equal(t, http.StatusInternalServerError, post(t, srv.URL+"/api/events", "", body).StatusCode)
}

func TestStatus(t *testing.T) {
	uc := &fakeUseCase{runs: map[string]entities.RunRecord{
		"uploads/photo name v2.png": {SourceBucket: "uploads", SourceKey: "photo name v2.png", Status: "succeeded"},
	}}
	srv := newServer(t, uc, "")

	resp, err := http.Get(srv.URL + "/api/thumbnails/status?bucket=uploads&key=photo+name+v2.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec entities.RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "succeeded", rec.Status)

	resp, err = http.Get(srv.URL + "/api/thumbnails/status?bucket=uploads&key=missing.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/thumbnails/status?bucket=uploads")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &fakeUseCase{}, "")
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
