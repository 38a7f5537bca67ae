package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	conf "github.com/trunov/thumbhub/internal/config"
)

// Minio is the native MinIO client adapter, for deployments where bucket
// notifications come straight from a MinIO server.
type Minio struct {
	client *minio.Client
	// maxObjectBytes caps Fetch; zero means no cap
	maxObjectBytes int64
	logger         *slog.Logger
}

func NewMinio(cfg *conf.MinioConfig, maxObjectBytes int64, logger *slog.Logger) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init: %w", err)
	}

	return &Minio{
		client:         client,
		maxObjectBytes: maxObjectBytes,
		logger:         logger.With("component", "minio"),
	}, nil
}

// EnsureBucket creates bucket if it doesn't exist.
func (m *Minio) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	m.logger.Info("created bucket", "bucket", bucket)
	return nil
}

func (m *Minio) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrap("fetch", bucket, key, classifyMinio(err), err)
	}
	defer obj.Close()

	// GetObject is lazy; the request errors surface on first read.
	content, err := readLimited(obj, m.maxObjectBytes)
	if errors.Is(err, ErrTooLarge) {
		return nil, wrap("fetch", bucket, key, ErrTooLarge, err)
	}
	if err != nil {
		return nil, wrap("fetch", bucket, key, classifyMinio(err), err)
	}

	return content, nil
}

func (m *Minio) Put(ctx context.Context, bucket, key, contentType string, payload []byte) error {
	_, err := m.client.PutObject(ctx, bucket, key,
		bytes.NewReader(payload),
		int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return wrap("put", bucket, key, classifyMinio(err), err)
	}
	return nil
}

func classifyMinio(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return ErrAccessDenied
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return ErrAccessDenied
	}

	return ErrTransient
}
