package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	conf "github.com/trunov/thumbhub/internal/config"
)

// S3 talks to AWS S3 or anything S3-compatible (R2, MinIO) through the
// aws-sdk-go-v2 client. One instance is shared by every record handler.
type S3 struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	// MaxObjectBytes caps Fetch; zero means no cap
	MaxObjectBytes int64

	S3Client *s3.Client
	Uploader *manager.Uploader

	logger *slog.Logger
}

func NewS3(ctx context.Context, cfg *conf.S3Config, maxObjectBytes int64, logger *slog.Logger) (*S3, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	// Without static keys the default chain applies (env, shared profile, IAM role).
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		MaxObjectBytes: maxObjectBytes,
		S3Client:       client,
		Uploader:       manager.NewUploader(client),
		logger:         logger.With("component", "s3"),
	}, nil
}

func (s *S3) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrap("fetch", bucket, key, classifyS3(err), err)
	}
	defer out.Body.Close()

	if s.MaxObjectBytes > 0 && aws.ToInt64(out.ContentLength) > s.MaxObjectBytes {
		return nil, wrap("fetch", bucket, key, ErrTooLarge,
			fmt.Errorf("%d bytes, limit %d", aws.ToInt64(out.ContentLength), s.MaxObjectBytes))
	}

	data, err := readLimited(out.Body, s.MaxObjectBytes)
	if errors.Is(err, ErrTooLarge) {
		return nil, wrap("fetch", bucket, key, ErrTooLarge, err)
	}
	if err != nil {
		return nil, wrap("fetch", bucket, key, ErrTransient, fmt.Errorf("read body: %w", err))
	}

	return data, nil
}

// Put uploads synchronously. Transient failures are retried with jittered
// exponential backoff; the caller only learns about the final outcome.
func (s *S3) Put(ctx context.Context, bucket, key, contentType string, payload []byte) error {
	var err error
	attempt := 0

	for {
		attempt++
		_, err = s.Uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String(contentType),
		})
		if err == nil {
			return nil
		}

		kind := classifyS3(err)
		if kind != ErrTransient || attempt > s.MaxRetries {
			return wrap("put", bucket, key, kind, err)
		}

		backoff := s.backoffDelay(attempt)
		s.logger.Warn("put failed, retrying",
			"bucket", bucket, "key", key, "attempt", attempt, "backoff", backoff, "err", err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return wrap("put", bucket, key, ErrTransient, ctx.Err())
		}
	}
}

func (s *S3) backoffDelay(attempt int) time.Duration {
	delay := s.RetryBaseDelay << (attempt - 1)
	if delay <= 0 {
		return 0
	}
	jitter := delay / 10
	if jitter <= 0 {
		return delay
	}
	return delay - jitter/2 + time.Duration(rand.Int63n(int64(jitter)))
}

func classifyS3(err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AllAccessDisabled":
			return ErrAccessDenied
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			return ErrAccessDenied
		}
	}

	return ErrTransient
}
