package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/audittrail/pkg/storage"
)

var tracer = otel.Tracer("audittrail/storage/postgres")

// S3ObjectStore keeps audit archives in an S3 (or MinIO) bucket. With a
// retention configured, every archive is written under compliance-mode
// object lock so it cannot be altered or removed before it expires.
type S3ObjectStore struct {
	client    *s3.Client
	bucket    string
	retention time.Duration
	now       func() time.Time
}

var _ storage.ObjectStore = (*S3ObjectStore)(nil)

// NewS3ObjectStore creates the client and the bucket when it is missing.
// Buckets created for a locked store have object lock enabled.
func NewS3ObjectStore(ctx context.Context, cfg storage.Config) (*S3ObjectStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	store := &S3ObjectStore{
		client:    client,
		bucket:    cfg.S3Bucket,
		retention: cfg.ArchiveRetention,
		now:       time.Now,
	}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure archive bucket: %w", err)
	}
	return store, nil
}

func (s *S3ObjectStore) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", s.bucket),
	}
	if key != "" {
		attrs = append(attrs, attribute.String("s3.key", key))
	}
	return tracer.Start(ctx, "S3."+op, trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return fmt.Errorf("%s: %w", msg, err)
}

// putInput builds the upload request. S3 verifies the SHA-256 checksum on
// receipt.
func (s *S3ObjectStore) putInput(key string, data []byte, contentType string) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(data),
		ContentType:       aws.String(contentType),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if s.retention > 0 {
		input.ObjectLockMode = types.ObjectLockModeCompliance
		input.ObjectLockRetainUntilDate = aws.Time(s.now().UTC().Add(s.retention))
	}
	return input
}

func (s *S3ObjectStore) PutObject(ctx context.Context, key string, content io.Reader, contentType string) error {
	ctx, span := s.startSpan(ctx, "PutObject", key)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		return failSpan(span, err, "failed to read archive content")
	}
	span.SetAttributes(
		attribute.Int("content.size", len(data)),
		attribute.Bool("s3.object_lock", s.retention > 0),
	)

	if _, err := s.client.PutObject(ctx, s.putInput(key, data, contentType)); err != nil {
		return failSpan(span, err, "failed to upload archive")
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *S3ObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := s.startSpan(ctx, "GetObject", key)
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, failSpan(span, err, "failed to download archive")
	}
	return result.Body, nil
}

func (s *S3ObjectStore) ObjectExists(ctx context.Context, key string) (bool, error) {
	ctx, span := s.startSpan(ctx, "HeadObject", key)
	defer span.End()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, failSpan(span, err, "failed to check archive")
	}
	return true, nil
}

// DeleteObject removes key. Locked archives are rejected by S3 until their
// retention expires.
func (s *S3ObjectStore) DeleteObject(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "DeleteObject", key)
	defer span.End()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return failSpan(span, err, "failed to delete archive")
	}
	return nil
}

func (s *S3ObjectStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("archive bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}

func (s *S3ObjectStore) ensureBucket(ctx context.Context) error {
	if err := s.HealthCheck(ctx); err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.retention > 0 {
		input.ObjectLockEnabledForBucket = aws.Bool(true)
	}
	_, err := s.client.CreateBucket(ctx, input)
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &exists) && !errors.As(err, &owned) {
		return err
	}
	return nil
}

func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
