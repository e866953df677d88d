// Package archive copies finished traces to S3-compatible object storage
// for long-term audit.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/screensync/internal/model"
)

// Config locates the archive bucket.
type Config struct {
	Endpoint  string // e.g. "https://s3.eu-north-1.amazonaws.com" or a local RGW
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes each trace as one JSON object.
type S3Store struct {
	client objectPutter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Store creates a store for the configured bucket.
func NewS3Store(cfg Config, logger zerolog.Logger) *S3Store {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return newS3Store(s3.New(opts), cfg.Bucket, cfg.Prefix, logger)
}

func newS3Store(client objectPutter, bucket, prefix string, logger zerolog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "trace-archive").Logger(),
	}
}

// Save uploads the trace.
func (s *S3Store) Save(ctx context.Context, t *model.Trace) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", t.CorrelationID, err)
	}
	key := objectKey(s.prefix, t)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"operation": t.Operation,
			"outcome":   t.Outcome,
		},
	})
	if err != nil {
		return fmt.Errorf("put trace %s to s3://%s/%s: %w", t.CorrelationID, s.bucket, key, err)
	}
	s.logger.Debug().Str("key", key).Msg("archived trace")
	return nil
}

// objectKey lays traces out by operation and day so lifecycle rules can
// expire them by prefix.
func objectKey(prefix string, t *model.Trace) string {
	day := t.StartedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, t.Operation, day, t.CorrelationID+".json")
}
