package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogStore keeps the command transcript of each refresh run.
type LogStore interface {
	// Store saves a transcript and returns a reference to it.
	Store(ctx context.Context, runID string, transcript []byte) (string, error)
	// Retrieve fetches a transcript by the reference Store returned.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3LogStore stores transcripts in S3-compatible storage
type S3LogStore struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// S3LogStoreConfig holds S3 configuration
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "refreshd/runs/"
	Region          string
	Endpoint        string // for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3LogStore creates an S3-backed transcript store
func NewS3LogStore(ctx context.Context, cfg S3LogStoreConfig) (*S3LogStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	return &S3LogStore{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// Store uploads a transcript and returns its s3:// reference.
func (s *S3LogStore) Store(ctx context.Context, runID string, transcript []byte) (string, error) {
	key := s.buildKey(runID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(transcript),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve downloads a transcript by its s3:// reference.
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	bucket, key, err := parseS3Reference(reference)
	if err != nil {
		return nil, err
	}
	if bucket != s.bucket {
		return nil, fmt.Errorf("transcript %s is not in bucket %s: %w", reference, s.bucket, ErrNotFound)
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return data, nil
}

func (s *S3LogStore) buildKey(runID string) string {
	return fmt.Sprintf("%s%s/%s.log", s.prefix, s.now().UTC().Format("2006/01/02"), runID)
}

// parseS3Reference splits s3://bucket/key.
func parseS3Reference(reference string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 reference: %q", reference)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 reference: %q", reference)
	}
	return bucket, key, nil
}

// LocalLogStore stores transcripts in a local directory
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem transcript store
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store writes the transcript to <basePath>/<runID>.log
func (l *LocalLogStore) Store(ctx context.Context, runID string, transcript []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.Base(runID)+".log")
	if err := os.WriteFile(path, transcript, 0o640); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

// Retrieve reads a transcript previously written by Store. References
// outside the base directory are rejected.
func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	if filepath.Dir(filepath.Clean(reference)) != filepath.Clean(l.basePath) {
		return nil, fmt.Errorf("transcript %s is outside %s: %w", reference, l.basePath, ErrNotFound)
	}
	data, err := os.ReadFile(reference)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
