// Package objectstore wraps the S3 bucket holding user-uploaded images. It
// hands out time-limited presigned URLs, or direct distribution URLs when a
// public CDN domain fronts the bucket.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config describes the bucket and how to reach it.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional, for minio-style local runs
	AccessKeyID     string // optional, falls back to the default chain
	SecretAccessKey string
	PublicDomain    string // optional CDN domain for direct GET URLs
}

// PresignAPI is the subset of the S3 presign client the store uses.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store is a long-lived, concurrency-safe handle to the content bucket.
type S3Store struct {
	presigner    PresignAPI
	bucket       string
	publicDomain string
}

// New constructs the store, building the AWS client chain once at startup.
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("object store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		presigner:    s3.NewPresignClient(client),
		bucket:       cfg.Bucket,
		publicDomain: strings.TrimSpace(cfg.PublicDomain),
	}, nil
}

// NewWithPresigner wires a prebuilt presign client; used by tests.
func NewWithPresigner(presigner PresignAPI, bucket, publicDomain string) *S3Store {
	return &S3Store{presigner: presigner, bucket: bucket, publicDomain: publicDomain}
}

// PresignedPutURL returns a time-limited upload URL for the given key.
func (s *S3Store) PresignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("object store: presign put: %w", err)
	}
	return req.URL, nil
}

// PresignedGetURL returns a time-limited download URL for the given key.
func (s *S3Store) PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("object store: presign get: %w", err)
	}
	return req.URL, nil
}

// PublicURL builds a direct CDN URL for the key, or "" when no public domain
// is configured.
func (s *S3Store) PublicURL(key string) string {
	if s.publicDomain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s/%s", s.publicDomain, key)
}

// ResolveImageURL prefers the public distribution when configured and falls
// back to a one-hour presigned GET.
func (s *S3Store) ResolveImageURL(ctx context.Context, key string) (string, error) {
	if url := s.PublicURL(key); url != "" {
		return url, nil
	}
	return s.PresignedGetURL(ctx, key, time.Hour)
}
