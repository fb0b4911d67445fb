// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package blob fetches compressed log objects from blob storage. The edge
// CDN delivers gzipped tab-separated access logs; Fetch returns the
// decoded UTF-8 text.
package blob

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client the reader uses.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	sdkOnce   sync.Once
	sdkClient *s3.Client
	sdkErr    error
)

func sharedS3(ctx context.Context) (*s3.Client, error) {
	sdkOnce.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			sdkErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		sdkClient = s3.NewFromConfig(cfg)
	})
	return sdkClient, sdkErr
}

// Reader fetches and decompresses log objects.
type Reader struct {
	svc API
}

// NewReader returns a Reader over an explicit API implementation.
func NewReader(svc API) *Reader {
	return &Reader{svc: svc}
}

// OpenReader returns a Reader over the cached process-wide SDK client.
func OpenReader(ctx context.Context) (*Reader, error) {
	svc, err := sharedS3(ctx)
	if err != nil {
		return nil, err
	}
	return NewReader(svc), nil
}

// Fetch downloads s3://bucket/key and gzip-decodes it. Any failure here is
// fatal to the invocation so the platform redelivers the object.
func (r *Reader) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := r.svc.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	gz, err := gzip.NewReader(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream for %s: %w", key, err)
	}
	defer gz.Close()

	content, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", key, err)
	}
	return content, nil
}
