// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

package blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	body []byte
	err  error

	bucket string
	key    string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = *in.Bucket
	f.key = *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func gzipped(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetchDecodesGzip(t *testing.T) {
	fake := &fakeS3{body: gzipped(t, "line1\nline2\n")}
	r := NewReader(fake)

	content, err := r.Fetch(context.Background(), "logs", "myfantasy.ai/2024/01/15/E1.2024-01-15-12.abc.gz")
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(content))
	assert.Equal(t, "logs", fake.bucket)
	assert.Equal(t, "myfantasy.ai/2024/01/15/E1.2024-01-15-12.abc.gz", fake.key)
}

func TestFetchPropagatesStorageError(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	r := NewReader(fake)

	_, err := r.Fetch(context.Background(), "logs", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestFetchRejectsCorruptGzip(t *testing.T) {
	fake := &fakeS3{body: []byte("not gzip at all")}
	r := NewReader(fake)

	_, err := r.Fetch(context.Background(), "logs", "k")
	assert.Error(t, err)
}
