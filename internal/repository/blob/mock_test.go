package blob

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/ferrotech/filestore/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stderr"})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return log
}

type mockObjectAPI struct {
	bucketExistsFunc       func(ctx context.Context, bucket string) (bool, error)
	makeBucketFunc         func(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	putObjectFunc          func(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	fPutObjectFunc         func(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	removeObjectFunc       func(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	getObjectFunc          func(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	presignedGetObjectFunc func(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	presignedPutObjectFunc func(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error)
}

func (m *mockObjectAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if m.bucketExistsFunc != nil {
		return m.bucketExistsFunc(ctx, bucket)
	}
	return true, nil
}

func (m *mockObjectAPI) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	if m.makeBucketFunc != nil {
		return m.makeBucketFunc(ctx, bucket, opts)
	}
	return nil
}

func (m *mockObjectAPI) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, bucket, object, r, size, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockObjectAPI) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if m.fPutObjectFunc != nil {
		return m.fPutObjectFunc(ctx, bucket, object, filePath, opts)
	}
	return minio.UploadInfo{}, nil
}

func (m *mockObjectAPI) RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
	if m.removeObjectFunc != nil {
		return m.removeObjectFunc(ctx, bucket, object, opts)
	}
	return nil
}

func (m *mockObjectAPI) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	if m.getObjectFunc != nil {
		return m.getObjectFunc(ctx, bucket, object)
	}
	return nil, errors.New("not implemented")
}

func (m *mockObjectAPI) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
	if m.presignedGetObjectFunc != nil {
		return m.presignedGetObjectFunc(ctx, bucket, object, expiry, reqParams)
	}
	return url.Parse("https://storage.test/" + bucket + "/" + object + "?X-Amz-Signature=read")
}

func (m *mockObjectAPI) PresignedPutObject(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error) {
	if m.presignedPutObjectFunc != nil {
		return m.presignedPutObjectFunc(ctx, bucket, object, expiry)
	}
	return url.Parse("https://storage.test/" + bucket + "/" + object + "?X-Amz-Signature=write")
}
