package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ferrotech/filestore/internal/config"
)

func signedTestConfig() *config.StorageConfig {
	return &config.StorageConfig{
		Backend:     config.BackendSigned,
		Endpoint:    "storage.test:9000",
		AccessKeyID: "testkey",
		SharedKey:   "testsecret",
		Container:   "files",
		BasePath:    "images",
		GrantTTL:    5 * time.Minute,
	}
}

func newSignedStorage(t *testing.T, api objectAPI) *SignedStorage {
	t.Helper()
	s, err := NewSignedStorage(signedTestConfig(), newTestLogger(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.api = api
	return s
}

func TestNewSignedStorage_MissingSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.StorageConfig
	}{
		{
			name: "nil config",
			cfg:  nil,
		},
		{
			name: "missing endpoint",
			cfg: &config.StorageConfig{
				Container: "files", AccessKeyID: "k", SharedKey: "s",
			},
		},
		{
			name: "missing container",
			cfg: &config.StorageConfig{
				Endpoint: "storage.test:9000", AccessKeyID: "k", SharedKey: "s",
			},
		},
		{
			name: "missing shared key",
			cfg: &config.StorageConfig{
				Endpoint: "storage.test:9000", Container: "files", AccessKeyID: "k",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSignedStorage(tt.cfg, newTestLogger(t))
			if !errors.Is(err, ErrNotConfigured) {
				t.Errorf("expected ErrNotConfigured, got %v", err)
			}
		})
	}
}

func TestSignedStorage_GrantMinting(t *testing.T) {
	// Presigning is pure local computation, so a real client can be
	// exercised without a server behind it.
	c, err := minio.New("storage.test:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("testkey", "testsecret", ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	s := newSignedStorage(t, minioAPI{c})
	ctx := context.Background()

	readURL, err := s.mintReadGrant(ctx, s.api, "files", "images/u42/a.png")
	if err != nil {
		t.Fatalf("failed to mint read grant: %v", err)
	}
	writeURL, err := s.mintWriteGrant(ctx, s.api, "files", "images/u42/a.png")
	if err != nil {
		t.Fatalf("failed to mint write grant: %v", err)
	}

	read, err := url.Parse(readURL)
	if err != nil {
		t.Fatalf("read grant is not a valid url: %v", err)
	}
	write, err := url.Parse(writeURL)
	if err != nil {
		t.Fatalf("write grant is not a valid url: %v", err)
	}

	// The encoded validity window must be exactly the requested duration.
	for name, u := range map[string]*url.URL{"read": read, "write": write} {
		if got := u.Query().Get("X-Amz-Expires"); got != "300" {
			t.Errorf("%s grant X-Amz-Expires = %q, want %q", name, got, "300")
		}
		if u.Query().Get("X-Amz-Signature") == "" {
			t.Errorf("%s grant has no signature", name)
		}
	}

	// A write grant must never double as a read grant: the two are
	// independently signed and their signatures differ.
	if read.Query().Get("X-Amz-Signature") == write.Query().Get("X-Amz-Signature") {
		t.Error("read and write grants carry the same signature")
	}

	if !strings.Contains(read.Path, "images/u42/a.png") {
		t.Errorf("read grant path %q does not address the blob", read.Path)
	}
}

func TestSignedStorage_SaveBuffer(t *testing.T) {
	var (
		uploadedBody        []byte
		uploadedContentType string
		uploadedMethod      string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploadedMethod = r.Method
		uploadedContentType = r.Header.Get("Content-Type")
		uploadedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var putPath, getPath string
	api := &mockObjectAPI{
		presignedPutObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error) {
			putPath = object
			return url.Parse(server.URL + "/" + bucket + "/" + object + "?X-Amz-Signature=write")
		},
		presignedGetObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
			getPath = object
			return url.Parse("https://storage.test/" + bucket + "/" + object + "?X-Amz-Signature=read")
		},
	}
	s := newSignedStorage(t, api)

	accessURL, err := s.SaveBuffer(context.Background(), "u42", []byte("payload"), "a.png", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if uploadedMethod != http.MethodPut {
		t.Errorf("upload method = %q, want PUT", uploadedMethod)
	}
	if string(uploadedBody) != "payload" {
		t.Errorf("uploaded body = %q, want %q", uploadedBody, "payload")
	}
	if uploadedContentType != "image/png" {
		t.Errorf("uploaded content type = %q, want image/png", uploadedContentType)
	}
	if putPath != "images/u42/a.png" {
		t.Errorf("write grant path = %q, want images/u42/a.png", putPath)
	}
	if getPath != putPath {
		t.Errorf("read grant path %q differs from write grant path %q", getPath, putPath)
	}
	if !strings.Contains(accessURL, "X-Amz-Signature=read") {
		t.Errorf("access url %q is not the minted read grant", accessURL)
	}
}

func TestSignedStorage_SaveBuffer_UploadRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	api := &mockObjectAPI{
		presignedPutObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error) {
			return url.Parse(server.URL + "/" + bucket + "/" + object)
		},
	}
	s := newSignedStorage(t, api)

	_, err := s.SaveBuffer(context.Background(), "u42", []byte("payload"), "a.png", nil)
	if err == nil {
		t.Fatal("expected error for rejected upload")
	}
}

func TestSignedStorage_ResolveURL_MatchesSavePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var savePath string
	var resolvePaths []string
	api := &mockObjectAPI{
		presignedPutObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error) {
			savePath = object
			return url.Parse(server.URL + "/" + bucket + "/" + object)
		},
		presignedGetObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
			resolvePaths = append(resolvePaths, object)
			return url.Parse("https://storage.test/" + bucket + "/" + object)
		},
	}
	s := newSignedStorage(t, api)
	ctx := context.Background()

	if _, err := s.SaveBuffer(ctx, "u42", []byte("x"), "a.png", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.ResolveURL(ctx, "u42", "a.png", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resolvePaths) != 2 {
		t.Fatalf("expected 2 read grants, got %d", len(resolvePaths))
	}
	for _, p := range resolvePaths {
		if p != savePath {
			t.Errorf("resolve path %q differs from save path %q", p, savePath)
		}
	}
}

func TestSignedStorage_SaveFromURL_FetchFailure(t *testing.T) {
	mintCalls := 0
	api := &mockObjectAPI{
		presignedPutObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error) {
			mintCalls++
			return url.Parse("https://storage.test/" + bucket + "/" + object)
		},
	}
	s := newSignedStorage(t, api)

	fetchErr := errors.New("connection refused")
	s.fetch = func(ctx context.Context, sourceURL string) ([]byte, error) {
		return nil, fetchErr
	}

	_, err := s.SaveFromURL(context.Background(), "u42", "https://origin.test/a.png", "a.png", nil)
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if mintCalls != 0 {
		t.Errorf("upload was attempted after failed fetch: %d write grants minted", mintCalls)
	}
}

func TestSignedStorage_Delete_Unauthorized(t *testing.T) {
	removeCalled := false
	api := &mockObjectAPI{
		removeObjectFunc: func(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
			removeCalled = true
			return nil
		},
	}
	s := newSignedStorage(t, api)

	err := s.Delete(context.Background(), "u42", "https://storage.test/files/images/u99/a.png")

	var authzErr *AuthorizationError
	if !errors.As(err, &authzErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if removeCalled {
		t.Error("delete primitive was invoked despite failed authorization")
	}
}

func TestSignedStorage_Delete_NotFoundIsSuccess(t *testing.T) {
	api := &mockObjectAPI{
		removeObjectFunc: func(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
			return minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
		},
	}
	s := newSignedStorage(t, api)

	err := s.Delete(context.Background(), "u42", "https://storage.test/files/images/u42/a.png")
	if err != nil {
		t.Fatalf("expected missing blob to delete cleanly, got %v", err)
	}
}

func TestSignedStorage_Delete_OtherErrorPropagates(t *testing.T) {
	backendErr := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	api := &mockObjectAPI{
		removeObjectFunc: func(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error {
			return backendErr
		},
	}
	s := newSignedStorage(t, api)

	err := s.Delete(context.Background(), "u42", "https://storage.test/files/images/u42/a.png")
	if !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error to propagate, got %v", err)
	}
}

func TestSignedStorage_UploadLocalFile(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(localPath, []byte("jpegdata"), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	var uploadedObject, uploadedPath string
	api := &mockObjectAPI{
		fPutObjectFunc: func(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
			uploadedObject = object
			uploadedPath = filePath
			return minio.UploadInfo{}, nil
		},
	}
	s := newSignedStorage(t, api)

	result, err := s.UploadLocalFile(context.Background(), "u42", "123", localPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if uploadedObject != "images/u42/123__photo.jpg" {
		t.Errorf("uploaded object = %q, want images/u42/123__photo.jpg", uploadedObject)
	}
	if uploadedPath != localPath {
		t.Errorf("uploaded from %q, want %q", uploadedPath, localPath)
	}
	if result.Size != int64(len("jpegdata")) {
		t.Errorf("result size = %d, want %d", result.Size, len("jpegdata"))
	}
	if !strings.Contains(result.URL, "images/u42/123__photo.jpg") {
		t.Errorf("result url %q does not address the blob", result.URL)
	}
}

func TestSignedStorage_OpenStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("blobdata"))
	}))
	defer server.Close()

	var mintedPath string
	api := &mockObjectAPI{
		presignedGetObjectFunc: func(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error) {
			mintedPath = object
			return url.Parse(server.URL + "/" + bucket + "/" + object)
		},
	}
	s := newSignedStorage(t, api)

	stream, err := s.OpenStream(context.Background(), "https://storage.test/files/images/u42/a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if string(data) != "blobdata" {
		t.Errorf("stream content = %q, want %q", data, "blobdata")
	}
	if mintedPath != "images/u42/a.png" {
		t.Errorf("read grant minted for %q, want images/u42/a.png", mintedPath)
	}
}

func TestSignedStorage_EnsureContainer_CreatesOnce(t *testing.T) {
	existsCalls, makeCalls := 0, 0
	api := &mockObjectAPI{
		bucketExistsFunc: func(ctx context.Context, bucket string) (bool, error) {
			existsCalls++
			return false, nil
		},
		makeBucketFunc: func(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
			makeCalls++
			return nil
		},
	}
	s := newSignedStorage(t, api)
	ctx := context.Background()

	if err := s.EnsureContainer(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.EnsureContainer(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if existsCalls != 1 || makeCalls != 1 {
		t.Errorf("expected one existence check and one create, got %d and %d", existsCalls, makeCalls)
	}
}
