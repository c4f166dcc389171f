package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/ferrotech/filestore/internal/config"
	"github.com/ferrotech/filestore/pkg/logger"
)

// FileStorage is the backend-agnostic operation set. Calling code never
// learns which access strategy is active.
type FileStorage interface {
	// SaveBuffer uploads raw bytes and returns an access URL for the
	// written blob.
	SaveBuffer(ctx context.Context, userID string, data []byte, fileName string, opts *Options) (string, error)

	// SaveFromURL fetches the full body of sourceURL into memory and
	// saves it under fileName.
	SaveFromURL(ctx context.Context, userID, sourceURL, fileName string, opts *Options) (string, error)

	// ResolveURL computes an access URL for a blob without touching the
	// network beyond grant minting. userID may be empty for shared
	// assets.
	ResolveURL(ctx context.Context, userID, fileName string, opts *Options) (string, error)

	// Delete removes the blob addressed by a previously issued access
	// URL. The stored path must contain userID as a segment; a missing
	// blob is treated as already deleted.
	Delete(ctx context.Context, userID, storedURL string) error

	// UploadLocalFile streams a file from disk under the name
	// {identifier}__{basename} and reports the stored size.
	UploadLocalFile(ctx context.Context, userID, identifier, localPath string) (*UploadResult, error)

	// OpenStream returns the blob body as a single-pass byte stream.
	// The caller must close it.
	OpenStream(ctx context.Context, storedURL string) (io.ReadCloser, error)

	// EnsureContainer creates the configured container if absent.
	EnsureContainer(ctx context.Context) error
}

// Options overrides the configured namespace for a single call.
type Options struct {
	BasePath  string
	Container string
}

// UploadResult describes a completed local-file upload.
type UploadResult struct {
	URL  string
	Size int64
}

// New selects a storage backend by configuration.
func New(cfg *config.StorageConfig, log *logger.Logger) (FileStorage, error) {
	switch cfg.Backend {
	case config.BackendSigned:
		return NewSignedStorage(cfg, log)
	case config.BackendIdentity:
		return NewIdentityStorage(cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrNotConfigured, cfg.Backend)
	}
}

// objectAPI is the slice of the blob SDK both backends use. It exists
// so tests can substitute the client.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	PresignedPutObject(ctx context.Context, bucket, object string, expiry time.Duration) (*url.URL, error)
}

// minioAPI adapts *minio.Client to objectAPI. GetObject is narrowed to
// an io.ReadCloser so mocks do not need a concrete *minio.Object.
type minioAPI struct {
	*minio.Client
}

func (m minioAPI) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	obj, err := m.Client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// fetchAll retrieves the full response body of a remote URL into
// memory. No streaming and no size cap; the payload is buffered before
// any upload happens.
func fetchAll(ctx context.Context, client *http.Client, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", sourceURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
