package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ferrotech/filestore/internal/config"
	"github.com/ferrotech/filestore/pkg/logger"
)

// SignedStorage is the shared-key backend. The key never leaves the
// process: every read or write is addressed through a fresh
// short-lived, single-permission signed URL, and grants are never
// cached or combined. Delete and local-file upload go through the
// authenticated client directly.
type SignedStorage struct {
	cfg        *config.StorageConfig
	logger     *logger.Logger
	httpClient *http.Client

	// fetch retrieves a remote payload for SaveFromURL. Overridable in
	// tests.
	fetch func(ctx context.Context, sourceURL string) ([]byte, error)

	initOnce sync.Once
	api      objectAPI
	initErr  error

	containerCache   map[string]bool
	containerCacheMu sync.RWMutex
}

// NewSignedStorage creates the shared-key backend. Missing settings are
// a configuration error and fail fast; the client itself is built
// lazily on first use and memoized.
func NewSignedStorage(cfg *config.StorageConfig, log *logger.Logger) (*SignedStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrNotConfigured)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: storage endpoint is required", ErrNotConfigured)
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: storage container is required", ErrNotConfigured)
	}
	if cfg.AccessKeyID == "" || cfg.SharedKey == "" {
		return nil, fmt.Errorf("%w: shared-key credentials are required for the signed backend", ErrNotConfigured)
	}

	s := &SignedStorage{
		cfg:            cfg,
		logger:         log,
		httpClient:     http.DefaultClient,
		containerCache: make(map[string]bool),
	}
	s.fetch = func(ctx context.Context, sourceURL string) ([]byte, error) {
		return fetchAll(ctx, s.httpClient, sourceURL)
	}

	return s, nil
}

// client returns the memoized authenticated client, building it on
// first use.
func (s *SignedStorage) client() (objectAPI, error) {
	s.initOnce.Do(func() {
		if s.api != nil {
			return
		}
		c, err := minio.New(s.cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(s.cfg.AccessKeyID, s.cfg.SharedKey, ""),
			Secure: s.cfg.UseSSL,
		})
		if err != nil {
			s.initErr = fmt.Errorf("failed to create storage client: %w", err)
			return
		}
		s.api = minioAPI{c}
	})
	return s.api, s.initErr
}

func (s *SignedStorage) namespace(opts *Options) (basePath, container string) {
	basePath, container = s.cfg.BasePath, s.cfg.Container
	if opts != nil {
		if opts.BasePath != "" {
			basePath = opts.BasePath
		}
		if opts.Container != "" {
			container = opts.Container
		}
	}
	return basePath, container
}

// ensureContainer creates the container if absent. Results are cached
// so repeated saves skip the existence check.
func (s *SignedStorage) ensureContainer(ctx context.Context, api objectAPI, container string) error {
	s.containerCacheMu.RLock()
	if s.containerCache[container] {
		s.containerCacheMu.RUnlock()
		return nil
	}
	s.containerCacheMu.RUnlock()

	exists, err := api.BucketExists(ctx, container)
	if err != nil {
		s.logger.Error("Failed to check container existence",
			logger.String("container", container),
			logger.Error(err),
		)
		return fmt.Errorf("failed to check container existence: %w", err)
	}

	if !exists {
		s.logger.Info("Creating container", logger.String("container", container))
		if err := api.MakeBucket(ctx, container, minio.MakeBucketOptions{}); err != nil {
			s.logger.Error("Failed to create container",
				logger.String("container", container),
				logger.Error(err),
			)
			return fmt.Errorf("failed to create container: %w", err)
		}
	}

	s.containerCacheMu.Lock()
	s.containerCache[container] = true
	s.containerCacheMu.Unlock()

	return nil
}

// EnsureContainer creates the configured container if absent.
func (s *SignedStorage) EnsureContainer(ctx context.Context) error {
	api, err := s.client()
	if err != nil {
		return err
	}
	return s.ensureContainer(ctx, api, s.cfg.Container)
}

// mintReadGrant signs a fresh read-only URL for a blob. Expiry is
// local-clock now plus the configured duration, encoded exactly.
func (s *SignedStorage) mintReadGrant(ctx context.Context, api objectAPI, container, path string) (string, error) {
	u, err := api.PresignedGetObject(ctx, container, path, s.cfg.GrantTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to mint read grant: %w", err)
	}
	return u.String(), nil
}

// mintWriteGrant signs a fresh write-only URL for a blob. Write grants
// and read grants are minted independently and never combined.
func (s *SignedStorage) mintWriteGrant(ctx context.Context, api objectAPI, container, path string) (string, error) {
	u, err := api.PresignedPutObject(ctx, container, path, s.cfg.GrantTTL)
	if err != nil {
		return "", fmt.Errorf("failed to mint write grant: %w", err)
	}
	return u.String(), nil
}

// SaveBuffer uploads raw bytes through a fresh write grant and returns
// a fresh read grant for the written blob.
func (s *SignedStorage) SaveBuffer(ctx context.Context, userID string, data []byte, fileName string, opts *Options) (string, error) {
	api, err := s.client()
	if err != nil {
		return "", err
	}

	basePath, container := s.namespace(opts)
	if err := s.ensureContainer(ctx, api, container); err != nil {
		return "", err
	}

	path := blobPath(basePath, userID, fileName)
	contentType := contentTypeFor(fileName)

	s.logger.Debug("Uploading buffer",
		logger.String("container", container),
		logger.String("path", path),
		logger.Int("size", len(data)),
		logger.String("content_type", contentType),
	)

	writeURL, err := s.mintWriteGrant(ctx, api, container, path)
	if err != nil {
		return "", err
	}

	if err := s.putThroughGrant(ctx, writeURL, data, contentType); err != nil {
		s.logger.Error("Failed to upload buffer",
			logger.String("container", container),
			logger.String("path", path),
			logger.Error(err),
		)
		return "", err
	}

	return s.mintReadGrant(ctx, api, container, path)
}

// putThroughGrant PUTs the payload to a previously minted write grant.
func (s *SignedStorage) putThroughGrant(ctx context.Context, writeURL string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, writeURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to upload blob: unexpected status %s", resp.Status)
	}

	return nil
}

// SaveFromURL buffers the full remote payload, then delegates to
// SaveBuffer. A fetch failure propagates before any upload is
// attempted.
func (s *SignedStorage) SaveFromURL(ctx context.Context, userID, sourceURL, fileName string, opts *Options) (string, error) {
	data, err := s.fetch(ctx, sourceURL)
	if err != nil {
		s.logger.Error("Failed to fetch source",
			logger.String("source_url", sourceURL),
			logger.Error(err),
		)
		return "", err
	}
	return s.SaveBuffer(ctx, userID, data, fileName, opts)
}

// ResolveURL computes the blob path with the same formula as the save
// path and mints a fresh read grant for it.
func (s *SignedStorage) ResolveURL(ctx context.Context, userID, fileName string, opts *Options) (string, error) {
	api, err := s.client()
	if err != nil {
		return "", err
	}

	basePath, container := s.namespace(opts)
	path := blobPath(basePath, userID, fileName)
	return s.mintReadGrant(ctx, api, container, path)
}

// Delete removes the blob behind a stored access URL. The path must
// contain the requesting user's id as a segment; path embedding is the
// only access control for deletion. A missing blob is success.
func (s *SignedStorage) Delete(ctx context.Context, userID, storedURL string) error {
	path, err := blobPathFromURL(storedURL, s.cfg.Container)
	if err != nil {
		return err
	}

	if !ownsPath(userID, path) {
		return &AuthorizationError{UserID: userID, Path: path}
	}

	api, err := s.client()
	if err != nil {
		return err
	}

	if err := api.RemoveObject(ctx, s.cfg.Container, path, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			s.logger.Debug("Blob already absent on delete", logger.String("path", path))
			return nil
		}
		s.logger.Error("Failed to delete blob",
			logger.String("path", path),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	return nil
}

// UploadLocalFile streams a file from disk through the authenticated
// client under the name {identifier}__{basename}.
func (s *SignedStorage) UploadLocalFile(ctx context.Context, userID, identifier, localPath string) (*UploadResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat local file: %w", err)
	}

	api, err := s.client()
	if err != nil {
		return nil, err
	}

	if err := s.ensureContainer(ctx, api, s.cfg.Container); err != nil {
		return nil, err
	}

	fileName := localFileName(identifier, localPath)
	path := blobPath(s.cfg.BasePath, userID, fileName)

	s.logger.Debug("Uploading local file",
		logger.String("path", path),
		logger.Int64("size", info.Size()),
	)

	_, err = api.FPutObject(ctx, s.cfg.Container, path, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(fileName),
	})
	if err != nil {
		s.logger.Error("Failed to upload local file",
			logger.String("path", path),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to upload local file: %w", err)
	}

	accessURL, err := s.mintReadGrant(ctx, api, s.cfg.Container, path)
	if err != nil {
		return nil, err
	}

	return &UploadResult{URL: accessURL, Size: info.Size()}, nil
}

// OpenStream GETs the blob through a fresh read grant and returns the
// response body as a single-pass stream.
func (s *SignedStorage) OpenStream(ctx context.Context, storedURL string) (io.ReadCloser, error) {
	path, err := blobPathFromURL(storedURL, s.cfg.Container)
	if err != nil {
		return nil, err
	}

	api, err := s.client()
	if err != nil {
		return nil, err
	}

	readURL, err := s.mintReadGrant(ctx, api, s.cfg.Container, path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download blob: unexpected status %s", resp.Status)
	}

	return resp.Body, nil
}
