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

// IdentityStorage is the ambient-credential backend. It authenticates
// once through the workload identity (IAM / instance profile), performs
// all operations with the authenticated client, and returns plain
// unsigned URLs guarded by network-level access control.
type IdentityStorage struct {
	cfg        *config.StorageConfig
	logger     *logger.Logger
	httpClient *http.Client

	fetch func(ctx context.Context, sourceURL string) ([]byte, error)

	initOnce sync.Once
	api      objectAPI
	initErr  error

	containerCache   map[string]bool
	containerCacheMu sync.RWMutex
}

// NewIdentityStorage creates the ambient-credential backend. Missing
// settings fail fast as a configuration error; a rejected or absent
// workload credential surfaces as an AuthError on first use.
func NewIdentityStorage(cfg *config.StorageConfig, log *logger.Logger) (*IdentityStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrNotConfigured)
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: storage endpoint is required", ErrNotConfigured)
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: storage container is required", ErrNotConfigured)
	}

	s := &IdentityStorage{
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

// client returns the memoized authenticated client. The workload
// credential is resolved eagerly here so a rejected identity is
// reported as an AuthError rather than a generic operation failure.
func (s *IdentityStorage) client() (objectAPI, error) {
	s.initOnce.Do(func() {
		if s.api != nil {
			return
		}

		creds := credentials.NewIAM("")
		if _, err := creds.Get(); err != nil {
			s.initErr = &AuthError{Err: err}
			return
		}

		c, err := minio.New(s.cfg.Endpoint, &minio.Options{
			Creds:  creds,
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

func (s *IdentityStorage) namespace(opts *Options) (basePath, container string) {
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

// plainURL builds the unsigned access URL for a blob.
func (s *IdentityStorage) plainURL(container, path string) string {
	protocol := "http"
	if s.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.cfg.Endpoint, container, path)
}

func (s *IdentityStorage) ensureContainer(ctx context.Context, api objectAPI, container string) error {
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
func (s *IdentityStorage) EnsureContainer(ctx context.Context) error {
	api, err := s.client()
	if err != nil {
		return err
	}
	return s.ensureContainer(ctx, api, s.cfg.Container)
}

// SaveBuffer uploads raw bytes with the authenticated client and
// returns the blob's plain URL.
func (s *IdentityStorage) SaveBuffer(ctx context.Context, userID string, data []byte, fileName string, opts *Options) (string, error) {
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

	_, err = api.PutObject(ctx, container, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.logger.Error("Failed to upload buffer",
			logger.String("container", container),
			logger.String("path", path),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}

	return s.plainURL(container, path), nil
}

// SaveFromURL buffers the full remote payload, then delegates to
// SaveBuffer.
func (s *IdentityStorage) SaveFromURL(ctx context.Context, userID, sourceURL, fileName string, opts *Options) (string, error) {
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
// path. No network call is made.
func (s *IdentityStorage) ResolveURL(ctx context.Context, userID, fileName string, opts *Options) (string, error) {
	basePath, container := s.namespace(opts)
	return s.plainURL(container, blobPath(basePath, userID, fileName)), nil
}

// Delete removes the blob behind a stored access URL, gated on the
// path containing the requesting user's id. A missing blob is success.
func (s *IdentityStorage) Delete(ctx context.Context, userID, storedURL string) error {
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

// UploadLocalFile streams a file from disk under the name
// {identifier}__{basename}.
func (s *IdentityStorage) UploadLocalFile(ctx context.Context, userID, identifier, localPath string) (*UploadResult, error) {
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

	return &UploadResult{URL: s.plainURL(s.cfg.Container, path), Size: info.Size()}, nil
}

// OpenStream opens the blob through the authenticated client. The blob
// name is derived from the stored URL with the same parser the delete
// path uses, so reads address exactly what writes produced.
func (s *IdentityStorage) OpenStream(ctx context.Context, storedURL string) (io.ReadCloser, error) {
	path, err := blobPathFromURL(storedURL, s.cfg.Container)
	if err != nil {
		return nil, err
	}

	api, err := s.client()
	if err != nil {
		return nil, err
	}

	obj, err := api.GetObject(ctx, s.cfg.Container, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob stream: %w", err)
	}

	return obj, nil
}
