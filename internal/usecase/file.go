package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ferrotech/filestore/internal/repository/blob"
	"github.com/ferrotech/filestore/pkg/logger"
)

// Storage defines the interface for the blob backend
type Storage interface {
	SaveBuffer(ctx context.Context, userID string, data []byte, fileName string, opts *blob.Options) (string, error)
	SaveFromURL(ctx context.Context, userID, sourceURL, fileName string, opts *blob.Options) (string, error)
	ResolveURL(ctx context.Context, userID, fileName string, opts *blob.Options) (string, error)
	Delete(ctx context.Context, userID, storedURL string) error
	UploadLocalFile(ctx context.Context, userID, identifier, localPath string) (*blob.UploadResult, error)
	OpenStream(ctx context.Context, storedURL string) (io.ReadCloser, error)
	EnsureContainer(ctx context.Context) error
}

// Principal exposes the authenticated user's id from the request
// context. It is consulted only for the deletion authorization check
// and for addressing user-owned blobs.
type Principal interface {
	UserID() string
}

// FileUseCase handles file persistence logic on top of a storage
// backend.
type FileUseCase struct {
	storage Storage
	logger  *logger.Logger
}

// NewFileUseCase creates a new file use case
func NewFileUseCase(storage Storage, log *logger.Logger) *FileUseCase {
	return &FileUseCase{
		storage: storage,
		logger:  log,
	}
}

// SaveUpload persists an uploaded buffer under the user's namespace and
// returns its access URL.
func (uc *FileUseCase) SaveUpload(ctx context.Context, user Principal, data []byte, fileName string) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("file name cannot be empty")
	}

	url, err := uc.storage.SaveBuffer(ctx, user.UserID(), data, fileName, nil)
	if err != nil {
		uc.logger.Error("Failed to save upload",
			logger.String("user_id", user.UserID()),
			logger.String("file_name", fileName),
			logger.Error(err),
		)
		return "", err
	}

	uc.logger.Info("Upload saved",
		logger.String("user_id", user.UserID()),
		logger.String("file_name", fileName),
		logger.Int("size", len(data)),
	)

	return url, nil
}

// SaveFromURL ingests a remote payload under the user's namespace.
func (uc *FileUseCase) SaveFromURL(ctx context.Context, user Principal, sourceURL, fileName string) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("file name cannot be empty")
	}

	url, err := uc.storage.SaveFromURL(ctx, user.UserID(), sourceURL, fileName, nil)
	if err != nil {
		uc.logger.Error("Failed to save from url",
			logger.String("user_id", user.UserID()),
			logger.String("source_url", sourceURL),
			logger.Error(err),
		)
		return "", err
	}

	return url, nil
}

// ImportLocalFile uploads a file from local disk under a generated
// identifier, yielding the stored name {identifier}__{basename}.
func (uc *FileUseCase) ImportLocalFile(ctx context.Context, user Principal, localPath string) (*blob.UploadResult, error) {
	identifier := uuid.New().String()

	result, err := uc.storage.UploadLocalFile(ctx, user.UserID(), identifier, localPath)
	if err != nil {
		uc.logger.Error("Failed to import local file",
			logger.String("user_id", user.UserID()),
			logger.String("local_path", localPath),
			logger.Error(err),
		)
		return nil, err
	}

	uc.logger.Info("Local file imported",
		logger.String("user_id", user.UserID()),
		logger.String("url", result.URL),
		logger.Int64("size", result.Size),
	)

	return result, nil
}

// Resolve returns an access URL for a stored file. user may be nil for
// shared, lookup-only reads.
func (uc *FileUseCase) Resolve(ctx context.Context, user Principal, fileName string) (string, error) {
	userID := ""
	if user != nil {
		userID = user.UserID()
	}
	return uc.storage.ResolveURL(ctx, userID, fileName, nil)
}

// Delete removes the file behind a previously issued access URL. The
// storage layer refuses unless the stored path embeds the user's id.
func (uc *FileUseCase) Delete(ctx context.Context, user Principal, storedURL string) error {
	if err := uc.storage.Delete(ctx, user.UserID(), storedURL); err != nil {
		uc.logger.Error("Failed to delete file",
			logger.String("user_id", user.UserID()),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// Open returns the file body as a single-pass stream. The caller must
// close it.
func (uc *FileUseCase) Open(ctx context.Context, storedURL string) (io.ReadCloser, error) {
	return uc.storage.OpenStream(ctx, storedURL)
}

// HealthCheck checks if the storage backend is reachable
func (uc *FileUseCase) HealthCheck(ctx context.Context) error {
	if err := uc.storage.EnsureContainer(ctx); err != nil {
		return fmt.Errorf("storage backend unhealthy: %w", err)
	}
	return nil
}
