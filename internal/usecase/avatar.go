package usecase

import (
	"context"
	"fmt"

	"github.com/ferrotech/filestore/pkg/logger"
)

// ImageMeta describes a normalized image
type ImageMeta struct {
	Type   string
	Width  int
	Height int
}

// ProcessedImage is the output of the image-processing collaborator
type ProcessedImage struct {
	Data []byte
	Meta ImageMeta
}

// ImageProcessor normalizes a raw image buffer. No decoding or
// encoding happens in this module; failures propagate.
type ImageProcessor interface {
	Process(ctx context.Context, data []byte) (*ProcessedImage, error)
}

// AvatarResult is the stored avatar's access URL plus image metadata
type AvatarResult struct {
	URL  string
	Meta ImageMeta
}

// AvatarUseCase composes the image processor with buffer persistence
// for avatar uploads.
type AvatarUseCase struct {
	storage   Storage
	processor ImageProcessor
	logger    *logger.Logger
}

// NewAvatarUseCase creates a new avatar use case
func NewAvatarUseCase(storage Storage, processor ImageProcessor, log *logger.Logger) *AvatarUseCase {
	return &AvatarUseCase{
		storage:   storage,
		processor: processor,
		logger:    log,
	}
}

// SaveAvatar normalizes the raw buffer through the processor, uploads
// the normalized bytes, and returns the access URL with the image
// metadata.
func (uc *AvatarUseCase) SaveAvatar(ctx context.Context, user Principal, data []byte, fileName string) (*AvatarResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("avatar buffer cannot be empty")
	}

	processed, err := uc.processor.Process(ctx, data)
	if err != nil {
		uc.logger.Error("Failed to process avatar image",
			logger.String("user_id", user.UserID()),
			logger.Error(err),
		)
		return nil, err
	}

	url, err := uc.storage.SaveBuffer(ctx, user.UserID(), processed.Data, fileName, nil)
	if err != nil {
		uc.logger.Error("Failed to save avatar",
			logger.String("user_id", user.UserID()),
			logger.String("file_name", fileName),
			logger.Error(err),
		)
		return nil, err
	}

	uc.logger.Info("Avatar saved",
		logger.String("user_id", user.UserID()),
		logger.String("type", processed.Meta.Type),
		logger.Int("width", processed.Meta.Width),
		logger.Int("height", processed.Meta.Height),
	)

	return &AvatarResult{URL: url, Meta: processed.Meta}, nil
}
