package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UploadStorage implements the UploadStorage interface for Badger
type UploadStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUploadStorage creates a new UploadStorage instance
func NewUploadStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UploadStorage {
	return &UploadStorage{
		db:     db,
		logger: logger,
	}
}

func (s *UploadStorage) CreateFileUpload(ctx context.Context, upload *models.FileUpload) error {
	if upload.FileID == "" {
		return fmt.Errorf("file ID is required")
	}
	if err := s.db.Store().Insert(upload.FileID, upload); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("file %s: %w", upload.FileID, interfaces.ErrDuplicate)
		}
		return fmt.Errorf("failed to create file upload: %w", err)
	}
	return nil
}

func (s *UploadStorage) GetFileUpload(ctx context.Context, fileID string) (*models.FileUpload, error) {
	var upload models.FileUpload
	if err := s.db.Store().Get(fileID, &upload); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("file %s: %w", fileID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get file upload: %w", err)
	}
	return &upload, nil
}

func (s *UploadStorage) UpdateFileUpload(ctx context.Context, upload *models.FileUpload) error {
	upload.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(upload.FileID, upload); err != nil {
		return fmt.Errorf("failed to update file upload: %w", err)
	}
	return nil
}

// GetFilesByParentID returns the sheet files split from a parent workbook,
// in creation order so sheet processing is deterministic.
func (s *UploadStorage) GetFilesByParentID(ctx context.Context, parentID string) ([]*models.FileUpload, error) {
	var uploads []models.FileUpload
	query := badgerhold.Where("ParentID").Eq(parentID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&uploads, query); err != nil {
		return nil, fmt.Errorf("failed to get files by parent: %w", err)
	}

	result := make([]*models.FileUpload, len(uploads))
	for i := range uploads {
		result[i] = &uploads[i]
	}
	return result, nil
}

func (s *UploadStorage) ListFiles(ctx context.Context, opts *interfaces.FileListOptions) ([]*models.FileUpload, error) {
	query := badgerhold.Where("FileID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	}

	query = query.SortBy("CreatedAt").Reverse()

	var uploads []models.FileUpload
	if err := s.db.Store().Find(&uploads, query); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	result := make([]*models.FileUpload, len(uploads))
	for i := range uploads {
		result[i] = &uploads[i]
	}
	return result, nil
}

func (s *UploadStorage) DeleteFileUpload(ctx context.Context, fileID string) error {
	if err := s.db.Store().Delete(fileID, &models.FileUpload{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
