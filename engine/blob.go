package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// BLOB STORAGE - Photos and attachments
// =============================================================================

// BlobStore is the upload collaborator. Upload returns the reference that
// is persisted on the activity; Delete takes that reference back.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (url string, err error)
	Delete(ctx context.Context, url string) error
}

// Upload is a file received with a report.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// BlobStaging tracks files uploaded for one save so they can be deleted
// again if the save does not commit.
type BlobStaging struct {
	store  BlobStore
	prefix string
	staged []string
}

func NewBlobStaging(store BlobStore, prefix string) *BlobStaging {
	return &BlobStaging{store: store, prefix: prefix}
}

// UploadAll uploads files in order. If one fails, the files already
// uploaded by this call are deleted and ErrUploadFailed is returned.
func (s *BlobStaging) UploadAll(ctx context.Context, files []Upload) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.store == nil {
		return nil, fmt.Errorf("%w: no blob store configured", ErrUploadFailed)
	}

	var urls []string
	for _, f := range files {
		url, err := s.store.Upload(ctx, s.objectKey(f.Name), f.ContentType, f.Data)
		if err != nil {
			cleanup := s.deleteAll(ctx, urls)
			return nil, errors.Join(fmt.Errorf("%w: %s: %v", ErrUploadFailed, f.Name, err), cleanup)
		}
		urls = append(urls, url)
	}
	s.staged = append(s.staged, urls...)
	return urls, nil
}

// Staged returns every reference uploaded so far.
func (s *BlobStaging) Staged() []string { return append([]string(nil), s.staged...) }

// Discard deletes every staged file. Used when the transaction fails.
func (s *BlobStaging) Discard(ctx context.Context) error {
	err := s.deleteAll(ctx, s.staged)
	s.staged = nil
	return err
}

func (s *BlobStaging) deleteAll(ctx context.Context, urls []string) error {
	var errs []error
	for _, u := range urls {
		if err := s.store.Delete(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

func (s *BlobStaging) objectKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return path.Join(s.prefix, uuid.NewString()+"-"+base)
}
