package blob

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
)

// FileStore is a filesystem-backed Store. Keys map to paths under the root
// directory; key separators become directories.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.NewValidationError("EMPTY_DIR", "blob root directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.NewStorageUnavailableError("creating blob root failed").WithCause(err)
	}
	return &FileStore{root: dir}, nil
}

// path resolves a key inside the root, rejecting traversal outside it
func (s *FileStore) path(key string) (string, error) {
	if key == "" {
		return "", errors.NewValidationError("EMPTY_KEY", "blob key is required")
	}
	cleaned := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(cleaned, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", errors.NewValidationError("INVALID_KEY", "blob key escapes the store root")
	}
	return cleaned, nil
}

// Put writes the object through a temp file and renames it into place
func (s *FileStore) Put(ctx context.Context, key string, reader io.Reader) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.NewStorageUnavailableError("creating blob directory failed").WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return errors.NewStorageUnavailableError("creating blob temp file failed").WithCause(err)
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.NewStorageUnavailableError("writing blob payload failed").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.NewStorageUnavailableError("closing blob temp file failed").WithCause(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.NewStorageUnavailableError("committing blob payload failed").WithCause(err)
	}
	return nil
}

// Get opens the object at key
func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("blob " + key)
		}
		return nil, errors.NewStorageUnavailableError("opening blob failed").WithCause(err)
	}
	return file, nil
}

// Delete removes the object; missing keys are ignored
func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewStorageUnavailableError("deleting blob failed").WithCause(err)
	}
	return nil
}

// Exists reports whether the key is stored
func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewStorageUnavailableError("checking blob failed").WithCause(err)
	}
	return true, nil
}

// List returns keys with the given prefix, sorted by walk order
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewStorageUnavailableError("listing blobs failed").WithCause(err)
	}
	return keys, nil
}
