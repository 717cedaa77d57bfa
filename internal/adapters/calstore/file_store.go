// Package calstore persists calibration blobs, one per resource.
package calstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// FileStore keeps each blob in <dir>/<resource>.conf as {sub, calibrated, size, data}.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.WrapFatal(err, "calstore", "NewFileStore", "create "+dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(resource string) string {
	return filepath.Join(f.dir, resource+".conf")
}

// Load treats an absent file as not calibrated. A truncated file is removed
// and reported as not calibrated too.
func (f *FileStore) Load(resource string) (domain.CalibrationBlob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var blob domain.CalibrationBlob
	raw, err := os.ReadFile(f.path(resource))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return blob, nil
		}
		return blob, errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrPersistence, err), "calstore", "Load", "read "+resource)
	}
	if err := blob.UnmarshalBinary(raw); err != nil {
		if rmErr := os.Remove(f.path(resource)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return domain.CalibrationBlob{}, errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrPersistence, rmErr), "calstore", "Load", "drop corrupt "+resource)
		}
		return domain.CalibrationBlob{}, nil
	}
	return blob, nil
}

// Save writes through a temp file and renames it over the old blob.
func (f *FileStore) Save(resource string, blob domain.CalibrationBlob) error {
	raw, err := blob.MarshalBinary()
	if err != nil {
		return errs.WrapInvalid(err, "calstore", "Save", "encode "+resource)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, resource+".*.tmp")
	if err != nil {
		return f.persistErr("Save", resource, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return f.persistErr("Save", resource, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return f.persistErr("Save", resource, err)
	}
	if err := tmp.Close(); err != nil {
		return f.persistErr("Save", resource, err)
	}
	if err := os.Rename(tmp.Name(), f.path(resource)); err != nil {
		return f.persistErr("Save", resource, err)
	}
	return nil
}

func (f *FileStore) Clear(resource string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(resource)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return f.persistErr("Clear", resource, err)
	}
	return nil
}

func (f *FileStore) persistErr(op, resource string, err error) error {
	return errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrPersistence, err), "calstore", op, resource)
}

var _ ports.CalibrationStore = (*FileStore)(nil)
