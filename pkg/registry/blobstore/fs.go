package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore keeps blobs as plain files under a root directory, sharded on the
// first two characters of the id to keep directories small. Writes go to a
// staging file first and are renamed into place, so a crash mid-upload never
// leaves a half-written blob under a valid id.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(id string) string {
	return filepath.Join(s.root, id[:2], id)
}

func (s *FSStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	id := uuid.NewString()

	staging := filepath.Join(s.root, "tmp", id+".part")
	f, err := os.Create(staging)
	if err != nil {
		return "", 0, fmt.Errorf("blobstore: create staging file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(staging)
		return "", 0, fmt.Errorf("blobstore: write blob: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path(id)), 0o755); err != nil {
		_ = os.Remove(staging)
		return "", 0, fmt.Errorf("blobstore: create shard dir: %w", err)
	}
	if err := os.Rename(staging, s.path(id)); err != nil {
		_ = os.Remove(staging)
		return "", 0, fmt.Errorf("blobstore: commit blob: %w", err)
	}
	return id, size, nil
}

func (s *FSStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotExist
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("blobstore: open blob %s: %w", id, err)
	}
	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: delete blob %s: %w", id, err)
	}
	return nil
}

func (s *FSStore) List(ctx context.Context) ([]BlobInfo, error) {
	var blobs []BlobInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == filepath.Join(s.root, "tmp") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, perr := uuid.Parse(d.Name()); perr != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		blobs = append(blobs, BlobInfo{Id: d.Name(), Size: info.Size(), StoredAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list blobs: %w", err)
	}
	return blobs, nil
}
