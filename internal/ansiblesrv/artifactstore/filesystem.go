package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const tmpDir = "tmp"

type filesystemBackend struct {
	root string
}

// NewFilesystem returns a store rooted at root. Staging happens in
// root/tmp so the final rename never crosses a filesystem boundary.
func NewFilesystem(root string) (*Store, error) {
	for _, d := range []string{tmpDir, "artifact"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", d, err)
		}
	}
	return newStore(&filesystemBackend{root: root}), nil
}

func (f *filesystemBackend) name() string { return "filesystem" }

func (f *filesystemBackend) stage(ctx context.Context) (stagedBlob, error) {
	tmp, err := os.CreateTemp(filepath.Join(f.root, tmpDir), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &fsStaged{f: tmp, root: f.root}, nil
}

type fsStaged struct {
	f    *os.File
	root string
	done bool
}

func (s *fsStaged) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *fsStaged) commit(ctx context.Context, key string) (bool, error) {
	tmpPath := s.f.Name()
	s.done = true
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return false, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return false, fmt.Errorf("closing temp file: %w", err)
	}
	finalPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return false, fmt.Errorf("creating shard directory: %w", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		return false, nil
	}
	// Link fails if another writer won the race, leaving its blob intact.
	err := os.Link(tmpPath, finalPath)
	switch {
	case err == nil:
		success = true
		os.Remove(tmpPath)
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return false, fmt.Errorf("renaming artifact to %s: %w", finalPath, err)
	}
	success = true
	return true, nil
}

func (s *fsStaged) discard() {
	if s.done {
		return
	}
	s.done = true
	s.f.Close()
	os.Remove(s.f.Name())
}

func (f *filesystemBackend) open(ctx context.Context, key string) (io.ReadCloser, error) {
	fh, err := os.Open(filepath.Join(f.root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrArtifactNotFound.Msg("artifact not found: " + key)
		}
		return nil, ErrArtifactStore.MsgErr("unable to open artifact", err)
	}
	return fh, nil
}

func (f *filesystemBackend) exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, ErrArtifactStore.MsgErr("unable to stat artifact", err)
}

func (f *filesystemBackend) remove(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(f.root, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ErrArtifactStore.MsgErr("unable to remove artifact", err)
	}
	return nil
}
