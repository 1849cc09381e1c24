package artifactstore

import (
	"bytes"
	"context"
	"io"
	"sync"
)

type memoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns a store that keeps blobs in process memory.
func NewMemory() *Store {
	return newStore(&memoryBackend{blobs: make(map[string][]byte)})
}

func (m *memoryBackend) name() string { return "memory" }

type memStaged struct {
	buf bytes.Buffer
	m   *memoryBackend
}

func (s *memStaged) Write(p []byte) (int, error) {
	return s.buf.Write(p)
}

func (s *memStaged) commit(ctx context.Context, key string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.blobs[key]; ok {
		return false, nil
	}
	s.m.blobs[key] = bytes.Clone(s.buf.Bytes())
	return true, nil
}

func (s *memStaged) discard() {
	s.buf.Reset()
}

func (m *memoryBackend) stage(ctx context.Context) (stagedBlob, error) {
	return &memStaged{m: m}, nil
}

func (m *memoryBackend) open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrArtifactNotFound.Msg("artifact not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memoryBackend) exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memoryBackend) remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}
