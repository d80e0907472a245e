// Package content implements a local content-addressable store for
// deployment artifacts, laid out as blobs/<algorithm>/<encoded>.
package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// Store implements [domain.ContentStore] on the local filesystem.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs", digest.Canonical.String()), 0o755); err != nil {
		return nil, fmt.Errorf("create content store at %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Add streams content into the store and returns its digest. The blob is
// written to a temporary file and renamed into its content address, so a
// partial write never leaves a valid-looking blob behind.
func (s *Store) Add(_ context.Context, name string, content io.Reader) (digest.Digest, error) {
	tmp, err := os.CreateTemp(s.root, "ingest-*")
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("ingest %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("ingest %s: %w", name, err)
	}

	dgst := digester.Digest()
	if err := os.Rename(tmp.Name(), s.blobPath(dgst)); err != nil {
		return "", fmt.Errorf("commit %s: %w", name, err)
	}
	return dgst, nil
}

func (s *Store) blobPath(dgst digest.Digest) string {
	return filepath.Join(s.root, "blobs", dgst.Algorithm().String(), dgst.Encoded())
}
