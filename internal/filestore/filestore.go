// Package filestore keeps uploaded covers and PDFs on local disk and hands
// back the public path they are served under.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kinds of stored files; each gets its own subdirectory.
const (
	KindCover = "covers"
	KindPDF   = "pdfs"
)

// PublicPrefix is the URL path the upload directory is mounted at.
const PublicPrefix = "/uploads/"

var allowedExt = map[string]map[string]bool{
	KindCover: {".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true},
	KindPDF:   {".pdf": true},
}

// ErrUnsupportedType is returned for file extensions not accepted for a kind.
var ErrUnsupportedType = errors.New("unsupported file type")

// Store writes files beneath a root directory.
type Store struct {
	root string
}

// New creates the root and its kind subdirectories if needed.
func New(root string) (*Store, error) {
	for _, kind := range []string{KindCover, KindPDF} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the directory served under PublicPrefix.
func (s *Store) Root() string {
	return s.root
}

// Save copies r into a new file named after a fresh UUID, keeping the
// extension of originalName, and returns its public reference.
func (s *Store) Save(kind, originalName string, r io.Reader) (string, error) {
	exts, ok := allowedExt[kind]
	if !ok {
		return "", fmt.Errorf("unknown file kind %q", kind)
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	if !exts[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	name := uuid.NewString() + ext
	full := filepath.Join(s.root, kind, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("close file: %w", err)
	}
	return path.Join(PublicPrefix, kind, name), nil
}

// Remove deletes a file previously returned by Save. References that do not
// point into the store (external cover links) are ignored.
func (s *Store) Remove(ref string) error {
	if !strings.HasPrefix(ref, PublicPrefix) {
		return nil
	}
	rel := strings.TrimPrefix(path.Clean(ref), PublicPrefix)
	if rel == "" || strings.Contains(rel, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}
