package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndRemove(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	ref, err := s.Save(KindPDF, "Dune.PDF", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "/uploads/pdfs/"))
	assert.True(t, strings.HasSuffix(ref, ".pdf"))

	full := filepath.Join(root, "pdfs", filepath.Base(ref))
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, s.Remove(ref))
	_, err = os.Stat(full)
	assert.True(t, os.IsNotExist(err))

	// Second remove and external links are no-ops.
	require.NoError(t, s.Remove(ref))
	require.NoError(t, s.Remove("https://covers.example.com/dune.jpg"))
}

func TestStore_RejectsUnsupportedType(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Save(KindCover, "cover.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save(KindPDF, "book.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
