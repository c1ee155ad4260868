package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStorage_SavePlainText(t *testing.T) {
	root := t.TempDir()
	s, err := NewDocumentStorage(root, 1)
	require.NoError(t, err)

	contractID := uuid.New()
	doc, err := s.Save(context.Background(), contractID, "../../contract.txt", []byte("ДОГОВОР"))
	require.NoError(t, err)

	assert.Equal(t, plainTextMIME, doc.ContentType)
	assert.True(t, strings.HasPrefix(doc.Path, contractID.String()))
	assert.True(t, strings.HasSuffix(doc.Path, ".txt"))

	raw, err := os.ReadFile(filepath.Join(root, doc.Path))
	require.NoError(t, err)
	assert.Equal(t, "ДОГОВОР", string(raw))
}

func TestDocumentStorage_DetectsPDF(t *testing.T) {
	s, err := NewDocumentStorage(t.TempDir(), 1)
	require.NoError(t, err)

	doc, err := s.Save(context.Background(), uuid.New(), "contract", []byte("%PDF-1.7\n..."))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.True(t, strings.HasSuffix(doc.Path, ".pdf"))
}

func TestDocumentStorage_RejectsOversized(t *testing.T) {
	s, err := NewDocumentStorage(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), uuid.New(), "contract", []byte("x"))
	assert.Error(t, err)
}

func TestDocumentStorage_CancelledContext(t *testing.T) {
	s, err := NewDocumentStorage(t.TempDir(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, uuid.New(), "contract", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
