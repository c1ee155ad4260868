package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const plainTextMIME = "text/plain; charset=utf-8"

// StoredDocument описывает сохранённый артефакт.
type StoredDocument struct {
	Path        string
	Size        int64
	ContentType string
}

// DocumentStorage отвечает за файловое хранилище документов контрактов.
type DocumentStorage struct {
	rootPath string
	maxBytes int64
}

// NewDocumentStorage создаёт файловое хранилище.
func NewDocumentStorage(rootPath string, maxMB int64) (*DocumentStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}
	return &DocumentStorage{
		rootPath: rootPath,
		maxBytes: maxMB * 1024 * 1024,
	}, nil
}

// Save сохраняет документ в каталог контракта и возвращает относительный путь.
// Запись идёт во временный файл с последующим переименованием, поэтому читатель
// никогда не видит недописанный документ.
func (s *DocumentStorage) Save(ctx context.Context, contractID uuid.UUID, name string, data []byte) (*StoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentType, ext := detectType(data)
	base := strings.TrimSuffix(sanitizeFilename(name), filepath.Ext(name))
	fileName := fmt.Sprintf("%s_%d%s", base, time.Now().UnixNano(), ext)

	dir := filepath.Join(s.rootPath, contractID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог контракта: %w", err)
	}

	targetPath := filepath.Join(dir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limited := io.LimitedReader{R: bytes.NewReader(data), N: s.maxBytes + 1}
	written, err := io.Copy(f, &limited)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("storage: размер документа превышает лимит %d байт", s.maxBytes)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return nil, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return &StoredDocument{
		Path:        filepath.Join(contractID.String(), fileName),
		Size:        written,
		ContentType: contentType,
	}, nil
}

// detectType определяет тип по сигнатуре. Текстовые документы сигнатуры не имеют.
func detectType(data []byte) (string, string) {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return plainTextMIME, ".txt"
	}
	return kind.MIME.Value, "." + kind.Extension
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" || name == "." {
		name = "contract"
	}
	return name
}
