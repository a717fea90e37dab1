package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"codelab/internal/common/storage"
	"codelab/internal/compilation/model"
	appErr "codelab/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultArchivePrefix = "diagnostics"
	archiveContentType   = "application/zstd"
)

// Archiver keeps the unsanitized diagnostic of failed attempts in object
// storage, compressed with zstd.
type Archiver struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewArchiver creates an archiver writing to bucket under prefix.
func NewArchiver(store storage.ObjectStorage, bucket, prefix string) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Archiver{
		storage: store,
		bucket:  bucket,
		prefix:  strings.TrimSuffix(prefix, "/"),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Key returns the object key of an attempt's diagnostic.
func (a *Archiver) Key(attempt *model.Attempt) string {
	return fmt.Sprintf("%s/%s/%d-%s.txt.zst", a.prefix, attempt.SessionID, attempt.Ordinal, attempt.ID)
}

// Store uploads raw for attempt and returns the object key.
func (a *Archiver) Store(ctx context.Context, attempt *model.Attempt, raw string) (string, error) {
	key := a.Key(attempt)
	payload := a.encoder.EncodeAll([]byte(raw), nil)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), archiveContentType); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "upload diagnostic %s failed", key)
	}
	return key, nil
}

// Fetch downloads and decompresses an archived diagnostic.
func (a *Archiver) Fetch(ctx context.Context, key string) (string, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "download diagnostic %s failed", key)
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read diagnostic %s failed", key)
	}
	raw, err := a.decoder.DecodeAll(payload, nil)
	if err != nil {
		return "", fmt.Errorf("decode archive %s: %w", key, err)
	}
	return string(raw), nil
}

// Close releases the codec resources.
func (a *Archiver) Close() {
	_ = a.encoder.Close()
	a.decoder.Close()
}
