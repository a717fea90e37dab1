package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"codelab/internal/compilation/model"
	"codelab/internal/compilation/service"
	appErr "codelab/pkg/errors"
)

func TestArchiverRoundTrip(t *testing.T) {
	store := newFakeStorage()
	archiver, err := service.NewArchiver(store, "bucket", "raw/")
	if err != nil {
		t.Fatalf("create archiver: %v", err)
	}
	defer archiver.Close()

	attempt := &model.Attempt{ID: "att-1", SessionID: "sess-1", Ordinal: 4}
	raw := strings.Repeat("/scratch/ab/main.c:3:1: error: expected ';'\n", 200)
	key, err := archiver.Store(context.Background(), attempt, raw)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if key != "raw/sess-1/4-att-1.txt.zst" {
		t.Fatalf("unexpected key %q", key)
	}
	stat, err := store.StatObject(context.Background(), "bucket", key)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.ContentType != "application/zstd" || stat.SizeBytes >= int64(len(raw)) {
		t.Fatalf("expected a compressed zstd object, got %+v", stat)
	}
	got, err := archiver.Fetch(context.Background(), key)
	if err != nil || got != raw {
		t.Fatalf("round trip mismatch: %v", err)
	}
}

func TestNewArchiverValidation(t *testing.T) {
	if _, err := service.NewArchiver(nil, "b", ""); err == nil {
		t.Fatalf("storage must be required")
	}
	if _, err := service.NewArchiver(newFakeStorage(), "", ""); err == nil {
		t.Fatalf("bucket must be required")
	}
}

func TestArchiverStorageFailures(t *testing.T) {
	store := newFakeStorage()
	store.putErr = errors.New("bucket offline")
	archiver, err := service.NewArchiver(store, "bucket", "")
	if err != nil {
		t.Fatalf("create archiver: %v", err)
	}
	defer archiver.Close()

	attempt := &model.Attempt{ID: "att-1", SessionID: "sess-1", Ordinal: 1}
	if _, err := archiver.Store(context.Background(), attempt, "main.c:1:1: error: boom"); !appErr.Is(err, appErr.StorageError) {
		t.Fatalf("expected StorageError on upload, got %v", err)
	}
	if _, err := archiver.Fetch(context.Background(), archiver.Key(attempt)); !appErr.Is(err, appErr.StorageError) {
		t.Fatalf("expected StorageError on download, got %v", err)
	}
}
