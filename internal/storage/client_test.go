package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestObjectErrorClassifiesMissingKeys(t *testing.T) {
	c := &Client{bucket: "assets"}

	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if err := c.objectError("stat", "photo.jpg", missing); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}
	err := c.objectError("stat", "photo.jpg", denied)
	if errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("access denied must not be reported as not found: %v", err)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
