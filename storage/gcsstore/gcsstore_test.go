package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestObjectKeyAndLocation(t *testing.T) {
	if got := objectKey("", "a.zip"); got != "a.zip" {
		t.Fatalf("objectKey: got %q", got)
	}
	if got := objectKey("exposureKeyExport-US", "index.txt"); got != "exposureKeyExport-US/index.txt" {
		t.Fatalf("objectKey: got %q", got)
	}
	s := &Store{bucketName: "exports"}
	if got := s.location("x/1.zip"); got != "gs://exports/x/1.zip" {
		t.Fatalf("location: got %q", got)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	wrapped := fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})
	if !isPreconditionFailed(wrapped) {
		t.Fatalf("expected 412 to be detected through wrapping")
	}
	if isPreconditionFailed(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Fatalf("403 is not a precondition failure")
	}
	if isPreconditionFailed(errors.New("plain")) {
		t.Fatalf("plain errors are not precondition failures")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}
