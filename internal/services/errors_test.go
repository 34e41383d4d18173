package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"voxeliser/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transform", "voxelise", "exit status 1", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transform", "voxelise", "exit status 1", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "fetch", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestDetailsAndKind(t *testing.T) {
	tests := []struct {
		err  error
		kind services.ErrorKind
	}{
		{services.Wrap(services.ErrValidation, "validate", "job", "missing id", nil), services.KindValidation},
		{services.Wrap(services.ErrDownload, "download", "get", "", errors.New("eof")), services.KindDownload},
		{services.Wrap(services.ErrExternalTool, "transform", "", "", nil), services.KindTransform},
		{services.Wrap(services.ErrUpload, "upload", "", "", nil), services.KindUpload},
		{services.Wrap(services.ErrLink, "link", "", "", nil), services.KindLink},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrTransient, "fetch", "", "", nil)), services.KindTransient},
		{errors.New("plain"), services.KindUnknown},
		{nil, services.KindUnknown},
	}
	for _, tt := range tests {
		if got := services.Kind(tt.err); got != tt.kind {
			t.Fatalf("Kind(%v) = %s, want %s", tt.err, got, tt.kind)
		}
	}

	cause := errors.New("connection reset")
	details := services.Details(fmt.Errorf("attempt 3: %w", services.Wrap(services.ErrLink, "link", "mark processed", "put failed", cause)))
	if details.Stage != "link" || details.Operation != "mark processed" || details.Message != "put failed" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if !errors.Is(details.Cause, cause) {
		t.Fatalf("expected cause to be preserved, got %v", details.Cause)
	}
}
