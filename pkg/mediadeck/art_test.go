package mediadeck

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// pngHeader is enough of a real PNG for byte-level sniffing to identify it
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D}

func newTestResolver() *ArtResolver {
	return newArtResolver(zap.NewNop().Sugar())
}

func TestResolvePassesEmbeddedPayloadThrough(t *testing.T) {
	embedded := "data:image/png;base64,aGVsbG8="

	got, err := newTestResolver().Resolve(context.Background(), embedded)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != embedded {
		t.Fatalf("embedded payload must pass through unchanged, got %q", got)
	}
}

func TestResolveLocalFileSniffsMIMEFromBytes(t *testing.T) {
	// misleading extension on purpose - only the bytes count
	path := filepath.Join(t.TempDir(), "cover.jpeg")
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	got, err := newTestResolver().Resolve(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected sniffed image/png prefix, got %q", got)
	}
}

func TestResolveRoundTripsPayloadBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cover")
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	got, err := newTestResolver().Resolve(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	_, encoded, ok := strings.Cut(got, ";base64,")
	if !ok {
		t.Fatalf("expected a base64 data URL, got %q", got)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != string(pngHeader) {
		t.Fatalf("round-tripped bytes differ from source")
	}
}

func TestResolveEmptyFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.png")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	_, err := newTestResolver().Resolve(context.Background(), "file://"+path)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed for empty payload, got %v", err)
	}
}

func TestResolveMissingFileFails(t *testing.T) {
	_, err := newTestResolver().Resolve(context.Background(), "file:///nonexistent/cover.png")
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestResolveRemoteURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	got, err := newTestResolver().Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected sniffed image/png prefix, got %q", got)
	}
}

func TestResolveRemoteNotFoundFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestResolver().Resolve(context.Background(), server.URL)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed for 404, got %v", err)
	}
}

func TestResolveOversizedRemotePayloadFails(t *testing.T) {
	oversized := make([]byte, maxArtPayloadSize+1)
	copy(oversized, pngHeader)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(oversized)
	}))
	defer server.Close()

	_, err := newTestResolver().Resolve(context.Background(), server.URL)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed for an oversized payload, got %v", err)
	}
}

func TestResolveUnknownBytesGetFallbackMIME(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("not any known image format"), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	got, err := newTestResolver().Resolve(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !strings.HasPrefix(got, "data:application/octet-stream;base64,") {
		t.Fatalf("expected fallback MIME type, got %q", got)
	}
}
