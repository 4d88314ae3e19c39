package mediadeck

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrFetchFailed indicates an art reference couldn't be turned into a usable
// payload. Callers fall back to a default visual; this never crosses further up
var ErrFetchFailed = errors.New("failed to fetch art payload")

const (
	dataURLPrefix = "data:"
	fileURLPrefix = "file:"

	artFetchTimeout   = time.Second * 10
	artFetchRetryMax  = 2
	fallbackMIMEType  = "application/octet-stream"
	maxArtPayloadSize = 10 << 20 // don't let a misbehaving player feed us gigabytes
)

// ArtResolver converts an art reference (embedded payload, local path or
// remote URL) into a self-contained data URL ready to be pushed to a surface
type ArtResolver struct {
	logger *zap.SugaredLogger
	client *retryablehttp.Client
}

func newArtResolver(logger *zap.SugaredLogger) *ArtResolver {
	client := retryablehttp.NewClient()
	client.RetryMax = artFetchRetryMax
	client.HTTPClient.Timeout = artFetchTimeout
	client.Logger = nil

	return &ArtResolver{
		logger: logger.Named("art"),
		client: client,
	}
}

// Resolve turns the given reference into a "data:<mime>;base64,<bytes>" string.
// Already-embedded payloads pass through unchanged. The MIME type is always
// sniffed from the bytes, never trusted from the reference's extension
func (ar *ArtResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if strings.HasPrefix(reference, dataURLPrefix) {
		return reference, nil
	}

	var (
		payload []byte
		err     error
	)

	if strings.HasPrefix(reference, fileURLPrefix) {
		payload, err = ar.readLocal(reference)
	} else {
		payload, err = ar.fetchRemote(ctx, reference)
	}

	if err != nil {
		return "", err
	}

	if len(payload) == 0 {
		ar.logger.Warnw("Art reference yielded an empty payload", "reference", reference)
		return "", fmt.Errorf("%w: empty payload from %s", ErrFetchFailed, reference)
	}

	return encodeDataURL(payload), nil
}

func (ar *ArtResolver) readLocal(reference string) ([]byte, error) {
	path := strings.TrimPrefix(reference, "file://")

	payload, err := os.ReadFile(path)
	if err != nil {
		ar.logger.Warnw("Failed to read local art file", "path", path, "error", err)
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetchFailed, path, err)
	}

	return payload, nil
}

func (ar *ArtResolver) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %v", ErrFetchFailed, url, err)
	}

	response, err := ar.client.Do(request)
	if err != nil {
		ar.logger.Warnw("Failed to fetch remote art", "url", url, "error", err)
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrFetchFailed, url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		ar.logger.Warnw("Remote art fetch returned non-OK status", "url", url, "status", response.StatusCode)
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrFetchFailed, url, response.StatusCode)
	}

	// read one byte past the cap so an over-limit payload is detectable
	// instead of silently truncated into a corrupt image
	payload, err := io.ReadAll(io.LimitReader(response.Body, maxArtPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body of %s: %v", ErrFetchFailed, url, err)
	}

	if len(payload) > maxArtPayloadSize {
		ar.logger.Warnw("Remote art payload exceeds size limit", "url", url, "limit", maxArtPayloadSize)
		return nil, fmt.Errorf("%w: fetch %s: payload exceeds %d bytes", ErrFetchFailed, url, maxArtPayloadSize)
	}

	return payload, nil
}

func encodeDataURL(payload []byte) string {
	mimeType := fallbackMIMEType
	if kind, err := filetype.Match(payload); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(payload))
}
