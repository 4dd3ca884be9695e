package tile

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// Processor handles tile downloading and decoding.
type Processor struct {
	client    *http.Client
	userAgent string
}

// NewProcessor creates a tile processor. The timeout applies per request;
// zero means no timeout.
func NewProcessor(userAgent string, timeout time.Duration) *Processor {
	return &Processor{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch downloads one tile and returns the raw response body.
func (p *Processor) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return io.ReadAll(resp.Body)
}

// Decode decodes the tile bytes and verifies the decoded dimensions match
// the request. A dimension mismatch means the service scaled or clipped the
// region, which would misalign the blit.
func (p *Processor) Decode(data []byte, req Request) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() != req.W || b.Dy() != req.H {
		return nil, fmt.Errorf("got %dx%d tile, want %dx%d", b.Dx(), b.Dy(), req.W, req.H)
	}

	return img, nil
}

// Save writes the raw tile bytes to dir for caching or debugging. The name
// encodes the image identifier and grid coordinates so re-runs overwrite
// rather than accumulate.
func (p *Processor) Save(dir, imageID string, req Request, data []byte, format string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%d_%d.%s", SafeFilename(imageID), req.Col, req.Row, format)
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// StatusError reports a non-success HTTP status from the tile service.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// SafeFilename replaces path separators and other characters that are
// unsafe in file names. IIIF identifiers are frequently URNs with colons.
func SafeFilename(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out[i] = '_'
		}
	}
	return string(out)
}
