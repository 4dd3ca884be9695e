// Package stitch composites IIIF image tiles into one full-resolution
// canvas.
package stitch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/booktile/pagestitch/pkg/tile"
)

// DefaultBaseURL is the image resolver endpoint tile URLs are built on.
const DefaultBaseURL = "https://www.nb.no/services/image/resolver"

// Options configures one stitching run.
type Options struct {
	BaseURL    string        // image resolver endpoint; DefaultBaseURL if empty
	TileSize   int           // fixed by the tiling service, commonly 1024
	TileFormat string        // format requested per tile, "jpg" if empty
	Timeout    time.Duration // per-tile request timeout
	UserAgent  string
	TileDir    string    // if set, raw tile bytes are cached here
	Workers    int       // parallel fetchers; <=1 runs sequentially
	Progress   io.Writer // per-tile progress lines; discarded if nil
}

// FailedTile records one tile that could not be fetched or decoded. The
// corresponding canvas region stays at the background fill.
type FailedTile struct {
	Request    tile.Request
	URL        string
	StatusCode *int
	Err        string
}

// Result is the outcome of a run. Canvas always has the full image
// dimensions; regions of failed tiles are left at the background fill.
type Result struct {
	Canvas *image.NRGBA
	Grid   *tile.Grid
	Failed []FailedTile
}

// Succeeded returns the number of tiles composited onto the canvas.
func (r *Result) Succeeded() int {
	return r.Grid.Total() - len(r.Failed)
}

// Stitcher downloads the tiles of an image and composites them.
type Stitcher struct {
	processor *tile.Processor
	opts      *Options
}

// New creates a stitcher for the given options.
func New(opts *Options) *Stitcher {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "pagestitch/1.0"
	}

	return &Stitcher{
		processor: tile.NewProcessor(userAgent, opts.Timeout),
		opts:      opts,
	}
}

// Stitch runs the full pipeline for one image: grid computation, tile
// fetches, and composition. Per-tile failures are recorded in the result
// and never abort the run; the returned error covers only parameter
// validation and context cancellation.
func (s *Stitcher) Stitch(ctx context.Context, desc *tile.ImageDescriptor) (*Result, error) {
	grid, err := tile.NewGrid(desc.Width, desc.Height, s.opts.TileSize)
	if err != nil {
		return nil, err
	}

	progress := s.opts.Progress
	if progress == nil {
		progress = io.Discard
	}

	fmt.Fprintf(progress, "Image dimensions: %dx%d pixels.\n", desc.Width, desc.Height)
	fmt.Fprintf(progress, "Tiling grid: %d columns x %d rows (total %d tiles).\n",
		grid.Columns, grid.Rows, grid.Total())

	// Background fill is the NRGBA zero value; JPEG encode flattens it to
	// black.
	canvas := image.NewNRGBA(image.Rect(0, 0, desc.Width, desc.Height))

	reqs := grid.Requests()

	var failed []FailedTile
	if s.opts.Workers > 1 {
		failed = s.fetchParallel(ctx, desc, grid, reqs, canvas, progress)
	} else {
		failed = s.fetchSequential(ctx, desc, grid, reqs, canvas, progress)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fmt.Fprintf(progress, "Stitching complete: %d/%d tiles, %d failed.\n",
		grid.Total()-len(failed), grid.Total(), len(failed))

	return &Result{Canvas: canvas, Grid: grid, Failed: failed}, nil
}

func (s *Stitcher) fetchSequential(ctx context.Context, desc *tile.ImageDescriptor, grid *tile.Grid, reqs []tile.Request, canvas *image.NRGBA, progress io.Writer) []FailedTile {
	var failed []FailedTile
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprintf(progress, "Downloading tile [%d/%d, %d/%d]: %s\n",
			req.Row+1, grid.Rows, req.Col+1, grid.Columns, req.Region())

		if ft := s.fetchOne(ctx, desc, req, canvas, progress); ft != nil {
			failed = append(failed, *ft)
		}
	}
	return failed
}

func (s *Stitcher) fetchParallel(ctx context.Context, desc *tile.ImageDescriptor, grid *tile.Grid, reqs []tile.Request, canvas *image.NRGBA, progress io.Writer) []FailedTile {
	var (
		mu     sync.Mutex
		failed []FailedTile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, req := range reqs {
		req := req
		g.Go(func() error {
			// Tiles write disjoint canvas regions, so only the failure
			// list and progress writer need the lock.
			ft := s.fetchOne(gctx, desc, req, canvas, io.Discard)

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(progress, "Downloaded tile [%d/%d, %d/%d]: %s\n",
				req.Row+1, grid.Rows, req.Col+1, grid.Columns, req.Region())
			if ft != nil {
				failed = append(failed, *ft)
			}
			return nil
		})
	}

	g.Wait()
	return failed
}

// fetchOne downloads, optionally caches, decodes, and blits one tile.
// Returns nil on success, or the failure record for the run summary.
func (s *Stitcher) fetchOne(ctx context.Context, desc *tile.ImageDescriptor, req tile.Request, canvas *image.NRGBA, progress io.Writer) *FailedTile {
	url := req.URL(s.baseURL(), desc.ImageID, s.tileFormat())

	data, err := s.processor.Fetch(ctx, url)
	if err != nil {
		fmt.Fprintf(progress, "Error downloading %s: %v\n", url, err)
		ft := &FailedTile{Request: req, URL: url, Err: err.Error()}
		if se, ok := err.(*tile.StatusError); ok {
			ft.StatusCode = &se.Code
		}
		return ft
	}

	if s.opts.TileDir != "" {
		if err := s.processor.Save(s.opts.TileDir, desc.ImageID, req, data, s.tileFormat()); err != nil {
			fmt.Fprintf(progress, "Error caching tile %s: %v\n", req.Region(), err)
		}
	}

	img, err := s.processor.Decode(data, req)
	if err != nil {
		fmt.Fprintf(progress, "Error decoding %s: %v\n", url, err)
		return &FailedTile{Request: req, URL: url, Err: err.Error()}
	}

	// Exact blit, no blending or resampling.
	rect := image.Rect(req.X, req.Y, req.X+req.W, req.Y+req.H)
	draw.Draw(canvas, rect, img, img.Bounds().Min, draw.Src)

	return nil
}

func (s *Stitcher) baseURL() string {
	if s.opts.BaseURL == "" {
		return DefaultBaseURL
	}
	return s.opts.BaseURL
}

func (s *Stitcher) tileFormat() string {
	if s.opts.TileFormat == "" {
		return "jpg"
	}
	return s.opts.TileFormat
}

// Encode serialises the canvas in the given output format.
func (r *Result) Encode(format int, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case tile.OUTFMT_JPEG:
		err = imaging.Encode(&buf, r.Canvas, imaging.JPEG, imaging.JPEGQuality(quality))
	case tile.OUTFMT_PNG:
		err = imaging.Encode(&buf, r.Canvas, imaging.PNG)
	default:
		err = fmt.Errorf("unknown output format %d", format)
	}
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteFile encodes the canvas and writes it to path in one atomic step:
// the encoded bytes go to a temporary file in the target directory which is
// renamed into place, so a failed run never leaves a truncated artifact.
func (r *Result) WriteFile(path string, format int, quality int) error {
	data, err := r.Encode(format, quality)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// OutputName derives the artifact file name from the resolved image
// identifier, once per run.
func OutputName(imageID string, format int) string {
	ext := "jpg"
	if format == tile.OUTFMT_PNG {
		ext = "png"
	}
	return fmt.Sprintf("stitched_%s.%s", tile.SafeFilename(imageID), ext)
}
