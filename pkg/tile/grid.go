package tile

import "fmt"

// NewGrid computes the tiling grid for an image. The column and row counts
// are ceiling divisions, so the union of all cells covers the image exactly
// even when the dimensions are not multiples of the tile size (the common
// case for scanned pages).
func NewGrid(width, height, tileSize int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, &InvalidParametersError{
			Reason: fmt.Sprintf("image dimensions must be positive, got %dx%d", width, height),
		}
	}
	if tileSize <= 0 {
		return nil, &InvalidParametersError{
			Reason: fmt.Sprintf("tile size must be positive, got %d", tileSize),
		}
	}

	return &Grid{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		Columns:  (width + tileSize - 1) / tileSize,
		Rows:     (height + tileSize - 1) / tileSize,
	}, nil
}

// Total returns the number of cells in the grid.
func (g *Grid) Total() int {
	return g.Columns * g.Rows
}

// Requests enumerates the grid cells in row-major order. The order does not
// affect the stitched result but is kept deterministic for reproducible
// progress output.
func (g *Grid) Requests() []Request {
	reqs := make([]Request, 0, g.Total())
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Columns; col++ {
			x := col * g.TileSize
			y := row * g.TileSize
			reqs = append(reqs, Request{
				Col: col,
				Row: row,
				X:   x,
				Y:   y,
				W:   min(g.TileSize, g.Width-x),
				H:   min(g.TileSize, g.Height-y),
			})
		}
	}
	return reqs
}

// Region returns the IIIF region selector for the cell: "{x},{y},{w},{h}".
func (r Request) Region() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Size returns the IIIF size selector "{w}," which requests the region at
// full resolution with the height inferred from the aspect ratio.
func (r Request) Size() string {
	return fmt.Sprintf("%d,", r.W)
}

// URL builds the IIIF Image API URL for the cell:
//
//	{base}/{identifier}/{region}/{size}/{rotation}/{quality}.{format}
//
// This grammar is fixed by the image service; any other shape is rejected
// by the resolver.
func (r Request) URL(baseURL, imageID, format string) string {
	return fmt.Sprintf("%s/%s/%s/%s/0/default.%s", baseURL, imageID, r.Region(), r.Size(), format)
}
