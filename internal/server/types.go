package server

import "time"

// StitchRequest is the body of POST /api/v1/stitch. Either PageURL or the
// full ImageID/Width/Height triple must be provided.
type StitchRequest struct {
	// PageURL is a human-facing page URL of the form
	// {host}/items/{itemId}?page={label}; it is resolved through the
	// item's manifest.
	PageURL string `json:"page_url,omitempty"`

	// Direct mode: identifier and dimensions supplied by the caller,
	// skipping manifest resolution.
	ImageID string `json:"image_id,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`

	// Optional overrides.
	TileSize int    `json:"tile_size,omitempty"`
	Format   string `json:"format,omitempty"`   // "jpg" (default) or "png"
	BaseURL  string `json:"base_url,omitempty"` // image resolver endpoint
	Workers  int    `json:"workers,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// FailedTileInfo describes one failed tile.
type FailedTileInfo struct {
	Col        int    `json:"col"`
	Row        int    `json:"row"`
	URL        string `json:"url"`
	StatusCode *int   `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

// TileErrorResponse is returned when every tile fetch failed and no useful
// image can be produced.
type TileErrorResponse struct {
	Error       string           `json:"error"`
	Message     string           `json:"message"`
	FailedTiles []FailedTileInfo `json:"failed_tiles"`
	TotalTiles  int              `json:"total_tiles"`
	RequestID   string           `json:"request_id,omitempty"`
}
