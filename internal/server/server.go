// Package server exposes the stitching pipeline over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/booktile/pagestitch/internal/manifest"
	"github.com/booktile/pagestitch/internal/stitch"
	"github.com/booktile/pagestitch/pkg/tile"
)

// Config carries the pipeline defaults the server applies when a request
// does not override them.
type Config struct {
	ManifestURL string
	BaseURL     string
	TileSize    int
	TileFormat  string
	Timeout     time.Duration
	UserAgent   string
	MaxWorkers  int
}

// Server implements the HTTP API around the resolver and stitcher.
type Server struct {
	startTime time.Time
	version   string
	cfg       Config
}

// New creates a server instance.
func New(version string, cfg Config) *Server {
	if cfg.TileSize == 0 {
		cfg.TileSize = 1024
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 8
	}
	return &Server{
		startTime: time.Now(),
		version:   version,
		cfg:       cfg,
	}
}

// Routes mounts the API endpoints on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.GetHealth)
	r.Post("/stitch", s.CreateStitchedImage)
}

// GetHealth implements the health check endpoint.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// CreateStitchedImage implements the stitching endpoint. The response body
// is the stitched image; the X-Tiles-Failed header carries the failure
// count so partial results are detectable.
func (s *Server) CreateStitchedImage(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	var req StitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON in request body", requestID)
		return
	}

	if err := validateStitchRequest(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), requestID)
		return
	}

	desc, err := s.resolveDescriptor(r, &req)
	if err != nil {
		s.handleResolveError(w, err, requestID)
		return
	}

	opts := &stitch.Options{
		BaseURL:    req.BaseURL,
		TileSize:   s.cfg.TileSize,
		TileFormat: s.cfg.TileFormat,
		Timeout:    s.cfg.Timeout,
		UserAgent:  s.cfg.UserAgent,
		Workers:    req.Workers,
	}
	if req.BaseURL == "" {
		opts.BaseURL = s.cfg.BaseURL
	}
	if req.TileSize > 0 {
		opts.TileSize = req.TileSize
	}
	if opts.Workers > s.cfg.MaxWorkers {
		opts.Workers = s.cfg.MaxWorkers
	}

	result, err := stitch.New(opts).Stitch(r.Context(), desc)
	if err != nil {
		if _, ok := err.(*tile.InvalidParametersError); ok {
			s.writeError(w, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error(), requestID)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", requestID)
		return
	}

	if len(result.Failed) == result.Grid.Total() {
		s.writeTileError(w, result, requestID)
		return
	}

	format := tile.OUTFMT_JPEG
	contentType := "image/jpeg"
	if req.Format == "png" {
		format = tile.OUTFMT_PNG
		contentType = "image/png"
	}

	data, err := result.Encode(format, 95)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ENCODE_ERROR",
			"Failed to encode stitched image", requestID)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Tiles-Total", strconv.Itoa(result.Grid.Total()))
	w.Header().Set("X-Tiles-Failed", strconv.Itoa(len(result.Failed)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// resolveDescriptor turns the request into an image descriptor, either by
// manifest lookup or from the directly supplied triple.
func (s *Server) resolveDescriptor(r *http.Request, req *StitchRequest) (*tile.ImageDescriptor, error) {
	if req.PageURL != "" {
		resolver := manifest.NewResolver(s.cfg.ManifestURL, s.cfg.UserAgent, s.cfg.Timeout)
		return resolver.Resolve(r.Context(), req.PageURL)
	}

	return &tile.ImageDescriptor{
		ImageID: req.ImageID,
		Width:   req.Width,
		Height:  req.Height,
	}, nil
}

// validateStitchRequest checks that exactly one addressing mode is used and
// its parameters are complete.
func validateStitchRequest(req *StitchRequest) error {
	direct := req.ImageID != "" || req.Width != 0 || req.Height != 0

	switch {
	case req.PageURL != "" && direct:
		return fmt.Errorf("provide either page_url or image_id/width/height, not both")
	case req.PageURL == "" && !direct:
		return fmt.Errorf("either page_url or image_id/width/height is required")
	case direct:
		if req.ImageID == "" {
			return fmt.Errorf("image_id is required in direct mode")
		}
		if req.Width <= 0 || req.Height <= 0 {
			return fmt.Errorf("width and height must be positive")
		}
	}

	if req.TileSize < 0 {
		return fmt.Errorf("tile_size must be positive")
	}
	if req.Format != "" && req.Format != "jpg" && req.Format != "png" {
		return fmt.Errorf("format must be jpg or png")
	}

	return nil
}

// handleResolveError maps resolver failures to HTTP statuses.
func (s *Server) handleResolveError(w http.ResponseWriter, err error, requestID string) {
	switch err.(type) {
	case *manifest.MalformedInputError:
		s.writeError(w, http.StatusBadRequest, "MALFORMED_INPUT", err.Error(), requestID)
	case *manifest.PageNotFoundError:
		s.writeError(w, http.StatusNotFound, "PAGE_NOT_FOUND", err.Error(), requestID)
	case *manifest.FieldMissingError:
		s.writeError(w, http.StatusBadGateway, "METADATA_FIELD_MISSING", err.Error(), requestID)
	case *manifest.TransportError:
		s.writeError(w, http.StatusBadGateway, "MANIFEST_FETCH_FAILED", err.Error(), requestID)
	default:
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", requestID)
	}
}

// writeTileError reports a run where no tile could be composited.
func (s *Server) writeTileError(w http.ResponseWriter, result *stitch.Result, requestID string) {
	failed := make([]FailedTileInfo, len(result.Failed))
	for i, ft := range result.Failed {
		failed[i] = FailedTileInfo{
			Col:        ft.Request.Col,
			Row:        ft.Request.Row,
			URL:        ft.URL,
			StatusCode: ft.StatusCode,
			Error:      ft.Err,
		}
	}

	response := TileErrorResponse{
		Error:       "TILE_SERVER_ERROR",
		Message:     "All tile fetches failed",
		FailedTiles: failed,
		TotalTiles:  result.Grid.Total(),
		RequestID:   requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, errorCode, message, requestID string) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// generateRequestID generates a unique request ID.
func generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}
