package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupTestServer mounts the API the same way cmd/serve.go does.
func setupTestServer(cfg Config) *httptest.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	apiServer := New("1.0.0-test", cfg)
	r.Route("/api/v1", func(r chi.Router) {
		apiServer.Routes(r)
	})

	return httptest.NewServer(r)
}

// tileServer answers IIIF tile URLs with white PNG tiles of the requested
// region size.
func tileServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		fields := strings.Split(parts[1], ",")
		tw, _ := strconv.Atoi(fields[2])
		th, _ := strconv.Atoi(fields[3])

		img := image.NewNRGBA(image.Rect(0, 0, tw, th))
		for i := range img.Pix {
			img.Pix[i] = 0xFF
		}
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, img)
	}))
}

func postStitch(t *testing.T, serverURL string, req StitchRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshalling request: %v", err)
	}
	resp, err := http.Post(serverURL+"/api/v1/stitch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(Config{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if healthResp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}
	if healthResp.Version != "1.0.0-test" {
		t.Errorf("Expected version '1.0.0-test', got %s", healthResp.Version)
	}
	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

func TestStitchEndpoint_InvalidJSON(t *testing.T) {
	server := setupTestServer(Config{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/stitch", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Error != "INVALID_JSON" {
		t.Errorf("Expected INVALID_JSON, got %s", errResp.Error)
	}
}

func TestStitchEndpoint_Validation(t *testing.T) {
	server := setupTestServer(Config{})
	defer server.Close()

	cases := []struct {
		name string
		req  StitchRequest
	}{
		{"no addressing mode", StitchRequest{}},
		{"both modes", StitchRequest{PageURL: "https://x/items/a?page=1", ImageID: "id", Width: 10, Height: 10}},
		{"direct mode without dimensions", StitchRequest{ImageID: "id"}},
		{"direct mode negative width", StitchRequest{ImageID: "id", Width: -1, Height: 10}},
		{"bad format", StitchRequest{ImageID: "id", Width: 10, Height: 10, Format: "bmp"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postStitch(t, server.URL, tc.req)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errResp.Error != "VALIDATION_ERROR" {
				t.Errorf("Expected VALIDATION_ERROR, got %s", errResp.Error)
			}
		})
	}
}

func TestStitchEndpoint_DirectMode_Success(t *testing.T) {
	tiles := tileServer(t, http.StatusOK)
	defer tiles.Close()

	server := setupTestServer(Config{TileSize: 30, Timeout: 5 * time.Second})
	defer server.Close()

	resp := postStitch(t, server.URL, StitchRequest{
		ImageID: "img1",
		Width:   70,
		Height:  50,
		BaseURL: tiles.URL,
		Format:  "png",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %s", ct)
	}
	if got := resp.Header.Get("X-Tiles-Failed"); got != "0" {
		t.Errorf("Expected X-Tiles-Failed 0, got %s", got)
	}
	if got := resp.Header.Get("X-Tiles-Total"); got != "6" {
		t.Errorf("Expected X-Tiles-Total 6, got %s", got)
	}

	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 70 || img.Bounds().Dy() != 50 {
		t.Errorf("Image size: expected 70x50, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestStitchEndpoint_AllTilesFailed(t *testing.T) {
	tiles := tileServer(t, http.StatusServiceUnavailable)
	defer tiles.Close()

	server := setupTestServer(Config{TileSize: 30, Timeout: 5 * time.Second})
	defer server.Close()

	resp := postStitch(t, server.URL, StitchRequest{
		ImageID: "img1",
		Width:   70,
		Height:  50,
		BaseURL: tiles.URL,
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", resp.StatusCode)
	}

	var errResp TileErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errResp.Error != "TILE_SERVER_ERROR" {
		t.Errorf("Expected TILE_SERVER_ERROR, got %s", errResp.Error)
	}
	if errResp.TotalTiles != 6 || len(errResp.FailedTiles) != 6 {
		t.Errorf("Expected 6/6 failed tiles, got %d/%d", len(errResp.FailedTiles), errResp.TotalTiles)
	}
	for _, ft := range errResp.FailedTiles {
		if ft.StatusCode == nil || *ft.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503 on tile [%d,%d], got %v", ft.Col, ft.Row, ft.StatusCode)
		}
	}
}

func TestStitchEndpoint_PageURL_ResolverErrors(t *testing.T) {
	manifests := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sequences":[{"canvases":[]}]}`))
	}))
	defer manifests.Close()

	server := setupTestServer(Config{
		ManifestURL: manifests.URL + "/iiif/{id}/manifest",
		TileSize:    30,
		Timeout:     5 * time.Second,
	})
	defer server.Close()

	cases := []struct {
		name       string
		pageURL    string
		wantStatus int
		wantError  string
	}{
		{"malformed input", "https://x/items/a", http.StatusBadRequest, "MALFORMED_INPUT"},
		{"page not found", "https://x/items/a?page=1", http.StatusNotFound, "PAGE_NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postStitch(t, server.URL, StitchRequest{PageURL: tc.pageURL})
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, resp.StatusCode)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errResp.Error != tc.wantError {
				t.Errorf("Expected %s, got %s", tc.wantError, errResp.Error)
			}
		})
	}
}
