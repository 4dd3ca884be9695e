// Package manifest resolves a human-facing book page URL to the IIIF image
// identifier and pixel dimensions needed to plan tiling.
package manifest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/booktile/pagestitch/pkg/tile"
)

// DefaultManifestURL is the IIIF Presentation manifest endpoint, with {id}
// standing in for the item identifier.
const DefaultManifestURL = "https://api.nb.no/catalog/v1/iiif/{id}/manifest"

// Resolver fetches IIIF Presentation manifests and looks up page canvases.
type Resolver struct {
	client      *http.Client
	manifestURL string
	userAgent   string
}

// NewResolver creates a resolver. manifestURL is a template containing an
// {id} token; if empty, DefaultManifestURL is used.
func NewResolver(manifestURL, userAgent string, timeout time.Duration) *Resolver {
	if manifestURL == "" {
		manifestURL = DefaultManifestURL
	}
	return &Resolver{
		client:      &http.Client{Timeout: timeout},
		manifestURL: manifestURL,
		userAgent:   userAgent,
	}
}

// manifest mirrors the slice of an IIIF Presentation 2.x document the
// resolver traverses: sequences -> canvases -> images -> resource.service.
type manifest struct {
	Sequences []struct {
		Canvases []canvas `json:"canvases"`
	} `json:"sequences"`
}

type canvas struct {
	Label  string `json:"label"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Images []struct {
		Resource struct {
			Service struct {
				ID string `json:"@id"`
			} `json:"service"`
		} `json:"resource"`
	} `json:"images"`
}

// ParsePageURL extracts the item identifier and page label from a page URL
// of the form {host}/items/{itemId}?page={label}. No network access.
func ParsePageURL(pageURL string) (itemID, page string, err error) {
	u, perr := url.Parse(pageURL)
	if perr != nil {
		return "", "", &MalformedInputError{URL: pageURL, Reason: perr.Error()}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "items" && i+1 < len(segments) && segments[i+1] != "" {
			itemID = segments[i+1]
			break
		}
	}
	if itemID == "" {
		return "", "", &MalformedInputError{URL: pageURL, Reason: "no /items/{id} path segment"}
	}

	page = u.Query().Get("page")
	if page == "" {
		return "", "", &MalformedInputError{URL: pageURL, Reason: "no page query parameter"}
	}

	return itemID, page, nil
}

// Resolve turns a page URL into an image descriptor by fetching the item's
// manifest and scanning its canvases for the requested page label. One
// network read, no retries; any failure here aborts the run before tiling
// starts.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (*tile.ImageDescriptor, error) {
	itemID, page, err := ParsePageURL(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := r.fetchManifest(ctx, itemID)
	if err != nil {
		return nil, err
	}

	for _, seq := range doc.Sequences {
		for _, c := range seq.Canvases {
			if c.Label != page {
				continue
			}
			return descriptorFromCanvas(c, page)
		}
	}

	return nil, &PageNotFoundError{ItemID: itemID, Page: page}
}

func (r *Resolver) fetchManifest(ctx context.Context, itemID string) (*manifest, error) {
	murl := strings.ReplaceAll(r.manifestURL, "{id}", url.PathEscape(itemID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, murl, nil)
	if err != nil {
		return nil, &TransportError{URL: murl, Err: err}
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: murl, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{URL: murl, StatusCode: resp.StatusCode}
	}

	var doc manifest
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &TransportError{URL: murl, Err: err}
	}

	return &doc, nil
}

func descriptorFromCanvas(c canvas, page string) (*tile.ImageDescriptor, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return nil, &FieldMissingError{Field: "width/height", Page: page}
	}
	if len(c.Images) == 0 {
		return nil, &FieldMissingError{Field: "images", Page: page}
	}

	serviceID := c.Images[0].Resource.Service.ID
	if serviceID == "" {
		return nil, &FieldMissingError{Field: "image service @id", Page: page}
	}

	// The image identifier is the last path segment of the service URL.
	imageID := serviceID[strings.LastIndex(serviceID, "/")+1:]
	if imageID == "" {
		return nil, &FieldMissingError{Field: "image identifier", Page: page}
	}

	return &tile.ImageDescriptor{
		ImageID: imageID,
		Width:   c.Width,
		Height:  c.Height,
	}, nil
}
