package tile

// Output format constants
const (
	OUTFMT_JPEG = iota
	OUTFMT_PNG
)

// ImageDescriptor identifies a stitchable IIIF image. The identifier is
// opaque and used verbatim when building tile URLs; the dimensions are the
// full pixel size of the image and must be known before any tile is fetched.
type ImageDescriptor struct {
	ImageID string
	Width   int
	Height  int
}

// Grid is the tiling of an image into fixed-size cells, derived entirely
// from the image dimensions and the tile size.
type Grid struct {
	Width    int
	Height   int
	TileSize int
	Columns  int
	Rows     int
}

// Request describes one grid cell to fetch. X/Y is the top-left pixel
// offset, W/H the clipped cell size (cells in the last column/row are
// narrower/shorter than the tile size).
type Request struct {
	Col, Row int
	X, Y     int
	W, H     int
}

// InvalidParametersError reports grid inputs that cannot describe a tiling.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return "invalid tiling parameters: " + e.Reason
}
