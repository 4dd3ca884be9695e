package manifest

import "fmt"

// MalformedInputError reports a page URL that does not carry the item
// identifier and page selector the resolver needs.
type MalformedInputError struct {
	URL    string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed page URL %q: %s", e.URL, e.Reason)
}

// PageNotFoundError reports that no canvas in the manifest matches the
// requested page label.
type PageNotFoundError struct {
	ItemID string
	Page   string
}

func (e *PageNotFoundError) Error() string {
	return fmt.Sprintf("no page labelled %q in manifest for item %s", e.Page, e.ItemID)
}

// FieldMissingError reports that the matched canvas lacks a field the
// resolver needs to build an image descriptor.
type FieldMissingError struct {
	Field string
	Page  string
}

func (e *FieldMissingError) Error() string {
	return fmt.Sprintf("manifest entry for page %q is missing %s", e.Page, e.Field)
}

// TransportError reports a failed manifest fetch, either a network error or
// a non-success HTTP status.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching manifest %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching manifest %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
