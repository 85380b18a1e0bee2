package terrain

import (
	"context"
	"fmt"

	"terraind/pkg/geodesy"
)

// FetchErrorKind enumerates the terminal failure modes a Provider can report.
type FetchErrorKind string

const (
	FetchErrorFileNotFound    FetchErrorKind = "file_not_found"
	FetchErrorFileRead        FetchErrorKind = "file_read"
	FetchErrorCRC             FetchErrorKind = "crc"
	FetchErrorUnexpectedData  FetchErrorKind = "unexpected_data"
	FetchErrorNetworkError    FetchErrorKind = "network_error"
	FetchErrorEmptyResponse   FetchErrorKind = "empty_response"
	FetchErrorInvalidDataType FetchErrorKind = "invalid_data_type"
)

// FetchError wraps a terminal fetch failure with its kind and underlying cause.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terrain: fetch failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("terrain: fetch failed (%s)", e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// Provider is the polymorphic capability that resolves a coordinate to a tile.
// It is a pure coordinate-to-tile translator with no cache state of its own.
type Provider interface {
	// FetchTile resolves coord to a decoded Tile and its deterministic hash.
	FetchTile(ctx context.Context, coord geodesy.Coordinate) (*Tile, string, error)

	// TileHash returns the hash that FetchTile would produce for coord, without
	// performing the fetch. Used by TileCache to probe for a cache hit first.
	TileHash(coord geodesy.Coordinate) string

	// SampleSpacingM is the nominal meters-between-samples this provider's
	// tiles use, for path/carpet expansion.
	SampleSpacingM() float64

	// SupportsBatch reports whether BatchHeights can be used instead of
	// per-tile FetchTile (true for online N-coordinate providers).
	SupportsBatch() bool

	// BatchHeights resolves a flat slice of coordinates directly to heights
	// in one round trip. Only called when SupportsBatch() is true.
	BatchHeights(ctx context.Context, coords []geodesy.Coordinate) ([]float64, error)
}
