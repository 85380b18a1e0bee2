package terrain

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"terraind/pkg/geodesy"
)

// Tile is an in-memory decoded height grid. Once constructed it is never
// mutated; TileCache stores a pointer to it under its hash and hands out
// shared read references.
type Tile struct {
	SW       geodesy.Coordinate
	SpacingM uint16
	Heights  [GridWidth][GridHeight]int16
	Valid    bool
}

// TileFromBlock builds a Tile from a successfully decoded and CRC-verified Block.
func TileFromBlock(b *Block) *Tile {
	return &Tile{
		SW:       b.SWCoordinate(),
		SpacingM: b.Spacing,
		Heights:  b.Heights,
		Valid:    true,
	}
}

// Elevation performs bilinear interpolation of the height grid at coord,
// returning NaN if coord falls outside the tile.
func (t *Tile) Elevation(coord geodesy.Coordinate) float64 {
	if t == nil || !t.Valid || t.SpacingM == 0 {
		return math.NaN()
	}

	northM, eastM := geodesy.NorthEast(t.SW, coord)
	fx := northM / float64(t.SpacingM)
	fy := eastM / float64(t.SpacingM)

	if fx < 0 || fy < 0 || fx > float64(GridWidth-1) || fy > float64(GridHeight-1) {
		return math.NaN()
	}

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 > GridWidth-1 {
		x1 = x0
	}
	if y1 > GridHeight-1 {
		y1 = y0
	}

	tx := fx - float64(x0)
	ty := fy - float64(y0)

	h00 := float64(t.Heights[x0][y0])
	h10 := float64(t.Heights[x1][y0])
	h01 := float64(t.Heights[x0][y1])
	h11 := float64(t.Heights[x1][y1])

	h0 := h00*(1-tx) + h10*tx
	h1 := h01*(1-tx) + h11*tx
	return h0*(1-ty) + h1*ty
}

// TileFromImage decodes an online provider's PNG-encoded elevation tile. The
// elevation is recovered from the red/green/blue channels using the common
// Mapzen/Terrarium encoding: height = (R*256 + G + B/256) - 32768 meters.
// This is grounded on the standard library image/png codec rather than a
// third-party image library, matching how PNG payloads are handled elsewhere
// in the retrieved pack whenever images cross a provider boundary.
func TileFromImage(data []byte, sw geodesy.Coordinate, spacingM uint16) (*Tile, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("terrain: decode tile image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("terrain: empty tile image")
	}

	t := &Tile{SW: sw, SpacingM: spacingM, Valid: true}
	for x := 0; x < GridWidth; x++ {
		for y := 0; y < GridHeight; y++ {
			px := bounds.Min.X + (x*width)/GridWidth
			py := bounds.Min.Y + (y*height)/GridHeight
			t.Heights[x][y] = terrariumElevation(img, px, py)
		}
	}
	return t, nil
}

func terrariumElevation(img image.Image, x, y int) int16 {
	r, g, b, _ := img.At(x, y).RGBA()
	// RGBA() returns 16-bit-scaled channel values; reduce to 8-bit.
	rv := float64(r >> 8)
	gv := float64(g >> 8)
	bv := float64(b >> 8)
	elev := (rv*256 + gv + bv/256) - 32768
	return int16(elev)
}
