package terrain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"terraind/pkg/geodesy"
)

// blockPitchNorth and blockPitchEast are the non-overlapping advance between
// adjacent blocks: each 4x4 sub-grid overlaps its neighbor by 4 samples, so a
// 32x28 block advances 32-4 samples north-south and 28-4 samples east-west.
const (
	blockPitchNorth = GridWidth - 4
	blockPitchEast  = GridHeight - 4

	defaultSpacingM = 100
)

// GridOffset identifies a block within its containing 1-degree file.
type GridOffset struct {
	X, Y          uint16
	NumEastBlocks int
}

// FileProvider serves tiles from the offline on-disk binary grid format.
type FileProvider struct {
	dir string

	mu           sync.RWMutex
	spacingCache map[string]uint16
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{
		dir:          dir,
		spacingCache: make(map[string]uint16),
	}
}

func (p *FileProvider) SupportsBatch() bool { return false }

func (p *FileProvider) BatchHeights(context.Context, []geodesy.Coordinate) ([]float64, error) {
	return nil, errors.New("terrain: file provider does not support batch heights")
}

func (p *FileProvider) SampleSpacingM() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.spacingCache {
		return float64(s)
	}
	return defaultSpacingM
}

// TileHash returns the hash FetchTile would produce for coord, using the
// cached spacing for this file if known, or defaultSpacingM (100 m) otherwise.
func (p *FileProvider) TileHash(coord geodesy.Coordinate) string {
	filename := calcFilename(coord)
	spacing := p.cachedSpacing(filename)
	offset := calcGridOffset(coord, spacing)
	return FileTileHash(filename, int(offset.X), int(offset.Y), offset.NumEastBlocks)
}

func (p *FileProvider) cachedSpacing(filename string) uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.spacingCache[filename]; ok {
		return s
	}
	return defaultSpacingM
}

func (p *FileProvider) setCachedSpacing(filename string, spacing uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spacingCache[filename] = spacing
}

// FetchTile reads and decodes the block covering coord.
func (p *FileProvider) FetchTile(_ context.Context, coord geodesy.Coordinate) (*Tile, string, error) {
	filename := calcFilename(coord)
	path := filepath.Join(p.dir, filename)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", newFetchError(FetchErrorFileNotFound, err)
		}
		return nil, "", newFetchError(FetchErrorFileRead, err)
	}
	defer f.Close()

	headerBuf := make([]byte, BlockSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		return nil, "", newFetchError(FetchErrorFileRead, err)
	}
	if !VerifyCRC(headerBuf) {
		return nil, "", newFetchError(FetchErrorCRC, fmt.Errorf("initial block CRC mismatch"))
	}
	header, err := DecodeBlock(headerBuf)
	if err != nil {
		return nil, "", newFetchError(FetchErrorUnexpectedData, err)
	}

	offset := calcGridOffset(coord, header.Spacing)
	p.setCachedSpacing(filename, header.Spacing)

	byteOffset := blockByteOffset(offset.NumEastBlocks, int(offset.X), int(offset.Y))

	// The initial header read already covers block (0,0); seeking to offset
	// zero would just re-read the same bytes, but we still re-verify the CRC
	// like any other block rather than reusing the header short-circuit.
	blockBuf := headerBuf
	if byteOffset != 0 {
		if _, err := f.Seek(byteOffset, io.SeekStart); err != nil {
			return nil, "", newFetchError(FetchErrorFileRead, err)
		}
		blockBuf = make([]byte, BlockSize)
		if _, err := io.ReadFull(f, blockBuf); err != nil {
			return nil, "", newFetchError(FetchErrorFileRead, err)
		}
	}

	if !VerifyCRC(blockBuf) {
		return nil, "", newFetchError(FetchErrorCRC, fmt.Errorf("block (%d,%d) CRC mismatch", offset.X, offset.Y))
	}
	block, err := DecodeBlock(blockBuf)
	if err != nil {
		return nil, "", newFetchError(FetchErrorUnexpectedData, err)
	}
	if block.GridIdxX != offset.X || block.GridIdxY != offset.Y {
		return nil, "", newFetchError(FetchErrorUnexpectedData,
			fmt.Errorf("expected block (%d,%d), file returned (%d,%d)", offset.X, offset.Y, block.GridIdxX, block.GridIdxY))
	}

	hash := FileTileHash(filename, int(offset.X), int(offset.Y), offset.NumEastBlocks)
	return TileFromBlock(block), hash, nil
}

// calcFilename computes the "{N|S}{lat}{E|W}{lon}.DAT" filename for coord.
func calcFilename(coord geodesy.Coordinate) string {
	latDeg, lonDeg := coord.Degrees()

	latHemi := byte('N')
	if latDeg < 0 {
		latHemi = 'S'
	}
	lonHemi := byte('E')
	if lonDeg < 0 {
		lonHemi = 'W'
	}

	return fmt.Sprintf("%c%d%c%d.DAT", latHemi, absFloor(latDeg), lonHemi, absFloor(lonDeg))
}

func absFloor(v float64) int {
	f := math.Floor(v)
	if f < 0 {
		return int(-f)
	}
	return int(f)
}

// calcGridOffset locates the block within its 1-degree file covering coord,
// given the file's sample spacing in meters.
func calcGridOffset(coord geodesy.Coordinate, spacing uint16) GridOffset {
	latDeg, lonDeg := coord.Degrees()
	sw := geodesy.FromDegrees(math.Floor(latDeg), math.Floor(lonDeg))
	ne := geodesy.FromDegrees(math.Floor(latDeg)+1, math.Floor(lonDeg)+1)

	northM, eastM := geodesy.NorthEast(sw, coord)
	spacingF := float64(spacing)

	x := int(math.Floor(northM / spacingF / blockPitchNorth))
	y := int(math.Floor(eastM / spacingF / blockPitchEast))
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}

	_, widthEastM := geodesy.NorthEast(sw, ne)
	widthEastM += 2 * spacingF * GridHeight // overlap margin, as the original SE-corner offset
	numEastBlocks := int(math.Floor(widthEastM / spacingF / blockPitchEast))
	if numEastBlocks < 1 {
		numEastBlocks = 1
	}

	return GridOffset{X: uint16(x), Y: uint16(y), NumEastBlocks: numEastBlocks}
}
