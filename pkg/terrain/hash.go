package terrain

import "fmt"

// FileTileHash builds the deterministic hash for a file-provider tile.
func FileTileHash(filename string, gridIdxX, gridIdxY, numEastBlocks int) string {
	return fmt.Sprintf("file:%s:%d:%d:%d", filename, gridIdxX, gridIdxY, numEastBlocks)
}

// HTTPTileHash builds the deterministic hash for an online-provider tile.
func HTTPTileHash(mapType string, tileX, tileY, zoom int) string {
	return fmt.Sprintf("http:%s:%d:%d:%d", mapType, tileX, tileY, zoom)
}
