package terrain

import (
	"encoding/binary"
	"fmt"

	"terraind/pkg/geodesy"
)

// BlockSize is the fixed on-disk size of a single Block record.
const (
	BlockSize  = 2048
	GridWidth  = 32 // north-south samples, x fastest
	GridHeight = 28 // east-west samples

	blockHeaderSize = 8 + 4 + 4 + 2 + 2 + 2 // bitmap + sw_lat + sw_lon + crc16 + version + spacing
	heightBytes     = GridWidth * GridHeight * 2
	blockIndexSize  = 2 + 2 + 2 + 1 // grid_idx_x + grid_idx_y + lon_degrees + lat_degrees
	blockPadding    = BlockSize - blockHeaderSize - heightBytes - blockIndexSize
)

func init() {
	if blockPadding != 227 {
		panic(fmt.Sprintf("terrain: block layout drifted, padding = %d, want 227", blockPadding))
	}
}

// Block is the decoded form of one 2048-byte on-disk terrain record.
type Block struct {
	Bitmap    uint64
	SWLat     int32
	SWLon     int32
	CRC16     uint16
	Version   uint16
	Spacing   uint16
	Heights   [GridWidth][GridHeight]int16
	GridIdxX  uint16
	GridIdxY  uint16
	LonDegree int16
	LatDegree int8
}

// EncodeBlock serializes b into exactly BlockSize bytes, computing a fresh CRC16.
func EncodeBlock(b *Block) []byte {
	buf := make([]byte, BlockSize)
	encodeBlockInto(buf, b, 0)
	crc := CRC16CCITT(buf)
	binary.LittleEndian.PutUint16(buf[16:18], crc)
	return buf
}

// encodeBlockInto writes b's fields into buf using the given crc16 value (the
// caller is responsible for zeroing it before computing a checksum).
func encodeBlockInto(buf []byte, b *Block, crc16 uint16) {
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], b.Bitmap)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(b.SWLat))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(b.SWLon))
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], crc16)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], b.Version)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], b.Spacing)
	off += 2
	for x := 0; x < GridWidth; x++ {
		for y := 0; y < GridHeight; y++ {
			binary.LittleEndian.PutUint16(buf[off:], uint16(b.Heights[x][y]))
			off += 2
		}
	}
	binary.LittleEndian.PutUint16(buf[off:], b.GridIdxX)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], b.GridIdxY)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], uint16(b.LonDegree))
	off += 2
	buf[off] = byte(b.LatDegree)
}

// DecodeBlock parses exactly BlockSize bytes into a Block, without validating
// the CRC (callers validate separately via VerifyCRC since the check requires
// the original, unmodified buffer).
func DecodeBlock(buf []byte) (*Block, error) {
	if len(buf) != BlockSize {
		return nil, fmt.Errorf("terrain: block must be %d bytes, got %d", BlockSize, len(buf))
	}

	b := &Block{}
	off := 0
	b.Bitmap = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	b.SWLat = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	b.SWLon = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	b.CRC16 = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	b.Version = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	b.Spacing = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	for x := 0; x < GridWidth; x++ {
		for y := 0; y < GridHeight; y++ {
			b.Heights[x][y] = int16(binary.LittleEndian.Uint16(buf[off:]))
			off += 2
		}
	}
	b.GridIdxX = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	b.GridIdxY = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	b.LonDegree = int16(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	b.LatDegree = int8(buf[off])

	return b, nil
}

// VerifyCRC recomputes the CRC16 over buf with the crc16 field zeroed and
// compares it against the value stored in the block.
func VerifyCRC(buf []byte) bool {
	if len(buf) != BlockSize {
		return false
	}
	stored := binary.LittleEndian.Uint16(buf[16:18])

	scratch := make([]byte, BlockSize)
	copy(scratch, buf)
	scratch[16] = 0
	scratch[17] = 0

	return CRC16CCITT(scratch) == stored
}

// crcTable is the CRC16-CCITT (poly 0x1021) lookup table, no reflection.
var crcTable = func() [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC16CCITT computes CRC16-CCITT (poly 0x1021, init 0x0000, no reflection, no
// final XOR) over data.
func CRC16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

// SWCoordinate returns the block's southwest corner as a fixed-point Coordinate.
func (b *Block) SWCoordinate() geodesy.Coordinate {
	return geodesy.Coordinate{LatE7: b.SWLat, LonE7: b.SWLon}
}

// blockIndex computes the byte-offset block index for (gx, gy) within a file
// whose east-west extent spans numEastBlocks blocks.
func blockIndex(numEastBlocks, gx, gy int) int {
	return numEastBlocks*gx + gy
}

// blockByteOffset returns the byte offset of block (gx, gy) within the file.
func blockByteOffset(numEastBlocks, gx, gy int) int64 {
	return int64(blockIndex(numEastBlocks, gx, gy)) * BlockSize
}
