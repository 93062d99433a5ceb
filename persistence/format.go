// Package persistence implements the framed snapshot format used to persist
// and restore indexes.
//
// Layout:
//
//	[4]byte  magic "AIX1"
//	uint8    format version
//	uint8    index kind (opaque to this package)
//	uint8    compression codec
//	uint8    flags (bit 0: payload actually compressed)
//	uint64   uncompressed payload size
//	uint64   stored payload size
//	uint32   CRC-32C over the stored payload
//	[]byte   payload
//
// All integers are little-endian. The checksum is verified before the
// payload is handed back, so a truncated or corrupted snapshot fails loudly
// instead of producing a half-decoded index.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var magic = [4]byte{'A', 'I', 'X', '1'}

const (
	formatVersion = 1

	flagCompressed = 1 << 0

	headerSize = 4 + 1 + 1 + 1 + 1 + 8 + 8 + 4

	// maxPayloadSize guards against allocating from a corrupted header.
	maxPayloadSize = 1 << 40
)

var (
	// ErrBadMagic is returned when the input is not a snapshot.
	ErrBadMagic = errors.New("persistence: bad magic")

	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("persistence: checksum mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Write frames payload with kind and codec and writes it to w.
func Write(w io.Writer, kind uint8, payload []byte, codec Compression) error {
	stored, compressed, err := compress(payload, codec)
	if err != nil {
		return err
	}

	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	header[4] = formatVersion
	header[5] = kind
	header[6] = uint8(codec)
	if compressed {
		header[7] = flagCompressed
	}
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(payload)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(stored)))
	binary.LittleEndian.PutUint32(header[24:28], crc32.Checksum(stored, castagnoli))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(stored); err != nil {
		return err
	}

	return nil
}

// Read parses a snapshot from r, verifies its checksum and returns the index
// kind and decompressed payload.
func Read(r io.Reader) (uint8, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	if [4]byte(header[0:4]) != magic {
		return 0, nil, ErrBadMagic
	}
	if header[4] != formatVersion {
		return 0, nil, fmt.Errorf("persistence: unsupported format version %d", header[4])
	}

	kind := header[5]
	codec := Compression(header[6])
	compressed := header[7]&flagCompressed != 0
	uncompressedSize := binary.LittleEndian.Uint64(header[8:16])
	storedSize := binary.LittleEndian.Uint64(header[16:24])
	sum := binary.LittleEndian.Uint32(header[24:28])

	if storedSize > maxPayloadSize || uncompressedSize > maxPayloadSize {
		return 0, nil, fmt.Errorf("persistence: implausible payload size %d", storedSize)
	}

	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return 0, nil, err
	}

	if crc32.Checksum(stored, castagnoli) != sum {
		return 0, nil, ErrChecksum
	}

	payload, err := decompress(stored, codec, compressed, uncompressedSize)
	if err != nil {
		return 0, nil, err
	}

	return kind, payload, nil
}
