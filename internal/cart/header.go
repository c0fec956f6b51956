package cart

import (
	"fmt"

	"github.com/book-expert/voice-model-service/internal/binio"
)

const (
	headerMagic   int32 = 0x4D415259 // "MARY"
	headerVersion int32 = 40
)

// FileType is the data file type recorded in the header.
type FileType int32

// Supported file types.
const (
	FileTypeCARTs         FileType = 100
	FileTypeDirectedGraph FileType = 110
)

func (t FileType) String() string {
	switch t {
	case FileTypeCARTs:
		return "CARTs"
	case FileTypeDirectedGraph:
		return "DirectedGraph"
	default:
		return fmt.Sprintf("FileType(%d)", int32(t))
	}
}

func readHeader(cursor *binio.Cursor) (FileType, error) {
	magic, err := cursor.ReadInt32()
	if err != nil {
		return 0, err
	}

	if magic != headerMagic {
		return 0, fmt.Errorf("%w: magic 0x%08X", ErrNotMaryFile, uint32(magic))
	}

	version, err := cursor.ReadInt32()
	if err != nil {
		return 0, err
	}

	if version != headerVersion {
		return 0, fmt.Errorf("%w: version %d, expected %d", ErrWrongVersion, version, headerVersion)
	}

	fileType, err := cursor.ReadInt32()
	if err != nil {
		return 0, err
	}

	switch FileType(fileType) {
	case FileTypeCARTs, FileTypeDirectedGraph:
		return FileType(fileType), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownFileType, fileType)
	}
}

func writeHeader(writer *binio.Writer, fileType FileType) {
	writer.WriteInt32(headerMagic)
	writer.WriteInt32(headerVersion)
	writer.WriteInt32(int32(fileType))
}
