// Package piece defines the data model shared by the Piece Store, the Peer
// Server and the Piece Scheduler: a fixed-size contiguous slice of a file.
package piece

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Piece identifies one contiguous byte slice of an original file.
// end-start <= FileInfo.PieceSize; only the final piece of a file is
// allowed to be shorter.
type Piece struct {
	ID               uint32
	OriginalFilename string
	Start            uint64
	End              uint64
}

// Len returns the number of bytes this piece covers.
func (p Piece) Len() uint64 { return p.End - p.Start }

// FileInfo describes a file's size in terms of pieces.
type FileInfo struct {
	FileSize   uint64 `json:"file_size"`
	PieceSize  uint32 `json:"piece_size"`
	PieceCount uint32 `json:"piece_count"`
}

// NewFileInfo computes PieceCount = ceil(fileSize/pieceSize), except that
// an empty file counts as one (empty) piece.
func NewFileInfo(fileSize uint64, pieceSize uint32) FileInfo {
	count := fileSize / uint64(pieceSize)
	if fileSize%uint64(pieceSize) != 0 || fileSize == 0 {
		count++
	}
	return FileInfo{FileSize: fileSize, PieceSize: pieceSize, PieceCount: uint32(count)}
}

// Filename returns the on-disk piece storage name for pieceID of the given
// original filename: "{basename_without_ext}_{piece_id}.{ext}".
func Filename(originalFilename string, pieceID uint32) string {
	ext := filepath.Ext(originalFilename)
	base := strings.TrimSuffix(filepath.Base(originalFilename), ext)
	if ext == "" {
		return fmt.Sprintf("%s_%d", base, pieceID)
	}
	return fmt.Sprintf("%s_%d%s", base, pieceID, ext)
}

// ParseID extracts the piece ID embedded in a piece storage filename
// produced by Filename, e.g. "3_2.txt" -> 2. Used by the Download Manager
// to sort combined pieces by index.
func ParseID(pieceFilename string) (uint32, error) {
	ext := filepath.Ext(pieceFilename)
	stem := strings.TrimSuffix(pieceFilename, ext)
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return 0, fmt.Errorf("piece filename %q has no id suffix", pieceFilename)
	}
	id, err := strconv.ParseUint(stem[idx+1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("piece filename %q has invalid id: %w", pieceFilename, err)
	}
	return uint32(id), nil
}

// BaseOf returns the basename-without-extension prefix used by Filename,
// e.g. "3.txt" -> "3". The Download Manager uses this to enumerate temp
// files matching "{base}_".
func BaseOf(originalFilename string) string {
	ext := filepath.Ext(originalFilename)
	return strings.TrimSuffix(filepath.Base(originalFilename), ext)
}

// OriginalNameOf inverts Filename: given a piece storage name it returns
// the original filename it was ingested from, e.g. "3_2.txt" -> "3.txt".
// Used by the Piece Store to rebuild its index from piecesDir at startup.
func OriginalNameOf(pieceFilename string) (string, error) {
	ext := filepath.Ext(pieceFilename)
	stem := strings.TrimSuffix(pieceFilename, ext)
	idx := strings.LastIndex(stem, "_")
	if idx < 0 {
		return "", fmt.Errorf("piece filename %q has no id suffix", pieceFilename)
	}
	return stem[:idx] + ext, nil
}
