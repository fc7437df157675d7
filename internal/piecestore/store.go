// Package piecestore implements the peer-local Piece Store: it ingests
// files into fixed-size on-disk pieces, answers availability queries, and
// serves piece bytes back out by memory-mapping the underlying piece file
// via github.com/edsrzf/mmap-go.
package piecestore

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/lamcao1206/simple-torrent-application/internal/errs"
	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
)

// Store is the peer-local Piece Store. It owns piecesDir exclusively.
type Store struct {
	piecesDir string
	pieceSize uint32
	log       logger.Logger

	mu     sync.RWMutex
	pieces map[string][]piece.Piece // original filename -> ordered pieces
}

// New returns a Store rooted at piecesDir, rebuilding its in-memory index
// by scanning the directory's existing piece files so a restarted peer
// doesn't forget what it already holds.
func New(piecesDir string, pieceSize uint32, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(piecesDir, 0750); err != nil {
		return nil, errs.Wrap(errs.IO, "create pieces dir", err)
	}
	s := &Store{
		piecesDir: piecesDir,
		pieceSize: pieceSize,
		log:       log,
		pieces:    make(map[string][]piece.Piece),
	}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuildIndex scans piecesDir and reconstructs Piece records for whatever
// is already on disk, so a restarted peer doesn't forget what it holds.
func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(s.piecesDir)
	if err != nil {
		return errs.Wrap(errs.IO, "scan pieces dir", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := piece.ParseID(e.Name())
		if err != nil {
			continue
		}
		original, err := piece.OriginalNameOf(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return errs.Wrap(errs.IO, "stat piece "+e.Name(), err)
		}
		start := uint64(id) * uint64(s.pieceSize)
		s.pieces[original] = append(s.pieces[original], piece.Piece{
			ID:               id,
			OriginalFilename: original,
			Start:            start,
			End:              start + uint64(info.Size()),
		})
	}
	for _, pieces := range s.pieces {
		sort.Slice(pieces, func(i, j int) bool { return pieces[i].ID < pieces[j].ID })
	}
	return nil
}

// Ingest reads file in PieceSize windows and writes each window out to
// piecesDir/{base}_{i}.{ext}, recording a Piece for each. Ingest is
// idempotent: calling it twice on the same file does not duplicate
// records.
func (s *Store) Ingest(filePath string) error {
	original := filepath.Base(filePath)

	s.mu.Lock()
	if _, already := s.pieces[original]; already {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	f, err := os.Open(filePath)
	if err != nil {
		return errs.Wrap(errs.IO, "open file to ingest", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errs.Wrap(errs.IO, "stat file to ingest", err)
	}
	size := uint64(info.Size())

	var mapped mmap.MMap
	if size > 0 {
		mapped, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return errs.Wrap(errs.IO, "mmap file to ingest", err)
		}
		defer mapped.Unmap()
	}

	fi := piece.NewFileInfo(size, s.pieceSize)
	pieces := make([]piece.Piece, 0, fi.PieceCount)
	for id := uint32(0); id < fi.PieceCount; id++ {
		start := uint64(id) * uint64(s.pieceSize)
		end := start + uint64(s.pieceSize)
		if end > size {
			end = size
		}
		name := piece.Filename(original, id)
		dest := filepath.Join(s.piecesDir, name)
		if err := ioutil.WriteFile(dest, []byte(mapped[start:end]), 0640); err != nil {
			return errs.Wrap(errs.IO, fmt.Sprintf("write piece %s", name), err)
		}
		pieces = append(pieces, piece.Piece{
			ID:               id,
			OriginalFilename: original,
			Start:            start,
			End:              end,
		})
	}

	s.mu.Lock()
	s.pieces[original] = pieces
	s.mu.Unlock()
	s.log.Debugf("ingested %s into %d pieces", original, len(pieces))
	return nil
}

// ListPiecesFor filters the in-memory index down to the requested
// filenames, returning the piece IDs each is known locally for (spec
// §4.1).
func (s *Store) ListPiecesFor(filenames []string) map[string][]uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]uint32)
	for _, f := range filenames {
		pieces, ok := s.pieces[f]
		if !ok || len(pieces) == 0 {
			continue
		}
		ids := make([]uint32, len(pieces))
		for i, p := range pieces {
			ids[i] = p.ID
		}
		out[f] = ids
	}
	return out
}

// HasPiece reports whether the in-memory index records piece id of
// originalFilename. It does not check that the piece file exists on disk.
func (s *Store) HasPiece(originalFilename string, id uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pieces[originalFilename] {
		if p.ID == id {
			return true
		}
	}
	return false
}

// ReadPiece memory-maps pieceFilename and returns its bytes.
func (s *Store) ReadPiece(pieceFilename string) ([]byte, error) {
	path := filepath.Join(s.piecesDir, pieceFilename)
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "open piece", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.IO, "stat piece", err)
	}
	if info.Size() == 0 {
		return []byte{}, nil
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "mmap piece", err)
	}
	defer mapped.Unmap()

	out := make([]byte, len(mapped))
	copy(out, mapped)
	return out, nil
}

// Drop deletes every in-memory Piece record and on-disk piece file whose
// OriginalFilename == file.
func (s *Store) Drop(file string) error {
	s.mu.Lock()
	pieces, ok := s.pieces[file]
	delete(s.pieces, file)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	var firstErr error
	for _, p := range pieces {
		name := piece.Filename(file, p.ID)
		if err := os.Remove(filepath.Join(s.piecesDir, name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errs.Wrap(errs.IO, fmt.Sprintf("remove piece %s", name), err)
		}
	}
	return firstErr
}

// Files returns the set of filenames the store currently has at least one
// piece for.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.pieces))
	for f := range s.pieces {
		out = append(out, f)
	}
	return out
}

// FileInfoFor reports the FileInfo this peer holds for file, based solely
// on the number and size of pieces it has ingested locally.
func (s *Store) FileInfoFor(file string) (piece.FileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pieces, ok := s.pieces[file]
	if !ok || len(pieces) == 0 {
		return piece.FileInfo{}, false
	}
	var size uint64
	for _, p := range pieces {
		size += p.Len()
	}
	return piece.FileInfo{
		FileSize:   size,
		PieceSize:  s.pieceSize,
		PieceCount: uint32(len(pieces)),
	}, true
}
