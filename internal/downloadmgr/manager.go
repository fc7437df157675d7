// Package downloadmgr implements the Download Manager: given a per-peer
// piece-filename queue, it spawns one worker per peer, fetches each queued
// piece over a fresh connection, combines the results into the target
// files, re-ingests them into the local Piece Store, and republishes the
// updated inventory to the tracker. Worker fan-out/join uses
// errgroup.Group; pieces are fetched one at a time per worker with no
// block-level resume.
package downloadmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	mmap "github.com/edsrzf/mmap-go"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lamcao1206/simple-torrent-application/internal/errs"
	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/peerserver"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
	"github.com/lamcao1206/simple-torrent-application/internal/piecestore"
	"github.com/lamcao1206/simple-torrent-application/internal/progress"
	"github.com/lamcao1206/simple-torrent-application/internal/scheduler"
	"github.com/lamcao1206/simple-torrent-application/internal/trackerclient"
)

// Manager coordinates one fetch operation at a time against a local Piece
// Store and a tracker control connection.
type Manager struct {
	store   *piecestore.Store
	tracker *trackerclient.Client
	repoDir string
	tempDir string
	log     logger.Logger

	speed *progress.Speed
}

// New wires a Manager around an already-open Piece Store and tracker
// control connection.
func New(store *piecestore.Store, tracker *trackerclient.Client, repoDir, tempDir string, log logger.Logger) *Manager {
	return &Manager{
		store:   store,
		tracker: tracker,
		repoDir: repoDir,
		tempDir: tempDir,
		log:     log,
		speed:   progress.New(5 * time.Second),
	}
}

// Close stops the manager's background speed tracker.
func (m *Manager) Close() {
	m.speed.Stop()
}

// Fetch runs one complete fetch of the given filenames: it queries the
// tracker, queries each candidate peer's availability, schedules queues,
// downloads pieces, combines, ingests, and republishes. events, if
// non-nil, receives one Event per completed piece.
func (m *Manager) Fetch(filenames []string, events chan<- progress.Event) error {
	result, err := m.tracker.Fetch(filenames)
	if err != nil {
		return fmt.Errorf("tracker fetch: %w", err)
	}
	if len(result.NotFound) > 0 {
		m.log.Warningln("fetch: not found on tracker:", strings.Join(result.NotFound, ", "))
	}

	requested := make([]string, 0, len(filenames))
	for _, f := range filenames {
		found := false
		for _, nf := range result.NotFound {
			if nf == f {
				found = true
				break
			}
		}
		if !found {
			requested = append(requested, f)
		}
	}
	if len(requested) == 0 {
		return nil
	}

	var peerOrder []scheduler.Peer
	peerAddrs := make(map[scheduler.Peer]string)
	for _, entry := range result.Peers {
		addr := trackerclient.UploadAddr(entry)
		p := scheduler.Peer(addr)
		if _, seen := peerAddrs[p]; seen {
			continue
		}
		peerAddrs[p] = addr
		peerOrder = append(peerOrder, p)
	}
	sort.Slice(peerOrder, func(i, j int) bool { return peerOrder[i] < peerOrder[j] })

	if len(peerOrder) == 0 {
		m.log.Warningln(errs.New(errs.Schedule, "no peers hold any of the requested files").Error())
		return nil
	}

	combined := make(map[scheduler.Peer][]string)
	pieceOwner := make(map[string]string) // piece filename -> original filename, for progress events
	scheduled := make([]string, 0, len(requested))
	for _, filename := range requested {
		if m.alreadyHaveWhole(filename) {
			m.log.Warningln("fetch: already have", filename)
			continue
		}
		avail := m.queryAvailability(peerOrder, peerAddrs, filename)
		held := m.heldPieceIDs(filename)
		queue := scheduler.Schedule(peerOrder, avail, held)
		names := scheduler.Filenames(filename, queue)
		piecesQueued := 0
		for _, list := range names {
			for _, n := range list {
				pieceOwner[n] = filename
			}
			piecesQueued += len(list)
		}
		if piecesQueued == 0 {
			m.log.Warningln(errs.New(errs.Schedule, "no peer holds any schedulable piece of "+filename).Error())
			continue
		}
		combined = scheduler.MergeQueues(combined, names)
		scheduled = append(scheduled, filename)
	}

	sessionDir := filepath.Join(m.tempDir, uuid.NewV4().String())
	if err := os.MkdirAll(sessionDir, 0750); err != nil {
		return fmt.Errorf("create temp session dir: %w", err)
	}
	defer os.RemoveAll(sessionDir)

	if err := m.runWorkers(peerAddrs, combined, pieceOwner, sessionDir, events); err != nil {
		m.log.Warningln("fetch: worker error:", err)
	}

	for _, filename := range scheduled {
		if err := m.combine(filename, sessionDir); err != nil {
			m.log.Warningln("fetch: combine", filename, ":", err)
			continue
		}
	}

	newInfo := make(map[string]piece.FileInfo)
	for _, filename := range requested {
		if info, ok := m.store.FileInfoFor(filename); ok {
			newInfo[filename] = info
		}
	}
	if len(newInfo) > 0 {
		if err := m.tracker.Publish(newInfo); err != nil {
			return fmt.Errorf("publish after fetch: %w", err)
		}
	}
	return nil
}

func (m *Manager) alreadyHaveWhole(filename string) bool {
	_, ok := m.store.FileInfoFor(filename)
	return ok
}

func (m *Manager) heldPieceIDs(filename string) map[uint32]struct{} {
	held := make(map[uint32]struct{})
	for _, id := range m.store.ListPiecesFor([]string{filename})[filename] {
		held[id] = struct{}{}
	}
	return held
}

func (m *Manager) queryAvailability(order []scheduler.Peer, addrs map[scheduler.Peer]string, filename string) map[scheduler.Peer][]uint32 {
	avail := make(map[scheduler.Peer][]uint32, len(order))
	for _, p := range order {
		resp, err := peerserver.Find(addrs[p], []string{filename}, 3*time.Second)
		if err != nil {
			m.log.Debugln("fetch: find on", addrs[p], ":", err)
			continue
		}
		idStrs, ok := resp[filename]
		if !ok {
			continue
		}
		ids := make([]uint32, 0, len(idStrs))
		for _, s := range idStrs {
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				continue
			}
			ids = append(ids, uint32(n))
		}
		avail[p] = ids
	}
	return avail
}

func (m *Manager) runWorkers(addrs map[scheduler.Peer]string, queues map[scheduler.Peer][]string, pieceOwner map[string]string, sessionDir string, events chan<- progress.Event) error {
	var g errgroup.Group
	for p, names := range queues {
		p, names := p, names
		g.Go(func() error {
			return m.worker(addrs[p], string(p), names, pieceOwner, sessionDir, events)
		})
	}
	return g.Wait()
}

func (m *Manager) worker(addr, workerID string, pieceNames []string, pieceOwner map[string]string, sessionDir string, events chan<- progress.Event) error {
	total := len(pieceNames)
	for i, name := range pieceNames {
		data, err := peerserver.RequestPiece(addr, name, 10*time.Second)
		if err != nil {
			m.log.Warningln("fetch: request", name, "from", addr, ":", err)
			continue
		}
		if len(data) == 0 {
			m.log.Warningln("fetch: empty piece", name, "from", addr, ", skipping")
			continue
		}
		if err := os.WriteFile(filepath.Join(sessionDir, name), data, 0640); err != nil {
			return fmt.Errorf("write temp piece %s: %w", name, err)
		}
		m.speed.Update(int64(len(data)))
		if events != nil {
			id, _ := piece.ParseID(name)
			events <- progress.Event{WorkerID: workerID, Filename: pieceOwner[name], PieceID: id, Done: i + 1, Total: total}
		}
	}
	return nil
}

// combine enumerates sessionDir for pieces of filename, sorts them by
// piece index, and memory-map-copies them in order into repo/<filename>.
func (m *Manager) combine(filename, sessionDir string) error {
	base := piece.BaseOf(filename)
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return err
	}

	type indexed struct {
		id   uint32
		name string
	}
	var pieces []indexed
	prefix := base + "_"
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		id, err := piece.ParseID(e.Name())
		if err != nil {
			continue
		}
		pieces = append(pieces, indexed{id: id, name: e.Name()})
	}
	if len(pieces) == 0 {
		return fmt.Errorf("no pieces found for %s in temp area", filename)
	}
	sort.Slice(pieces, func(i, j int) bool { return pieces[i].id < pieces[j].id })

	if err := os.MkdirAll(m.repoDir, 0750); err != nil {
		return err
	}
	dstPath := filepath.Join(m.repoDir, filename)
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	for _, p := range pieces {
		if err := appendMapped(dst, filepath.Join(sessionDir, p.name)); err != nil {
			return fmt.Errorf("append piece %s: %w", p.name, err)
		}
	}

	if err := m.store.Ingest(dstPath); err != nil {
		return fmt.Errorf("ingest combined file: %w", err)
	}
	return nil
}

func appendMapped(dst *os.File, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}

	mapped, err := mmap.Map(src, mmap.RDONLY, 0)
	if err != nil {
		return err
	}
	defer mapped.Unmap()

	_, err = dst.Write(mapped)
	return err
}
