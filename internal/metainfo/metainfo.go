// Package metainfo implements the tracker's sole durable file: a JSON
// snapshot mapping filename -> {size, piece_size, piece_count, nodes[]},
// plus a tracker_addr singleton.
package metainfo

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	"github.com/lamcao1206/simple-torrent-application/internal/piece"
)

// Entry is one filename's Metainfo record.
type Entry struct {
	FileSize   uint64   `json:"file_size"`
	PieceSize  uint32   `json:"piece_size"`
	PieceCount uint32   `json:"piece_count"`
	Nodes      []string `json:"nodes"`
}

func (e *Entry) hasNode(addr string) bool {
	for _, n := range e.Nodes {
		if n == addr {
			return true
		}
	}
	return false
}

func (e *Entry) addNode(addr string) {
	if !e.hasNode(addr) {
		e.Nodes = append(e.Nodes, addr)
	}
}

func (e *Entry) removeNode(addr string) {
	out := e.Nodes[:0]
	for _, n := range e.Nodes {
		if n != addr {
			out = append(out, n)
		}
	}
	e.Nodes = out
}

// Metainfo is the tracker's in-memory, mutex-guarded view of the snapshot
// file. Mutation discipline: publish/close mutate under mu and the caller
// immediately calls Save (temp file + rename).
type Metainfo struct {
	mu          sync.Mutex
	path        string
	TrackerAddr string
	Files       map[string]*Entry
}

// New creates an empty, in-memory Metainfo for trackerAddr, durable at path.
func New(path, trackerAddr string) *Metainfo {
	return &Metainfo{
		path:        path,
		TrackerAddr: trackerAddr,
		Files:       make(map[string]*Entry),
	}
}

// document is the on-disk JSON shape: a flat object keyed by filename, plus
// the "tracker_addr" singleton key.
type document map[string]json.RawMessage

// Load reads path if it exists, else returns a fresh Metainfo for
// trackerAddr. Always a full snapshot read, never a partial update.
func Load(path, trackerAddr string) (*Metainfo, error) {
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return New(path, trackerAddr), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metainfo: %w", err)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode metainfo: %w", err)
	}
	m := New(path, trackerAddr)
	for k, raw := range doc {
		if k == "tracker_addr" {
			var addr string
			if err := json.Unmarshal(raw, &addr); err == nil {
				m.TrackerAddr = addr
			}
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode metainfo entry %q: %w", k, err)
		}
		m.Files[k] = &e
	}
	return m, nil
}

// Save rewrites path atomically: write to a temp file in the same
// directory then rename over the target, so readers never see a partial
// snapshot. Takes mu itself so it can be called right after Merge/
// ReplaceForPeer/RemoveNode release it without racing a concurrent
// mutation of Files.
func (m *Metainfo) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := make(document, len(m.Files)+1)
	addr, err := json.Marshal(m.TrackerAddr)
	if err != nil {
		return err
	}
	doc["tracker_addr"] = addr
	for k, e := range m.Files {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		doc[k] = b
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := ioutil.WriteFile(tmp, b, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Merge applies the Metainfo update rule: for each incoming (filename,
// FileInfo), union nodeAddr into the entry's nodes, creating the entry if
// it doesn't exist yet.
func (m *Metainfo) Merge(incoming map[string]piece.FileInfo, nodeAddr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for filename, info := range incoming {
		e, ok := m.Files[filename]
		if !ok {
			e = &Entry{FileSize: info.FileSize, PieceSize: info.PieceSize, PieceCount: info.PieceCount}
			m.Files[filename] = e
		}
		e.addNode(nodeAddr)
	}
}

// ReplaceForPeer drops nodeAddr from every file it was previously recorded
// against, then re-adds it per Merge's rule for the files named in
// incoming: publish additively merges Metainfo overall but replaces the
// publishing peer's own file_info.
func (m *Metainfo) ReplaceForPeer(incoming map[string]piece.FileInfo, nodeAddr string) {
	m.mu.Lock()
	for filename, e := range m.Files {
		if _, keep := incoming[filename]; !keep {
			e.removeNode(nodeAddr)
			if len(e.Nodes) == 0 {
				delete(m.Files, filename)
			}
		}
	}
	m.mu.Unlock()
	m.Merge(incoming, nodeAddr)
}

// RemoveNode removes nodeAddr from every file's node set, deleting any file
// entry left with zero nodes. Called when a peer sends "close" or drops
// its control connection.
func (m *Metainfo) RemoveNode(nodeAddr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for filename, e := range m.Files {
		e.removeNode(nodeAddr)
		if len(e.Nodes) == 0 {
			delete(m.Files, filename)
		}
	}
}

// Lookup returns the Entry for filename and whether it exists.
func (m *Metainfo) Lookup(filename string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Files[filename]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Filenames returns every filename in Metainfo, excluding tracker_addr.
func (m *Metainfo) Filenames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Files))
	for k := range m.Files {
		out = append(out, k)
	}
	return out
}
