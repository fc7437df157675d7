package metainfo

import (
	"path/filepath"
	"testing"

	"github.com/lamcao1206/simple-torrent-application/internal/piece"
)

func TestMergeCreatesEntryAndUnionsNodes(t *testing.T) {
	m := New("unused", "127.0.0.1:8000")
	info := piece.NewFileInfo(1048576, 524288)

	m.Merge(map[string]piece.FileInfo{"1MB.txt": info}, "10.0.0.1:4000")
	m.Merge(map[string]piece.FileInfo{"1MB.txt": info}, "10.0.0.2:4001")

	e, ok := m.Lookup("1MB.txt")
	if !ok {
		t.Fatalf("expected entry to exist")
	}
	if len(e.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %v", e.Nodes)
	}

	// merging the same node again must not duplicate it.
	m.Merge(map[string]piece.FileInfo{"1MB.txt": info}, "10.0.0.1:4000")
	e, _ = m.Lookup("1MB.txt")
	if len(e.Nodes) != 2 {
		t.Fatalf("expected merge to be idempotent, got %v", e.Nodes)
	}
}

func TestRemoveNodeDeletesEmptyEntries(t *testing.T) {
	m := New("unused", "127.0.0.1:8000")
	info := piece.NewFileInfo(10, 5)
	m.Merge(map[string]piece.FileInfo{"a.txt": info}, "10.0.0.1:4000")
	m.Merge(map[string]piece.FileInfo{"b.txt": info}, "10.0.0.1:4000")
	m.Merge(map[string]piece.FileInfo{"b.txt": info}, "10.0.0.2:4001")

	m.RemoveNode("10.0.0.1:4000")

	if _, ok := m.Lookup("a.txt"); ok {
		t.Fatalf("a.txt should have been removed, it had only one node")
	}
	e, ok := m.Lookup("b.txt")
	if !ok || len(e.Nodes) != 1 || e.Nodes[0] != "10.0.0.2:4001" {
		t.Fatalf("expected b.txt to retain only 10.0.0.2:4001, got %+v", e)
	}
}

func TestReplaceForPeerReplacesOwnEntriesOnly(t *testing.T) {
	m := New("unused", "127.0.0.1:8000")
	info := piece.NewFileInfo(10, 5)
	m.Merge(map[string]piece.FileInfo{"a.txt": info, "b.txt": info}, "10.0.0.1:4000")
	m.Merge(map[string]piece.FileInfo{"b.txt": info}, "10.0.0.2:4001")

	// Peer 10.0.0.1:4000 republishes with only c.txt now.
	m.ReplaceForPeer(map[string]piece.FileInfo{"c.txt": info}, "10.0.0.1:4000")

	if _, ok := m.Lookup("a.txt"); ok {
		t.Fatalf("a.txt should be gone: only node was replaced")
	}
	if e, ok := m.Lookup("b.txt"); !ok || len(e.Nodes) != 1 || e.Nodes[0] != "10.0.0.2:4001" {
		t.Fatalf("b.txt should still have the other peer's node, got %+v, ok=%v", e, ok)
	}
	if _, ok := m.Lookup("c.txt"); !ok {
		t.Fatalf("c.txt should have been added")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metainfo.json")

	m := New(path, "127.0.0.1:8000")
	info := piece.NewFileInfo(1048576, 524288)
	m.Merge(map[string]piece.FileInfo{"1MB.txt": info}, "10.0.0.1:4000")
	if err := m.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, "ignored")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TrackerAddr != "127.0.0.1:8000" {
		t.Fatalf("tracker addr not preserved: %q", loaded.TrackerAddr)
	}
	e, ok := loaded.Lookup("1MB.txt")
	if !ok || e.PieceCount != 2 || len(e.Nodes) != 1 {
		t.Fatalf("unexpected loaded entry: %+v ok=%v", e, ok)
	}
}

func TestLoadMissingFileReturnsFreshMetainfo(t *testing.T) {
	m, err := Load("/nonexistent/path/metainfo.json", "127.0.0.1:8000")
	if err != nil {
		t.Fatalf("load missing file should not error: %v", err)
	}
	if len(m.Filenames()) != 0 {
		t.Fatalf("expected empty metainfo")
	}
}
