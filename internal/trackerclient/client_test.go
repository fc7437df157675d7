package trackerclient

import (
	"path/filepath"
	"testing"

	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/metainfo"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
	"github.com/lamcao1206/simple-torrent-application/internal/trackerserver"
)

func startTracker(t *testing.T) *trackerserver.Registry {
	t.Helper()
	dir := t.TempDir()
	mi := metainfo.New(filepath.Join(dir, "metainfo.json"), "127.0.0.1:0")
	reg, err := trackerserver.New("127.0.0.1:0", mi, 0, logger.New("test"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	go reg.Serve()
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestConnectPublishFetchDiscoverRoundTrip(t *testing.T) {
	reg := startTracker(t)
	addr := reg.Addr().String()

	info := map[string]piece.FileInfo{
		"1MB.txt": {FileSize: 1048576, PieceSize: 524288, PieceCount: 2},
	}
	client, err := Connect(addr, "127.0.0.1", 9501, 9502, info)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	names, err := client.Discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(names) != 1 || names[0] != "1MB.txt" {
		t.Fatalf("expected [1MB.txt], got %v", names)
	}

	result, err := client.Fetch([]string{"1MB.txt", "ghost.txt"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.NotFound) != 1 || result.NotFound[0] != "ghost.txt" {
		t.Fatalf("expected not_found=[ghost.txt], got %v", result.NotFound)
	}
	if len(result.Peers) != 1 {
		t.Fatalf("expected 1 peer entry, got %v", result.Peers)
	}

	newInfo := map[string]piece.FileInfo{
		"2MB.txt": {FileSize: 2097152, PieceSize: 524288, PieceCount: 4},
	}
	if err := client.Publish(newInfo); err != nil {
		t.Fatalf("publish: %v", err)
	}

	names, err = client.Discover()
	if err != nil {
		t.Fatalf("discover after publish: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "2MB.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 2MB.txt after publish, got %v", names)
	}
}

func TestConnectSucceedsWithEmptyInventory(t *testing.T) {
	reg := startTracker(t)
	addr := reg.Addr().String()

	client, err := Connect(addr, "127.0.0.1", 9601, 9602, map[string]piece.FileInfo{})
	if err != nil {
		t.Fatalf("connect with empty file info: %v", err)
	}
	client.Close()
}
