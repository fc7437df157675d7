package downloadmgr

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/metainfo"
	"github.com/lamcao1206/simple-torrent-application/internal/peerserver"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
	"github.com/lamcao1206/simple-torrent-application/internal/piecestore"
	"github.com/lamcao1206/simple-torrent-application/internal/trackerclient"
	"github.com/lamcao1206/simple-torrent-application/internal/trackerserver"
)

// TestFetchSingleSourceReconstructsFile exercises scenario S1: one seeding
// peer holds a whole file, an empty peer fetches it end to end through a
// real tracker and a real peer server, and the combined file matches
// byte-for-byte (property P1).
func TestFetchSingleSourceReconstructsFile(t *testing.T) {
	log := logger.New("test")

	trackerDir := t.TempDir()
	mi := metainfo.New(filepath.Join(trackerDir, "metainfo.json"), "127.0.0.1:0")
	tracker, err := trackerserver.New("127.0.0.1:0", mi, 0, log)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	go tracker.Serve()
	defer tracker.Close()
	trackerAddr := tracker.Addr().String()

	// Seed peer: ingest a file, start its upload server, register with the
	// tracker advertising that file.
	seedSrcDir := t.TempDir()
	seedPiecesDir := t.TempDir()
	data := make([]byte, 34)
	rand.Read(data)
	srcPath := filepath.Join(seedSrcDir, "1MB.txt")
	if err := os.WriteFile(srcPath, data, 0640); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	seedStore, err := piecestore.New(seedPiecesDir, 10, log)
	if err != nil {
		t.Fatalf("new seed store: %v", err)
	}
	if err := seedStore.Ingest(srcPath); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	seedServer, err := peerserver.New("127.0.0.1:0", seedStore, 0, log)
	if err != nil {
		t.Fatalf("new seed peer server: %v", err)
	}
	go seedServer.Serve()
	defer seedServer.Close()
	seedUploadPort := seedServer.Port()

	seedInfo, _ := seedStore.FileInfoFor("1MB.txt")
	seedClient, err := trackerclient.Connect(trackerAddr, "127.0.0.1", 19001, seedUploadPort, map[string]piece.FileInfo{"1MB.txt": seedInfo})
	if err != nil {
		t.Fatalf("seed connect: %v", err)
	}
	defer seedClient.Close()

	// Fetching peer: empty store, its own tracker control connection.
	fetchPiecesDir := t.TempDir()
	fetchRepoDir := t.TempDir()
	fetchTempDir := t.TempDir()

	fetchStore, err := piecestore.New(fetchPiecesDir, 10, log)
	if err != nil {
		t.Fatalf("new fetch store: %v", err)
	}

	fetchClient, err := trackerclient.Connect(trackerAddr, "127.0.0.1", 19002, 19003, map[string]piece.FileInfo{})
	if err != nil {
		t.Fatalf("fetch connect: %v", err)
	}
	defer fetchClient.Close()

	mgr := New(fetchStore, fetchClient, fetchRepoDir, fetchTempDir, log)
	defer mgr.Close()

	if err := mgr.Fetch([]string{"1MB.txt"}, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(fetchRepoDir, "1MB.txt"))
	if err != nil {
		t.Fatalf("read combined file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("combined file does not match original")
	}

	// The fetching peer should have republished its new inventory.
	time.Sleep(50 * time.Millisecond)
	names, err := fetchClient.Discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "1MB.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 1MB.txt in discover after fetch, got %v", names)
	}
}
