// Command peer runs a peer node: the Piece Store, the Peer Server, a
// tracker control connection, and a minimal operator shell on stdin
// exposing fetch/publish/close/discover/piece.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/lamcao1206/simple-torrent-application/internal/config"
	"github.com/lamcao1206/simple-torrent-application/internal/downloadmgr"
	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/peerserver"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
	"github.com/lamcao1206/simple-torrent-application/internal/piecestore"
	"github.com/lamcao1206/simple-torrent-application/internal/trackerclient"
)

const controlPort = 0 // the control connection is outbound-only; no listener needed for it

func main() {
	configPath := flag.String("config", "", "path to peer YAML config")
	flag.Parse()

	log := logger.New("peer")
	warn := color.New(color.FgYellow).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	cfg, err := config.LoadPeerConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, warn("load config:"), err)
		os.Exit(1)
	}

	store, err := piecestore.New(cfg.PiecesDir, uint32(cfg.PieceSize), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, warn("open piece store:"), err)
		os.Exit(1)
	}

	server, err := peerserver.New(cfg.UploadListenAddr, store, cfg.MaxFrameBytes, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, warn("bind upload listener:"), err)
		os.Exit(1)
	}
	go func() {
		if err := server.Serve(); err != nil {
			log.Warningln("upload accept loop stopped:", err)
		}
	}()
	fmt.Println(ok("peer upload server listening on"), server.Addr())

	inventory := currentInventory(store)
	tracker, err := trackerclient.Connect(cfg.TrackerAddr, cfg.AdvertisedIP, controlPort, server.Port(), inventory)
	if err != nil {
		fmt.Fprintln(os.Stderr, warn("connect to tracker:"), err)
		os.Exit(1)
	}
	fmt.Println(ok("registered with tracker at"), cfg.TrackerAddr)

	mgr := downloadmgr.New(store, tracker, cfg.RepoDir, cfg.TempDir, log)
	defer mgr.Close()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	shellDone := make(chan struct{})
	go runShell(store, tracker, mgr, cfg, shellDone)

	select {
	case <-sigc:
	case <-shellDone:
	}
	fmt.Println(ok("closing..."))
	tracker.Close()
	server.Close()
}

func currentInventory(store *piecestore.Store) map[string]piece.FileInfo {
	out := make(map[string]piece.FileInfo)
	for _, f := range store.Files() {
		if info, ok := store.FileInfoFor(f); ok {
			out[f] = info
		}
	}
	return out
}

func runShell(store *piecestore.Store, tracker *trackerclient.Client, mgr *downloadmgr.Manager, cfg *config.PeerConfig, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "exit", "quit", "close":
			return
		case "fetch":
			if len(fields) < 2 {
				fmt.Println("usage: fetch <file> [file...]")
				continue
			}
			if err := mgr.Fetch(fields[1:], nil); err != nil {
				fmt.Println("fetch error:", err)
			}
		case "publish":
			if err := tracker.Publish(currentInventory(store)); err != nil {
				fmt.Println("publish error:", err)
			}
		case "discover":
			names, err := tracker.Discover()
			if err != nil {
				fmt.Println("discover error:", err)
				continue
			}
			fmt.Println(strings.Join(names, ", "))
		case "piece":
			if len(fields) < 2 {
				fmt.Println("usage: piece <file>")
				continue
			}
			ids := store.ListPiecesFor(fields[1:2])[fields[1]]
			fmt.Println(ids)
		case "add":
			if len(fields) < 2 {
				fmt.Println("usage: add <path>")
				continue
			}
			path := fields[1]
			if err := store.Ingest(path); err != nil {
				fmt.Println("add error:", err)
				continue
			}
			if info, ok := store.FileInfoFor(filepath.Base(path)); ok {
				if err := tracker.Publish(map[string]piece.FileInfo{filepath.Base(path): info}); err != nil {
					fmt.Println("publish after add error:", err)
				}
			}
		case "ping":
			pingTracker(tracker, time.Duration(cfg.PingTimeoutSeconds)*time.Second)
		default:
			fmt.Println("unknown command:", fields[0], "(try: fetch, publish, discover, piece, add, ping, close)")
		}
	}
}

func pingTracker(tracker *trackerclient.Client, timeout time.Duration) {
	done := make(chan error, 1)
	go func() {
		_, err := tracker.Discover()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			fmt.Println("offline:", err)
			return
		}
		fmt.Println("online")
	case <-time.After(timeout):
		fmt.Println("offline")
	}
}
