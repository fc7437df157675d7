// Command tracker runs the Tracker Registry daemon and a minimal operator
// shell on stdin exposing list/exit.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/lamcao1206/simple-torrent-application/internal/config"
	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/metainfo"
	"github.com/lamcao1206/simple-torrent-application/internal/trackerserver"
)

func main() {
	configPath := flag.String("config", "", "path to tracker YAML config")
	flag.Parse()

	log := logger.New("tracker")
	warn := color.New(color.FgYellow).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	cfg, err := config.LoadTrackerConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, warn("load config:"), err)
		os.Exit(1)
	}

	mi, err := metainfo.Load(cfg.MetainfoPath, cfg.ListenAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, warn("load metainfo:"), err)
		os.Exit(1)
	}

	registry, err := trackerserver.New(cfg.ListenAddr, mi, cfg.MaxFrameBytes, log)
	if err != nil {
		// Bind failure is unrecoverable: abort the process.
		fmt.Fprintln(os.Stderr, warn("bind listener:"), err)
		os.Exit(1)
	}
	fmt.Println(ok("tracker listening on"), registry.Addr())

	go func() {
		if err := registry.Serve(); err != nil {
			log.Warningln("accept loop stopped:", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	shellDone := make(chan struct{})
	go runShell(registry, shellDone)

	select {
	case <-sigc:
	case <-shellDone:
	}
	fmt.Println(ok("shutting down, notifying peers..."))
	registry.Close()
}

func runShell(registry *trackerserver.Registry, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "exit", "quit":
			return
		case "list":
			for _, p := range registry.Peers() {
				fmt.Printf("%s:%d control=%d files=%d\n", p.PeerIP, p.UploadPort, p.ControlPort, len(p.FileInfo))
			}
		default:
			fmt.Println("unknown command:", line, "(try: list, exit)")
		}
	}
}
