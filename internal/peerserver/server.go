// Package peerserver implements the Peer Server: it listens on an
// OS-chosen port and spawns one goroutine per accepted connection, serving
// the "find" and "request" verbs directly rather than through a shared
// event loop.
package peerserver

import (
	"bufio"
	"net"
	"strconv"
	"strings"

	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/piecestore"
	"github.com/lamcao1206/simple-torrent-application/internal/wire"
)

// Server is the peer-local upload server.
type Server struct {
	store         *piecestore.Store
	log           logger.Logger
	maxFrameBytes int

	listener net.Listener
}

// New wires store to a freshly created listener at addr ("host:0" lets the
// OS choose the port).
func New(addr string, store *piecestore.Store, maxFrameBytes int, log logger.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = wire.DefaultMaxFrameBytes
	}
	return &Server{store: store, log: log, maxFrameBytes: maxFrameBytes, listener: ln}, nil
}

// Addr returns the bound address, including the OS-assigned port.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Port returns the bound TCP port.
func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

// Serve runs the accept loop until the listener is closed. Every accepted
// connection gets its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// handle serves exactly one request per connection: strictly
// request/response, no pipelining.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	frame, err := wire.ReadFrame(r, s.maxFrameBytes)
	if err != nil {
		s.log.Debugln("peer server: read request:", err)
		return
	}
	verb, rest := wire.Verb(frame)
	switch verb {
	case "find":
		s.handleFind(conn, rest)
	case "request":
		s.handleRequest(conn, rest)
	default:
		// Unknown verbs: close silently.
		s.log.Debugln("peer server: unknown verb", verb)
	}
}

func (s *Server) handleFind(conn net.Conn, rest string) {
	filenames := wire.Fields(rest)
	if len(filenames) == 0 {
		return
	}
	avail := s.store.ListPiecesFor(filenames)
	resp := make(map[string][]string, len(avail))
	for filename, ids := range avail {
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = strconv.FormatUint(uint64(id), 10)
		}
		resp[filename] = strs
	}
	if err := wire.WriteJSON(conn, resp); err != nil {
		s.log.Debugln("peer server: write find response:", err)
	}
}

func (s *Server) handleRequest(conn net.Conn, rest string) {
	pieceFilename := strings.TrimSpace(rest)
	if pieceFilename == "" {
		return
	}
	data, err := s.store.ReadPiece(pieceFilename)
	if err != nil {
		// IO error during request streaming: close without retry, the
		// downloader decides whether to retry.
		s.log.Debugln("peer server: read piece for request:", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		s.log.Debugln("peer server: stream piece bytes:", err)
	}
}

