// Package trackerserver implements the Tracker Registry: an acceptor
// goroutine handshakes incoming peer connections and hands each off to a
// per-peer handler goroutine. PeerRecords are held in a mutex-guarded map
// keyed by the peer's advertised "ip:control_port:upload_port".
package trackerserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lamcao1206/simple-torrent-application/internal/logger"
	"github.com/lamcao1206/simple-torrent-application/internal/metainfo"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
	"github.com/lamcao1206/simple-torrent-application/internal/wire"
)

const (
	handshakeTimeout = 5 * time.Second
	closeSendTimeout = 4 * time.Second
)

// PeerRecord is the tracker's view of one registered peer.
type PeerRecord struct {
	PeerIP      string
	ControlPort int
	UploadPort  int
	FileInfo    map[string]piece.FileInfo

	conn net.Conn
	mu   sync.Mutex // guards writes to conn and the FileInfo field
}

func (r *PeerRecord) key() string {
	return fmt.Sprintf("%s:%d:%d", r.PeerIP, r.ControlPort, r.UploadPort)
}

func (r *PeerRecord) uploadAddr() string {
	return r.PeerIP + ":" + strconv.Itoa(r.UploadPort)
}

func (r *PeerRecord) fileInfo() map[string]piece.FileInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FileInfo
}

func (r *PeerRecord) setFileInfo(info map[string]piece.FileInfo) {
	r.mu.Lock()
	r.FileInfo = info
	r.mu.Unlock()
}

func (r *PeerRecord) send(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(closeSendTimeout))
	defer r.conn.SetWriteDeadline(time.Time{})
	return wire.WriteFrame(r.conn, s)
}

// sendJSON writes v under the same per-PeerRecord lock send uses, so a
// handler's fetch/discover reply and a concurrent shutdown broadcast never
// interleave frames on the same connection. Bounded by the same write
// deadline as send, so a peer that stopped reading its socket can't hold
// r.mu forever and stall other goroutines that need it (fileInfo/setFileInfo).
func (r *PeerRecord) sendJSON(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(closeSendTimeout))
	defer r.conn.SetWriteDeadline(time.Time{})
	return wire.WriteJSON(r.conn, v)
}

// Registry is the Tracker Registry.
type Registry struct {
	log           logger.Logger
	maxFrameBytes int
	addr          string

	mi *metainfo.Metainfo

	mu    sync.Mutex
	peers map[string]*PeerRecord

	listener net.Listener
}

// New wires a fresh Registry around an already-loaded Metainfo.
func New(addr string, mi *metainfo.Metainfo, maxFrameBytes int, log logger.Logger) (*Registry, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = wire.DefaultMaxFrameBytes
	}
	return &Registry{
		log:           log,
		maxFrameBytes: maxFrameBytes,
		addr:          addr,
		mi:            mi,
		peers:         make(map[string]*PeerRecord),
		listener:      ln,
	}, nil
}

// Addr returns the bound listener address.
func (t *Registry) Addr() net.Addr { return t.listener.Addr() }

// Serve runs the acceptor loop until the listener closes.
func (t *Registry) Serve() error {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return err
		}
		go t.handshake(conn)
	}
}

// Close stops accepting new connections and broadcasts a best-effort
// "tracker close" notification to every registered peer.
func (t *Registry) Close() error {
	t.mu.Lock()
	records := make([]*PeerRecord, 0, len(t.peers))
	for _, r := range t.peers {
		records = append(records, r)
	}
	t.mu.Unlock()

	var g errgroup.Group
	for _, r := range records {
		r := r
		g.Go(func() error {
			return r.send("tracker close")
		})
	}
	if err := g.Wait(); err != nil {
		t.log.Debugln("tracker: shutdown broadcast:", err)
	}
	return t.listener.Close()
}

func (t *Registry) handshake(conn net.Conn) {
	id := uuid.NewV4().String()[:8] // satori/go.uuid: NewV4 returns a value, never an error
	r := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	greeting, err := wire.ReadFrame(r, t.maxFrameBytes)
	if err != nil || strings.TrimSpace(greeting) != "First Connection" {
		t.log.Debugln("tracker: handshake", id, "bad greeting:", err)
		conn.Close()
		return
	}

	frame, err := wire.ReadFrame(r, t.maxFrameBytes)
	if err != nil {
		t.log.Debugln("tracker: handshake", id, "read info:", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	fields, jsonTail, err := wire.SplitJSONTail(frame, 3)
	if err != nil {
		t.log.Debugln("tracker: handshake", id, "malformed frame:", err)
		conn.Close()
		return
	}
	ip := fields[0]
	cport, err1 := strconv.Atoi(fields[1])
	uport, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		t.log.Debugln("tracker: handshake", id, "bad ports:", fields)
		conn.Close()
		return
	}

	var fileInfo map[string]piece.FileInfo
	if err := json.Unmarshal([]byte(jsonTail), &fileInfo); err != nil {
		t.log.Debugln("tracker: handshake", id, "bad file_info json:", err)
		conn.Close()
		return
	}

	record := &PeerRecord{PeerIP: ip, ControlPort: cport, UploadPort: uport, FileInfo: fileInfo, conn: conn}

	t.mu.Lock()
	t.peers[record.key()] = record
	t.mu.Unlock()

	t.mi.Merge(fileInfo, record.uploadAddr())
	if err := t.mi.Save(); err != nil {
		t.log.Warningln("tracker: save metainfo:", err)
	}

	if err := wire.WriteFrame(conn, "Connected"); err != nil {
		t.log.Debugln("tracker: handshake", id, "send Connected:", err)
		t.drop(record)
		conn.Close()
		return
	}

	t.log.Infoln("tracker: peer registered", record.key(), "id", id)
	t.handle(r, record)
}

func (t *Registry) handle(r *bufio.Reader, record *PeerRecord) {
	defer record.conn.Close()
	for {
		frame, err := wire.ReadFrame(r, t.maxFrameBytes)
		if err != nil {
			t.log.Debugln("tracker: peer", record.key(), "disconnected:", err)
			t.drop(record)
			return
		}
		verb, rest := wire.Verb(frame)
		switch verb {
		case "fetch":
			t.handleFetch(record, rest)
		case "publish":
			t.handlePublish(record, rest)
		case "discover":
			t.handleDiscover(record)
		case "close":
			t.drop(record)
			return
		default:
			record.send("unknown verb: " + verb)
		}
	}
}

func (t *Registry) drop(record *PeerRecord) {
	t.mu.Lock()
	delete(t.peers, record.key())
	t.mu.Unlock()

	t.mi.RemoveNode(record.uploadAddr())
	if err := t.mi.Save(); err != nil {
		t.log.Warningln("tracker: save metainfo on drop:", err)
	}
	t.log.Infoln("tracker: peer removed", record.key())
}

// fetchPeerInfo is one entry of the JSON map returned by fetch.
type fetchPeerInfo struct {
	PeerIP     string `json:"peer_ip"`
	IPAddr     string `json:"ip_addr"`
	UploadPort int    `json:"upload_port"`
}

func (t *Registry) handleFetch(record *PeerRecord, rest string) {
	filenames := wire.Fields(rest)
	resp := make(map[string]interface{}, len(filenames)+2)
	var notFound []string

	t.mu.Lock()
	peers := make([]*PeerRecord, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, f := range filenames {
		if _, ok := t.mi.Lookup(f); !ok {
			notFound = append(notFound, f)
			continue
		}
		for _, p := range peers {
			if _, held := p.fileInfo()[f]; !held {
				continue
			}
			// Keyed by upload identity, not control port: control ports are
			// not guaranteed distinct across peers sharing an advertised IP,
			// but each peer's OS-assigned upload port is.
			resp[p.uploadAddr()] = fetchPeerInfo{PeerIP: p.PeerIP, IPAddr: p.PeerIP, UploadPort: p.UploadPort}
		}
	}
	resp["tracker_ip"] = t.addr
	resp["not_found"] = notFound

	if err := record.sendJSON(resp); err != nil {
		t.log.Debugln("tracker: write fetch response:", err)
	}
}

func (t *Registry) handlePublish(record *PeerRecord, rest string) {
	var incoming map[string]piece.FileInfo
	if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &incoming); err != nil {
		record.send("error: malformed file_info json")
		return
	}

	record.setFileInfo(incoming)
	t.mi.ReplaceForPeer(incoming, record.uploadAddr())
	if err := t.mi.Save(); err != nil {
		record.send("error: " + err.Error())
		return
	}
	record.send("OK")
}

func (t *Registry) handleDiscover(record *PeerRecord) {
	if err := record.sendJSON(t.mi.Filenames()); err != nil {
		t.log.Debugln("tracker: write discover response:", err)
	}
}

// Peers returns a snapshot of currently registered peers, for the
// operator shell's `list` command.
func (t *Registry) Peers() []PeerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PeerRecord, 0, len(t.peers))
	for _, r := range t.peers {
		out = append(out, PeerRecord{PeerIP: r.PeerIP, ControlPort: r.ControlPort, UploadPort: r.UploadPort, FileInfo: r.fileInfo()})
	}
	return out
}
