// Package trackerclient is the peer-side counterpart of trackerserver: it
// dials the tracker, performs the handshake, and issues the fetch/publish/
// discover/close control verbs over the TCP+ASCII+JSON protocol.
package trackerclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/lamcao1206/simple-torrent-application/internal/errs"
	"github.com/lamcao1206/simple-torrent-application/internal/piece"
	"github.com/lamcao1206/simple-torrent-application/internal/wire"
)

// PeerEntry is one entry of a fetch response, naming a peer that holds at
// least one of the requested files.
type PeerEntry struct {
	PeerIP     string `json:"peer_ip"`
	IPAddr     string `json:"ip_addr"`
	UploadPort int    `json:"upload_port"`
}

// FetchResult is the decoded response to a "fetch" control verb.
type FetchResult struct {
	Peers     map[string]PeerEntry
	TrackerIP string
	NotFound  []string
}

// Client holds one live control connection to the tracker, opened by
// Connect and kept for the lifetime of the peer process.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Connect dials addr, performs the handshake advertising selfIP,
// controlPort, uploadPort and the local file inventory, and returns a ready
// Client.
func Connect(addr, selfIP string, controlPort, uploadPort int, fileInfo map[string]piece.FileInfo) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(conn, "First Connection"); err != nil {
		conn.Close()
		return nil, err
	}
	infoJSON, err := json.Marshal(fileInfo)
	if err != nil {
		conn.Close()
		return nil, err
	}
	frame := fmt.Sprintf("%s %d %d %s", selfIP, controlPort, uploadPort, infoJSON)
	if err := wire.WriteFrame(conn, frame); err != nil {
		conn.Close()
		return nil, err
	}

	r := bufio.NewReader(conn)
	reply, err := wire.ReadFrame(r, 0)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply != "Connected" {
		conn.Close()
		return nil, errs.New(errs.Protocol, fmt.Sprintf("tracker handshake rejected: %q", reply))
	}
	return &Client{conn: conn, r: r}, nil
}

// Close sends the "close" verb and tears down the control connection.
func (c *Client) Close() error {
	defer c.conn.Close()
	return wire.WriteFrame(c.conn, "close")
}

// Fetch issues "fetch <f1> <f2> ..." and decodes the peer-set response.
func (c *Client) Fetch(filenames []string) (*FetchResult, error) {
	req := "fetch"
	for _, f := range filenames {
		req += " " + f
	}
	if err := wire.WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	frame, err := wire.ReadFrame(c.r, 0)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(frame), &raw); err != nil {
		return nil, errs.Wrap(errs.Protocol, "decode fetch response", err)
	}

	result := &FetchResult{Peers: make(map[string]PeerEntry)}
	for k, v := range raw {
		switch k {
		case "tracker_ip":
			json.Unmarshal(v, &result.TrackerIP)
		case "not_found":
			json.Unmarshal(v, &result.NotFound)
		default:
			var entry PeerEntry
			if err := json.Unmarshal(v, &entry); err == nil {
				result.Peers[k] = entry
			}
		}
	}
	return result, nil
}

// Publish issues "publish <file_info_json>" and waits for "OK".
func (c *Client) Publish(fileInfo map[string]piece.FileInfo) error {
	infoJSON, err := json.Marshal(fileInfo)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(c.conn, "publish "+string(infoJSON)); err != nil {
		return err
	}
	reply, err := wire.ReadFrame(c.r, 0)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return errs.New(errs.Protocol, "publish rejected: "+reply)
	}
	return nil
}

// Discover issues "discover" and returns the tracker's known filenames.
func (c *Client) Discover() ([]string, error) {
	if err := wire.WriteFrame(c.conn, "discover"); err != nil {
		return nil, err
	}
	frame, err := wire.ReadFrame(c.r, 0)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(frame), &names); err != nil {
		return nil, errs.Wrap(errs.Protocol, "decode discover response", err)
	}
	return names, nil
}

// UploadAddr renders a peer's upload dial address from a PeerEntry.
func UploadAddr(e PeerEntry) string {
	return e.IPAddr + ":" + strconv.Itoa(e.UploadPort)
}
