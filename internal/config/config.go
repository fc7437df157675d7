// Package config loads the YAML configuration files for the tracker and
// peer daemons.
package config

import (
	"io/ioutil"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	yaml "gopkg.in/yaml.v1"
)

// DefaultPieceSize is the default fixed piece size, 512 KiB.
const DefaultPieceSize = 524288

// TrackerConfig configures the tracker daemon.
type TrackerConfig struct {
	// ListenAddr is host:port the acceptor binds to, e.g. "127.0.0.1:8000".
	ListenAddr string `yaml:"listen_addr"`

	// MetainfoPath is the sole durable snapshot file.
	MetainfoPath string `yaml:"metainfo_path"`

	// HandshakeTimeoutSeconds is loaded but not read by trackerserver,
	// which uses a fixed 5-second receive timeout on freshly accepted
	// sockets during the handshake window.
	HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`

	// CloseTimeoutSeconds is loaded but not read by trackerserver, which
	// uses a fixed 4-second write deadline on every send to a peer,
	// including the shutdown broadcast.
	CloseTimeoutSeconds int `yaml:"close_timeout_seconds"`

	// MaxFrameBytes bounds request line reads.
	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

// DefaultTrackerConfig is a package-level value callers start from and
// override.
var DefaultTrackerConfig = TrackerConfig{
	ListenAddr:              "127.0.0.1:8000",
	MetainfoPath:            "~/.swarmd/tracker/metainfo.json",
	HandshakeTimeoutSeconds: 5,
	CloseTimeoutSeconds:     4,
	MaxFrameBytes:           1024,
}

// PeerConfig configures a peer node daemon.
type PeerConfig struct {
	// TrackerAddr is the tracker's host:port.
	TrackerAddr string `yaml:"tracker_addr"`

	// AdvertisedIP is the IP this node announces to the tracker and other
	// peers; it need not match the local interface address under NAT.
	AdvertisedIP string `yaml:"advertised_ip"`

	// UploadListenAddr is the address the peer server binds to; an empty
	// port lets the OS assign one.
	UploadListenAddr string `yaml:"upload_listen_addr"`

	RepoDir   string `yaml:"repo_dir"`
	PiecesDir string `yaml:"pieces_dir"`
	TempDir   string `yaml:"temp_dir"`

	PieceSize int `yaml:"piece_size"`

	PingTimeoutSeconds int `yaml:"ping_timeout_seconds"`

	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

// DefaultPeerConfig is a package-level value callers start from and
// override.
var DefaultPeerConfig = PeerConfig{
	TrackerAddr:        "127.0.0.1:8000",
	AdvertisedIP:       "127.0.0.1",
	UploadListenAddr:   "127.0.0.1:0",
	RepoDir:            "~/.swarmd/peer/repo",
	PiecesDir:          "~/.swarmd/peer/pieces",
	TempDir:            "~/.swarmd/peer/temp",
	PieceSize:          DefaultPieceSize,
	PingTimeoutSeconds: 2,
	MaxFrameBytes:      1024,
}

// LoadTrackerConfig reads filename, falling back to DefaultTrackerConfig if
// the file doesn't exist.
func LoadTrackerConfig(filename string) (*TrackerConfig, error) {
	c := DefaultTrackerConfig
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return expandTracker(&c)
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return expandTracker(&c)
}

// LoadPeerConfig reads filename, falling back to DefaultPeerConfig if the
// file doesn't exist.
func LoadPeerConfig(filename string) (*PeerConfig, error) {
	c := DefaultPeerConfig
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return expandPeer(&c)
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if c.PieceSize == 0 {
		c.PieceSize = DefaultPieceSize
	}
	return expandPeer(&c)
}

func expandTracker(c *TrackerConfig) (*TrackerConfig, error) {
	p, err := homedir.Expand(c.MetainfoPath)
	if err != nil {
		return nil, err
	}
	c.MetainfoPath = p
	return c, nil
}

func expandPeer(c *PeerConfig) (*PeerConfig, error) {
	for _, dir := range []*string{&c.RepoDir, &c.PiecesDir, &c.TempDir} {
		p, err := homedir.Expand(*dir)
		if err != nil {
			return nil, err
		}
		*dir = p
	}
	return c, nil
}
