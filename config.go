//////////////////////////////////////////////////////////////////////////////
//
// Caster and viewer configuration
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/lanikai/alohacast/internal/capture"
	"github.com/lanikai/alohacast/internal/config"
	"github.com/lanikai/alohacast/internal/monitor"
	"github.com/lanikai/alohacast/internal/netutil"
	"github.com/lanikai/alohacast/internal/recorder"
	"github.com/lanikai/alohacast/internal/subprocess"
)

const (
	DefaultPort             = 8080
	DefaultChunkSize        = 1400
	DefaultReadTimeout      = 500 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultRetryInterval    = 200 * time.Millisecond

	// DefaultMaxDatagram leaves headroom over DefaultChunkSize. Larger
	// datagrams are truncated.
	DefaultMaxDatagram = 2048

	// Socket buffers sized for a few hundred milliseconds of 4 Mbit/s video.
	defaultSocketBuffer = 1 << 20
)

type CasterConfig struct {
	// Local UDP address for control and data. Defaults to ":8080".
	Addr string

	// Capture subprocess settings.
	Capture capture.Config

	// Saved crop rectangles, consulted in CropArea mode.
	Crops capture.CropStore

	// Screen enumeration. Defaults to capture.ListScreens.
	Screens func() ([]capture.Screen, error)

	// Chunk source used instead of the capture subprocess. Closed on Stop if
	// it is an io.Closer.
	Source io.Reader

	// Largest payload datagram.
	ChunkSize int

	// Per-viewer outbound queue length, in chunks.
	QueueLength int

	// Listener read timeout; bounds how long Stop waits for the listener.
	ReadTimeout time.Duration

	// Grace period between quit escalation steps for the capture process.
	GracePeriod time.Duration

	Socket netutil.SocketOptions

	// Optional event feed.
	Monitor *monitor.Server
}

func (cfg *CasterConfig) setDefaults() {
	if cfg.Addr == "" {
		cfg.Addr = ":" + strconv.Itoa(DefaultPort)
	}
	if cfg.Screens == nil {
		cfg.Screens = capture.ListScreens
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Socket == (netutil.SocketOptions{}) {
		cfg.Socket = netutil.SocketOptions{
			WriteBuffer: defaultSocketBuffer,
			TOS:         netutil.TOSVideo,
		}
	}
}

type ViewerConfig struct {
	// Caster address, "host:port". A bare host gets DefaultPort.
	Caster string

	// Engine binary for decoding and recording.
	Binary string

	// Frame conversion workers. Zero means one per CPU.
	Workers int

	// Directory for recordings.
	SaveDir string

	// Skip the same-LAN check.
	AllowRemote bool

	// Interfaces for the same-LAN check. Defaults to net.InterfaceAddrs.
	InterfaceAddrs netutil.AddrLister

	RetryInterval    time.Duration
	HandshakeTimeout time.Duration

	// Chunks buffered between the socket and the decoder.
	QueueLength int

	// Largest datagram accepted from the caster. Each queued chunk reserves
	// this much memory.
	MaxDatagram int

	GracePeriod time.Duration

	Socket netutil.SocketOptions

	// Shared resolver. Defaults to a private one.
	Resolver *netutil.Resolver

	// Decode command. Defaults to subprocess.DecodeCommand.
	Decode func(binary string) subprocess.Command

	// Record command. Defaults to recorder.Command.
	Record func(binary, path string) subprocess.Command

	// Optional event feed.
	Monitor *monitor.Server
}

func (cfg *ViewerConfig) setDefaults() {
	if _, _, err := net.SplitHostPort(cfg.Caster); err != nil {
		cfg.Caster = net.JoinHostPort(cfg.Caster, strconv.Itoa(DefaultPort))
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.QueueLength <= 0 {
		cfg.QueueLength = recorder.DefaultQueueLength
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = DefaultMaxDatagram
	}
	if cfg.Socket == (netutil.SocketOptions{}) {
		cfg.Socket = netutil.SocketOptions{ReadBuffer: defaultSocketBuffer}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = netutil.NewResolver(0)
	}
	if cfg.Decode == nil {
		cfg.Decode = subprocess.DecodeCommand
	}
}

// CasterConfigFrom maps a loaded config file onto a CasterConfig.
func CasterConfigFrom(c *config.Config, crops capture.CropStore) CasterConfig {
	return CasterConfig{
		Addr: ":" + strconv.Itoa(c.Caster.Port),
		Capture: capture.Config{
			Binary:    c.FFmpeg,
			Display:   c.Caster.Display,
			FrameRate: c.Caster.FrameRate,
			Bitrate:   c.Caster.Bitrate,
		},
		Crops:       crops,
		ChunkSize:   c.Caster.ChunkSize,
		QueueLength: c.Caster.QueueLength,
		ReadTimeout: c.Caster.ReadTimeout,
	}
}

// ViewerConfigFrom maps a loaded config file onto a ViewerConfig for the
// caster at host.
func ViewerConfigFrom(c *config.Config, host string) ViewerConfig {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(c.Viewer.Port))
	}
	maxDatagram := DefaultMaxDatagram
	if c.Caster.ChunkSize > maxDatagram {
		maxDatagram = c.Caster.ChunkSize
	}
	return ViewerConfig{
		Caster:           host,
		MaxDatagram:      maxDatagram,
		Binary:           c.FFmpeg,
		Workers:          c.Viewer.Workers,
		SaveDir:          c.Viewer.SaveDir,
		AllowRemote:      c.Viewer.AllowRemote,
		RetryInterval:    c.Viewer.RetryInterval,
		HandshakeTimeout: c.Viewer.HandshakeTimeout,
	}
}
