// Package recorder taps the raw incoming stream into a pass-through ffmpeg
// process that writes a timestamped mp4 file.
package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/subprocess"
)

var log = logging.DefaultLogger.WithTag("recorder")

const (
	DefaultQueueLength = 1024

	fileTimeFormat = "20060102-150405"
)

type Config struct {
	// Engine binary. Defaults to subprocess.DefaultBinary.
	Binary string

	// Directory for recordings. Created if missing.
	Dir string

	// Chunks buffered between the tap and the writer.
	QueueLength int

	// Builds the command that writes stdin to path. Defaults to Command.
	Command func(binary, path string) subprocess.Command

	// Clock for file names.
	Now func() time.Time
}

// Command copies an mpegts stream from stdin into an mp4 container at path,
// without re-encoding.
func Command(binary, path string) subprocess.Command {
	return subprocess.Command{
		Binary: binary,
		Args: []string{
			"-hide_banner",
			"-loglevel", "warning",
			"-y",
			"-f", "mpegts",
			"-i", "pipe:0",
			"-c", "copy",
			"-f", "mp4",
			path,
		},
		Stdin: true,
	}
}

// Session is the recording side-channel of a viewer. Start and Stop toggle
// it; Write is the tap called for every received chunk.
type Session struct {
	cfg Config

	// Guards recording, stdin and queue together.
	mu        sync.Mutex
	recording bool
	stdin     io.WriteCloser
	queue     chan []byte

	proc    *subprocess.Process
	path    string
	written chan struct{}
	dropped int
}

func New(cfg Config) *Session {
	if cfg.QueueLength <= 0 {
		cfg.QueueLength = DefaultQueueLength
	}
	if cfg.Command == nil {
		cfg.Command = Command
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{cfg: cfg}
}

// IsRecording reports whether the tap is active.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Path of the current or most recent recording.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Start spawns the record process and begins accepting chunks. It is a no-op
// when already recording.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return nil
	}

	if err := os.MkdirAll(s.cfg.Dir, 0755); err != nil {
		return errors.Wrap(err, "create save directory")
	}
	path, err := reserve(s.cfg.Dir, "alohacast-"+s.cfg.Now().Format(fileTimeFormat))
	if err != nil {
		return err
	}

	proc, err := subprocess.Start(s.cfg.Command(s.cfg.Binary, path))
	if err != nil {
		os.Remove(path)
		return errors.Wrap(err, "spawn recorder")
	}

	s.recording = true
	s.stdin = proc.Stdin
	s.queue = make(chan []byte, s.cfg.QueueLength)
	s.proc = proc
	s.path = path
	s.written = make(chan struct{})
	s.dropped = 0

	go s.writeLoop(s.queue, s.stdin, s.written)

	log.Info("Recording to %s", path)
	return nil
}

// reserve creates an empty dir/base.mp4, or dir/base-N.mp4 when that exists,
// so a recording never overwrites an earlier one from the same second.
func reserve(dir, base string) (string, error) {
	for i := 1; i < 1000; i++ {
		name := base + ".mp4"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.mp4", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "create recording")
		}
		f.Close()
		return path, nil
	}
	return "", errors.Errorf("too many recordings named %s in %s", base, dir)
}

// Write queues a copy of p when recording. It never blocks; chunks are
// dropped when the writer falls behind.
func (s *Session) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.recording {
		return
	}
	select {
	case s.queue <- append([]byte(nil), p...):
	default:
		s.dropped++
	}
}

// Stop closes the record input, waits for the container to be finalized,
// and probes the result. It is a no-op when not recording.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil
	}
	s.recording = false
	close(s.queue)
	s.queue = nil
	s.stdin = nil
	proc, path, written, dropped := s.proc, s.path, s.written, s.dropped
	s.proc = nil
	s.mu.Unlock()

	<-written
	proc.CloseStdin()
	if err := proc.Wait(); err != nil {
		log.Warn("Recorder exited: %v", err)
	}
	if dropped > 0 {
		log.Warn("Recording %s dropped %d chunks", path, dropped)
	}

	streams, err := Probe(path)
	if err != nil {
		log.Debug("Probe %s: %v", path, err)
	} else {
		for _, st := range streams {
			log.Info("Recorded %s: %s", path, st)
		}
	}
	return nil
}

// writeLoop drains queue into w. On a write error it keeps draining so the
// tap never blocks, but discards everything.
func (s *Session) writeLoop(queue <-chan []byte, w io.Writer, done chan<- struct{}) {
	defer close(done)

	var broken bool
	for chunk := range queue {
		if broken {
			continue
		}
		if _, err := w.Write(chunk); err != nil {
			log.Warn("Recorder input closed: %v", err)
			broken = true
		}
	}
}
