//////////////////////////////////////////////////////////////////////////////
//
// FileSource streams a prerecorded file at roughly playback speed
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"io"
	"os"
	"sync"
	"time"
)

// FileSource reads a file no faster than a given bitrate, so viewers receive
// it at roughly playback speed. It can loop.
type FileSource struct {
	file    *os.File
	rate    int // bytes per second, 0 for unthrottled
	loop    bool
	started time.Time
	sent    int64
	closed  chan struct{}
	once    sync.Once
}

// OpenFileSource opens filename for casting at bitrate bits per second.
func OpenFileSource(filename string, bitrate int, loop bool) (*FileSource, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		file:   file,
		rate:   bitrate / 8,
		loop:   loop,
		closed: make(chan struct{}),
	}, nil
}

func (fs *FileSource) Read(p []byte) (int, error) {
	if fs.started.IsZero() {
		fs.started = time.Now()
	}

	if fs.rate > 0 {
		due := fs.started.Add(time.Duration(fs.sent) * time.Second / time.Duration(fs.rate))
		if d := time.Until(due); d > 0 {
			select {
			case <-time.After(d):
			case <-fs.closed:
				return 0, io.EOF
			}
		}
	}

	n, err := fs.file.Read(p)
	if err == io.EOF && fs.loop {
		log.Debug("Rewinding %s", fs.file.Name())
		if _, err = fs.file.Seek(0, io.SeekStart); err == nil {
			n, err = fs.file.Read(p)
		}
	}
	fs.sent += int64(n)
	return n, err
}

// Close the file. A pending Read returns io.EOF.
func (fs *FileSource) Close() error {
	var err error
	fs.once.Do(func() {
		close(fs.closed)
		err = fs.file.Close()
	})
	return err
}
