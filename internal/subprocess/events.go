package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Event is something parsed from ffmpeg's stderr: StreamEvent, ProgressEvent
// or ErrorEvent.
type Event interface {
	event()
}

// Direction of a stream within the ffmpeg graph.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// StreamEvent describes a video stream, e.g.
//
//	Stream #0:0: Video: rawvideo (RGB[24] / 0x18424752), rgb24, 1920x1080, q=2-31, 30 fps
type StreamEvent struct {
	Direction   Direction
	File        int
	Index       int
	Codec       string
	PixelFormat string
	Width       int
	Height      int
	FPS         float64
}

// ProgressEvent is a periodic status line.
type ProgressEvent struct {
	Frame int
	FPS   float64
}

// ErrorEvent is a log line that looks like a failure.
type ErrorEvent struct {
	Line string
}

func (StreamEvent) event()   {}
func (ProgressEvent) event() {}
func (ErrorEvent) event()    {}

func (e StreamEvent) String() string {
	return fmt.Sprintf("%v #%d:%d %s %s %dx%d", e.Direction, e.File, e.Index, e.Codec, e.PixelFormat, e.Width, e.Height)
}

var (
	sectionRegexp  = regexp.MustCompile(`^(Input|Output) #(\d+),`)
	streamRegexp   = regexp.MustCompile(`^\s*Stream #(\d+):(\d+)\S*: Video: (.*)$`)
	geometryRegexp = regexp.MustCompile(`^(\d+)x(\d+)`)
	fpsRegexp      = regexp.MustCompile(`^([\d.]+) fps$`)
	progressRegexp = regexp.MustCompile(`frame=\s*(\d+)\s+fps=\s*([\d.]+)`)
)

// Parser turns ffmpeg log lines into events. Stream lines are attributed to
// the Input or Output section that precedes them.
type Parser struct {
	section Direction
}

// ParseLine returns nil for lines that carry no event.
func (p *Parser) ParseLine(line string) Event {
	if m := sectionRegexp.FindStringSubmatch(line); m != nil {
		if m[1] == "Output" {
			p.section = Output
		} else {
			p.section = Input
		}
		return nil
	}

	if m := streamRegexp.FindStringSubmatch(line); m != nil {
		ev := StreamEvent{Direction: p.section}
		ev.File, _ = strconv.Atoi(m[1])
		ev.Index, _ = strconv.Atoi(m[2])
		if !parseVideo(m[3], &ev) {
			return nil
		}
		return ev
	}

	if m := progressRegexp.FindStringSubmatch(line); m != nil {
		frame, _ := strconv.Atoi(m[1])
		fps, _ := strconv.ParseFloat(m[2], 64)
		return ProgressEvent{Frame: frame, FPS: fps}
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") || strings.Contains(lower, "invalid") {
		return ErrorEvent{Line: line}
	}
	return nil
}

// parseVideo reads "codec (...), pixfmt(...), WxH [...], ..., N fps, ...".
func parseVideo(desc string, ev *StreamEvent) bool {
	fields := splitTopLevel(desc)
	if len(fields) < 3 {
		return false
	}

	ev.Codec = strings.Fields(fields[0])[0]
	ev.PixelFormat = fields[1]
	if i := strings.IndexByte(ev.PixelFormat, '('); i >= 0 {
		ev.PixelFormat = ev.PixelFormat[:i]
	}
	ev.PixelFormat = strings.TrimSpace(ev.PixelFormat)

	found := false
	for _, f := range fields[2:] {
		if m := geometryRegexp.FindStringSubmatch(f); m != nil && !found {
			ev.Width, _ = strconv.Atoi(m[1])
			ev.Height, _ = strconv.Atoi(m[2])
			found = true
		} else if m := fpsRegexp.FindStringSubmatch(f); m != nil {
			ev.FPS, _ = strconv.ParseFloat(m[1], 64)
		}
	}
	return found
}

// splitTopLevel splits on ", " outside parentheses and brackets.
func splitTopLevel(s string) []string {
	var fields []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				fields = append(fields, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		fields = append(fields, rest)
	}
	return fields
}

// Lines splits r into lines ending in '\n' or '\r'. ffmpeg rewrites its
// progress line in place with '\r'. The channel is closed at EOF.
func Lines(r io.Reader) <-chan string {
	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		s := bufio.NewScanner(r)
		s.Buffer(make([]byte, 4096), 1<<20)
		s.Split(scanCRLF)
		for s.Scan() {
			if line := s.Text(); line != "" {
				ch <- line
			}
		}
	}()
	return ch
}

func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
