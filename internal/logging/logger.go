package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	// The level at which this logger logs. Any log messages intended for a higher
	// (more verbose) log level are ignored.
	Level

	// Tag used to filter and classify log messages.
	Tag string

	out io.Writer

	// Mutex to prevent messages from different goroutines from interleaving.
	// Shared by all derived loggers.
	mu *sync.Mutex
}

// Write to stderr by default.
var DefaultLogger = &Logger{defaultLevel, "", os.Stderr, new(sync.Mutex)}

// New returns a root logger writing to out, independent of DefaultLogger.
func New(out io.Writer, level Level) *Logger {
	return &Logger{level, "", out, new(sync.Mutex)}
}

// Derive a new logger with the given tag. Look up the level based on the tag.
// Characters that would confuse LOGLEVEL parsing are replaced with '_'.
func (log *Logger) WithTag(tag string) *Logger {
	tag = strings.Map(func(r rune) rune {
		switch r {
		case ',', '=', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, tag)
	derived := &Logger{determineLevel(tag, log.Level), tag, log.out, log.mu}
	tagged.Lock()
	tagged.loggers = append(tagged.loggers, derived)
	tagged.Unlock()
	return derived
}

// Tagged loggers, re-leveled by Configure. Package loggers are created at init
// time, before a program has read its own configuration.
var tagged struct {
	sync.Mutex
	loggers []*Logger
}

// Wrapper for []byte that implements io.Writer. Simpler and cheaper than
// bytes.Buffer.
type buffer []byte

func (b *buffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

func (b *buffer) writeString(s string) {
	*b = append(*b, s...)
}

func (b *buffer) writeByte(c byte) {
	*b = append(*b, c)
}

// A global buffer pool, shared across all loggers. Initial capacity is 256 to
// accommodate *most* log lines.
var bufPool = sync.Pool{
	New: func() interface{} {
		return make(buffer, 0, 256)
	},
}

// Log a message at the given level. Include the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level {
		// Message is too verbose for this logger.
		return
	}

	buf := bufPool.Get().(buffer)
	defer func() { bufPool.Put(buf[:0]) }()

	buf.writeString(colorTimestamp.Sprint(time.Now().Format(timestampFormat)))

	// Get the caller of Error()/Warn()/Info()/etc.
	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}

	// Level letter, tag, file and line number.
	header := fmt.Sprintf(" %c/%s[%s:%d] ", level.letter(), log.Tag, filepath.Base(file), line)
	buf.writeString(level.color().Sprint(header))

	fmt.Fprintf(&buf, format, a...)

	// Append newline if necessary.
	if n := len(format); n == 0 || format[n-1] != '\n' {
		buf.writeByte('\n')
	}

	// Lock before writing to avoid interleaving of log messages.
	log.mu.Lock()
	_, err := log.out.Write(buf)
	log.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: write to %v failed: %v\n", log.out, err)
	}
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
