package logging

import (
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// Logging level. Higher values indicate more verbosity.
type Level int

const (
	Error Level = iota - 2
	Warn
	Info
	Debug

	// Allow numeric logging levels up to 9.
	MaxLevel Level = 9
)

// Default level can be changed by environment variable.
var defaultLevel = Info

// ParseLevel accepts a level name ("error", "warn", "info", "debug",
// "trace"), its first letter, or a number between -2 and 9.
func ParseLevel(s string) (Level, error) {
	return parseLevel(s)
}

func parseLevel(s string) (level Level, err error) {
	// First check for well-known level names or abbreviations.
	switch strings.ToUpper(s) {
	case "E", "ERROR":
		return Error, nil
	case "W", "WARN", "WARNING":
		return Warn, nil
	case "I", "INFO":
		return Info, nil
	case "D", "DEBUG":
		return Debug, nil
	case "T", "TRACE":
		return MaxLevel, nil
	}

	// Otherwise expect an explicit numeric level.
	if n, ierr := strconv.Atoi(s); ierr != nil {
		err = errors.New("invalid logging level: " + s)
	} else {
		level = Level(n)
		if level < Error || level > MaxLevel {
			err = errors.New("numeric level out of range: " + s)
		}
	}
	return
}

func (l Level) String() string {
	switch l {
	case Error:
		return "Error"
	case Warn:
		return "Warn"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return strconv.Itoa(int(l))
	}
}

func (l Level) letter() byte {
	if l <= Debug {
		return "EWID"[l-Error]
	}
	// Numeric values up to 9 are allowed.
	return byte('0' + l)
}

func (l Level) color() *color.Color {
	switch l {
	case Error:
		return colorError
	case Warn:
		return colorWarn
	case Info:
		return colorInfo
	case Debug:
		return colorDebug
	default:
		return colorTrace
	}
}
