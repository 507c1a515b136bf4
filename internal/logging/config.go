package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const envVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var tagLevels []tagLevel

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", envVar, err)
	}
}

// Configure parses comma-separated "tag=level" directives. A directive without
// "tag=" sets the default level. Invalid directives are skipped; the first
// problem is returned.
func Configure(directives string) error {
	var firstErr error
	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Errorf("directive '%s': %v", d, err)
			}
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels = append(tagLevels, tagLevel{v[0], level})
		}
	}

	DefaultLogger.Level = defaultLevel

	tagged.Lock()
	for _, l := range tagged.loggers {
		l.Level = determineLevel(l.Tag, defaultLevel)
	}
	tagged.Unlock()
	return firstErr
}

func determineLevel(tag string, fallback Level) Level {
	// Later directives win.
	for i := len(tagLevels) - 1; i >= 0; i-- {
		if tagLevels[i].tag == tag {
			return tagLevels[i].level
		}
	}
	return fallback
}
