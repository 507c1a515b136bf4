package media

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// SourceOptions apply to every source type; each ignores what it cannot use.
type SourceOptions struct {
	// Pace reads to this many bits per second. Zero reads as fast as possible.
	Bitrate int

	// Start over at end of input.
	Loop bool
}

// Open a chunk source based on its "source spec". A source spec is a
// colon-separated string consisting of a source tag and a source path:
//
//	sourceSpec = sourceTag + ":" + sourcePath
//
// A spec whose tag is not registered is opened as a file path, so plain paths
// (including Windows drive letters) work.
func OpenSource(spec string, opts SourceOptions) (io.ReadCloser, error) {
	if log.Level >= 4 {
		var tags []string
		for t := range registry {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		log.Debug("Registered source types: %v", tags)
	}

	tag, path := spec, ""
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		tag, path = spec[:i], spec[i+1:]
	}

	if open, found := registry[tag]; found {
		return open(path, opts)
	}
	if spec == "" {
		return nil, errors.New("empty source spec")
	}
	return openFile(spec, opts)
}

// A function used to open a specific source type.
type OpenFunc func(path string, opts SourceOptions) (io.ReadCloser, error)

var registry = map[string]OpenFunc{}

// Register a source type, identified by its "source tag". Sources of this type will be
// opened with the given function.
func RegisterSourceType(tag string, open OpenFunc) {
	registry[tag] = open
}

func init() {
	RegisterSourceType("file", openFile)
	RegisterSourceType("stdin", openStdin)
}

func openFile(path string, opts SourceOptions) (io.ReadCloser, error) {
	fs, err := OpenFileSource(path, opts.Bitrate, opts.Loop)
	if err != nil {
		return nil, errors.Wrap(err, "open source")
	}
	return fs, nil
}

// e.g. ffmpeg ... -f mpegts - | alohacast cast --input stdin:
func openStdin(path string, opts SourceOptions) (io.ReadCloser, error) {
	if path != "" && path != "-" {
		return nil, errors.Errorf("stdin source takes no path, got %q", path)
	}
	return os.Stdin, nil
}
