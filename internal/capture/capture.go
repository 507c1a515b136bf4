package capture

import (
	"fmt"
	"image"
	"os"
	"runtime"
	"strconv"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/subprocess"
)

var log = logging.DefaultLogger.WithTag("capture")

// ShareMode selects what part of a screen is cast.
type ShareMode int

const (
	FullScreen ShareMode = iota
	CropArea
)

func (m ShareMode) String() string {
	switch m {
	case FullScreen:
		return "full"
	case CropArea:
		return "crop"
	}
	return "ShareMode(" + strconv.Itoa(int(m)) + ")"
}

// ParseShareMode accepts "full" or "crop".
func ParseShareMode(s string) (ShareMode, error) {
	switch s {
	case "full", "fullscreen", "":
		return FullScreen, nil
	case "crop", "area":
		return CropArea, nil
	}
	return 0, errors.Errorf("unknown share mode %q", s)
}

// CropStore returns the crop rectangle saved for a screen, in coordinates
// relative to that screen's top-left corner.
type CropStore interface {
	Crop(screen int) (image.Rectangle, bool)
}

// Config for the capture+encode command.
type Config struct {
	// Engine binary. Defaults to subprocess.DefaultBinary.
	Binary string

	// X11 display for x11grab. Defaults to $DISPLAY, then ":0.0".
	Display string

	FrameRate int // Defaults to 30
	Bitrate   int // Bits per second, defaults to 4000000

	// Target OS. Defaults to runtime.GOOS.
	GOOS string
}

var (
	ErrNoScreen = errors.New("capture: no such screen")
	ErrNoCrop   = errors.New("capture: no crop area saved for screen")
)

// Target is what to capture: a screen and a region of the desktop within it.
type Target struct {
	Index  int
	Screen image.Rectangle
	Region image.Rectangle
}

// Resolve picks the capture target for a screen and share mode.
func Resolve(screens []Screen, index int, mode ShareMode, crops CropStore) (Target, error) {
	r, err := Region(screens, index, mode, crops)
	if err != nil {
		return Target{}, err
	}
	return Target{Index: index, Screen: screens[index].Bounds, Region: r}, nil
}

// Region computes the absolute capture rectangle for a screen and share mode.
// Sizes are rounded down to even numbers as yuv420p requires.
func Region(screens []Screen, index int, mode ShareMode, crops CropStore) (image.Rectangle, error) {
	if index < 0 || index >= len(screens) {
		return image.Rectangle{}, errors.Wrapf(ErrNoScreen, "index %d of %d", index, len(screens))
	}
	screen := screens[index].Bounds

	r := screen
	if mode == CropArea {
		var crop image.Rectangle
		ok := false
		if crops != nil {
			crop, ok = crops.Crop(index)
		}
		if !ok {
			return image.Rectangle{}, errors.Wrapf(ErrNoCrop, "screen %d", index)
		}
		r = crop.Add(screen.Min).Intersect(screen)
	}

	r.Max.X = r.Min.X + r.Dx()&^1
	r.Max.Y = r.Min.Y + r.Dy()&^1
	if r.Empty() {
		return image.Rectangle{}, errors.Errorf("capture: empty region %v", r)
	}
	return r, nil
}

// Command builds the capture+encode subprocess for a target. Output is MPEG-TS
// on stdout, which survives arbitrary chunking and loss.
func Command(cfg Config, t Target) subprocess.Command {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = 4000000
	}
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	args := []string{"-hide_banner", "-loglevel", "info"}
	args = append(args, inputArgs(goos, cfg, t)...)
	args = append(args,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-b:v", strconv.Itoa(cfg.Bitrate),
		"-g", strconv.Itoa(cfg.FrameRate),
		"-f", "mpegts",
		"pipe:1",
	)

	log.Debug("screen %d region %v via %s", t.Index, t.Region, goos)
	return subprocess.Command{
		Binary:      cfg.Binary,
		Args:        args,
		QuitKey:     true,
		ParseEvents: true,
	}
}

func inputArgs(goos string, cfg Config, t Target) []string {
	r := t.Region
	fps := strconv.Itoa(cfg.FrameRate)
	size := fmt.Sprintf("%dx%d", r.Dx(), r.Dy())

	switch goos {
	case "windows":
		return []string{
			"-f", "gdigrab",
			"-framerate", fps,
			"-offset_x", strconv.Itoa(r.Min.X),
			"-offset_y", strconv.Itoa(r.Min.Y),
			"-video_size", size,
			"-i", "desktop",
		}
	case "darwin":
		// avfoundation captures whole screens; crop afterwards, relative to
		// the screen.
		rel := r.Sub(t.Screen.Min)
		return []string{
			"-f", "avfoundation",
			"-framerate", fps,
			"-capture_cursor", "1",
			"-i", fmt.Sprintf("Capture screen %d:none", t.Index),
			"-vf", fmt.Sprintf("crop=%d:%d:%d:%d", rel.Dx(), rel.Dy(), rel.Min.X, rel.Min.Y),
		}
	default:
		display := cfg.Display
		if display == "" {
			display = os.Getenv("DISPLAY")
		}
		if display == "" {
			display = ":0.0"
		}
		return []string{
			"-f", "x11grab",
			"-framerate", fps,
			"-video_size", size,
			"-i", fmt.Sprintf("%s+%d,%d", display, r.Min.X, r.Min.Y),
		}
	}
}
