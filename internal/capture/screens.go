package capture

import (
	"bufio"
	"bytes"
	"image"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Screen is one monitor in desktop coordinates.
type Screen struct {
	Name    string
	Bounds  image.Rectangle
	Primary bool
}

// " 1: +HDMI-1 2560/597x1440/336+1920+0  HDMI-1"
var monitorRegexp = regexp.MustCompile(`^\s*(\d+): \+?(\*?)(\S+) (\d+)/\d+x(\d+)/\d+\+(-?\d+)\+(-?\d+)`)

// ParseXrandrMonitors parses the output of `xrandr --listmonitors`.
func ParseXrandrMonitors(out []byte) ([]Screen, error) {
	var screens []Screen
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		m := monitorRegexp.FindStringSubmatch(s.Text())
		if m == nil {
			continue
		}
		n := make([]int, 4)
		for i := range n {
			n[i], _ = strconv.Atoi(m[4+i])
		}
		w, h, x, y := n[0], n[1], n[2], n[3]
		screens = append(screens, Screen{
			Name:    m[3],
			Bounds:  image.Rect(x, y, x+w, y+h),
			Primary: m[2] == "*",
		})
	}
	if len(screens) == 0 {
		return nil, errors.New("capture: no monitors in xrandr output")
	}
	return screens, nil
}

// ListScreens asks xrandr for the monitor layout.
func ListScreens() ([]Screen, error) {
	out, err := exec.Command("xrandr", "--listmonitors").Output()
	if err != nil {
		return nil, errors.Wrap(err, "xrandr --listmonitors")
	}
	return ParseXrandrMonitors(out)
}

