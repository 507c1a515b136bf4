package config

import (
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type rect struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// CropFile persists crop rectangles per screen index as YAML:
//
//	screens:
//	  0: {x: 100, y: 80, width: 1280, height: 720}
type CropFile struct {
	Path string `yaml:"-"`

	mu      sync.Mutex
	Screens map[int]rect `yaml:"screens"`
}

// OpenCropFile loads path. A missing file yields an empty store.
func OpenCropFile(path string) (*CropFile, error) {
	c := &CropFile{Path: path, Screens: map[int]rect{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read crop file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if c.Screens == nil {
		c.Screens = map[int]rect{}
	}
	return c, nil
}

// Crop implements capture.CropStore.
func (c *CropFile) Crop(screen int) (image.Rectangle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.Screens[screen]
	if !ok || r.Width <= 0 || r.Height <= 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height), true
}

// SetCrop records a rectangle for screen and writes the file.
func (c *CropFile) SetCrop(screen int, r image.Rectangle) error {
	r = r.Canon()

	c.mu.Lock()
	c.Screens[screen] = rect{r.Min.X, r.Min.Y, r.Dx(), r.Dy()}
	data, err := yaml.Marshal(c)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return errors.Wrap(err, "create crop file directory")
	}
	return errors.Wrap(os.WriteFile(c.Path, data, 0644), "write crop file")
}
