package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/alohacast"
	"github.com/lanikai/alohacast/internal/capture"
	"github.com/lanikai/alohacast/internal/config"
	"github.com/lanikai/alohacast/internal/media"
	"github.com/lanikai/alohacast/internal/monitor"
)

const statusInterval = 10 * time.Second

func runCast(ctx context.Context, cfg *config.Config, mon *monitor.Server, args []string) error {
	fs := flag.NewFlagSet("cast", flag.ContinueOnError)
	screen := fs.IntP("screen", "s", 0, "Screen index")
	crop := fs.Bool("crop", false, "Cast the saved crop rectangle")
	input := fs.StringP("input", "i", "", "Cast a source instead of the screen (file:PATH, stdin:, or a path)")
	loop := fs.Bool("loop", false, "Repeat the input")
	if err := fs.Parse(args); err != nil {
		return err
	}

	crops, err := config.OpenCropFile(cfg.Caster.CropFile)
	if err != nil {
		return err
	}

	ccfg := alohacast.CasterConfigFrom(cfg, crops)
	ccfg.Monitor = mon
	if *input != "" {
		src, err := media.OpenSource(*input, media.SourceOptions{
			Bitrate: cfg.Caster.Bitrate,
			Loop:    *loop,
		})
		if err != nil {
			return err
		}
		ccfg.Source = src
	}

	mode := capture.FullScreen
	if *crop {
		mode = capture.CropArea
	}

	c := alohacast.NewCaster(ccfg)
	if err := c.Start(*screen, mode); err != nil {
		return err
	}
	defer c.Stop()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down")
			return nil
		case <-ticker.C:
			log.Info("%d viewers, %d chunks sent", len(c.Viewers()), c.Chunks())
		}
	}
}

func runScreens() error {
	screens, err := capture.ListScreens()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tGEOMETRY\tPRIMARY")
	for i, s := range screens {
		fmt.Fprintf(w, "%d\t%s\t%dx%d+%d+%d\t%v\n", i, s.Name,
			s.Bounds.Dx(), s.Bounds.Dy(), s.Bounds.Min.X, s.Bounds.Min.Y, s.Primary)
	}
	return w.Flush()
}

func runCrop(cfg *config.Config, args []string) error {
	if len(args) != 5 {
		return errors.New("usage: crop SCREEN X Y WIDTH HEIGHT")
	}
	var v [5]int
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return errors.Wrapf(err, "argument %d", i+1)
		}
		v[i] = n
	}
	if v[3] <= 0 || v[4] <= 0 {
		return errors.New("crop width and height must be positive")
	}

	crops, err := config.OpenCropFile(cfg.Caster.CropFile)
	if err != nil {
		return err
	}
	r := image.Rect(v[1], v[2], v[1]+v[3], v[2]+v[4])
	if err := crops.SetCrop(v[0], r); err != nil {
		return err
	}
	log.Info("Saved crop %v for screen %d in %s", r, v[0], crops.Path)
	return nil
}
