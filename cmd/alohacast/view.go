package main

import (
	"context"
	"image/png"
	"os"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/alohacast"
	"github.com/lanikai/alohacast/internal/config"
	"github.com/lanikai/alohacast/internal/monitor"
	"github.com/lanikai/alohacast/internal/pipeline"
)

func runView(ctx context.Context, cfg *config.Config, mon *monitor.Server, args []string) error {
	fs := flag.NewFlagSet("view", flag.ContinueOnError)
	record := fs.BoolP("record", "r", false, "Record the stream while viewing")
	workers := fs.IntP("workers", "w", cfg.Viewer.Workers, "Frame conversion workers")
	saveDir := fs.String("save-dir", cfg.Viewer.SaveDir, "Directory for recordings")
	allowRemote := fs.Bool("allow-remote", cfg.Viewer.AllowRemote, "Allow casters outside the local network")
	retries := fs.Int("retries", 3, "Handshake attempts before giving up")
	snapshot := fs.String("snapshot", "", "Write the last frame to this PNG file on exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: view HOST[:PORT]")
	}

	vcfg := alohacast.ViewerConfigFrom(cfg, fs.Arg(0))
	vcfg.Workers = *workers
	vcfg.SaveDir = *saveDir
	vcfg.AllowRemote = *allowRemote
	vcfg.Monitor = mon

	v := alohacast.NewViewer(vcfg)
	defer v.Close()

	lost := make(chan struct{}, 1)
	v.OnStateChange(func(s alohacast.ConnectionState) {
		if s == alohacast.NotConnected {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	log.Info("Viewer %.8s connecting to %s", v.ID(), vcfg.Caster)
	if err := connect(ctx, v, *retries); err != nil {
		return err
	}
	if *record {
		if err := v.StartRecord(); err != nil {
			log.Error("Recording unavailable: %v", err)
		}
	}

	var last pipeline.DisplayImage
	var frames int
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case img, ok := <-v.Frames():
			if !ok {
				break loop
			}
			last = img
			frames++
		case <-ticker.C:
			log.Info("%.1f fps, %s", float64(frames)/statusInterval.Seconds(), v.State())
			frames = 0
		case <-lost:
			log.Warn("Connection lost, reconnecting")
			if err := connect(ctx, v, *retries); err != nil {
				return err
			}
		case <-ctx.Done():
			break loop
		}
	}

	if v.IsRecording() {
		if err := v.StopRecord(); err != nil {
			log.Error("Recording: %v", err)
		} else {
			log.Info("Saved recording %s", v.RecordingPath())
		}
	}
	if *snapshot != "" && last.Pix != nil {
		if err := writePNG(*snapshot, last); err != nil {
			log.Error("snapshot: %v", err)
		}
	}
	return v.Close()
}

func connect(ctx context.Context, v *alohacast.Viewer, retries int) error {
	for attempt := 1; ; attempt++ {
		err := v.Connect(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, alohacast.ErrHandshakeTimeout) || attempt >= retries || ctx.Err() != nil {
			return err
		}
		log.Warn("No reply from caster, retrying (%d/%d)", attempt, retries)
	}
}

func writePNG(filename string, img pipeline.DisplayImage) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img.Image()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
