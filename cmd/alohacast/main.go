package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/alohacast/internal/config"
	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/monitor"
)

var log = logging.DefaultLogger.WithTag("main")

// Populated via -ldflags="-X ...".
var GitRevisionId string

var (
	flagConfig   string
	flagPort     int
	flagLogLevel string
	flagMonitor  string
	flagHelp     bool
	flagVersion  bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "Configuration file")
	flag.IntVarP(&flagPort, "port", "p", 8080, "Caster UDP port")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "", "Log level directives")
	flag.StringVarP(&flagMonitor, "monitor", "m", "", "Event feed listen address")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")

	// Everything after the command belongs to the command.
	flag.CommandLine.SetInterspersed(false)
}

func main() {
	flag.Usage = help
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		help()
		os.Exit(2)
	}

	cfg, err := config.Load(flagConfig)
	if err != nil {
		log.Fatal(err)
	}
	if flag.CommandLine.Changed("port") {
		cfg.Caster.Port = flagPort
		cfg.Viewer.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagMonitor != "" {
		cfg.Monitor = flagMonitor
	}
	if err := logging.Configure(cfg.LogLevel); err != nil {
		log.Warn("log level: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var mon *monitor.Server
	if cfg.Monitor != "" {
		mon = monitor.New()
		go func() {
			if err := mon.ListenAndServe(cfg.Monitor); err != nil {
				log.Error("monitor: %v", err)
			}
		}()
	}

	args := flag.Args()
	switch args[0] {
	case "cast":
		err = runCast(ctx, cfg, mon, args[1:])
	case "view":
		err = runView(ctx, cfg, mon, args[1:])
	case "screens":
		err = runScreens()
	case "crop":
		err = runCrop(cfg, args[1:])
	default:
		log.Error("Unknown command %q", args[0])
		help()
		os.Exit(2)
	}

	if mon != nil {
		mon.Shutdown(context.Background())
	}
	stop()

	if err != nil {
		log.Fatal(err)
	}
}
