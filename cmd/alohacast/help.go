package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Screen casting over the local network

Usage: alohacast [OPTION]... COMMAND [ARG]...

Commands:
  cast [--screen=N] [--crop] [--input=SOURCE [--loop]]
                         Cast a screen to viewers. SOURCE is file:PATH,
                         stdin:, or a path, cast instead of the screen
  view HOST[:PORT] [--record] [--workers=N] [--snapshot=FILE]
                         Watch a caster
  screens                List screens available for casting
  crop SCREEN X Y WIDTH HEIGHT
                         Save the crop rectangle used by cast --crop

Options:
  -c, --config=FILE      Configuration file (YAML)
  -p, --port=NUM         Caster UDP port (default: 8080)
  -l, --log-level=SPEC   Log levels, e.g. "info,pipeline=debug"
  -m, --monitor=ADDR     Serve session events on ws://ADDR/events
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Environment:
  ALOHACAST_FFMPEG, ALOHACAST_PORT, ALOHACAST_SAVE_DIR, ALOHACAST_LOG_LEVEL,
  ALOHACAST_MONITOR override the configuration file.

Please report bugs to: aloha@lanikailabs.com`

// Help information is printed and program exits
func help() {
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	aloha := []string{
		`       _       _           `,
		`  __ _| | ___ | |__   __ _ `,
		` / _' | |/ _ \| '_ \ / _' |`,
		`| (_| | | (_) | | | | (_| |`,
		` \__,_|_|\___/|_| |_|\__,_|`,
	}
	cast := []string{
		`               _   `,
		`  ___ __ _ ___| |_ `,
		` / __/ _' / __| __|`,
		`| (_| (_| \__ \ |_ `,
		` \___\__,_|___/\__|`,
	}
	for i := range aloha {
		y.Print(aloha[i])
		b.Println(cast[i])
	}

	fmt.Println()
	fmt.Println(helpString)
}

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("alohacast", GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}
