package subprocess

// Argument builders for the decode side. Capture and record commands are
// built by their own packages.

// DecodeCommand reads an encoded stream on stdin and writes raw rgb24 frames
// to stdout. Geometry is announced on stderr as an Output stream line.
func DecodeCommand(binary string) Command {
	return Command{
		Binary: binary,
		Args: []string{
			"-hide_banner",
			"-loglevel", "info",
			"-fflags", "nobuffer",
			"-flags", "low_delay",
			"-i", "pipe:0",
			"-f", "rawvideo",
			"-pix_fmt", "rgb24",
			"pipe:1",
		},
		Stdin:       true,
		ParseEvents: true,
	}
}
