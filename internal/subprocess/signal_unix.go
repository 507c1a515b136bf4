//go:build unix

package subprocess

import (
	"os"

	"golang.org/x/sys/unix"
)

func interrupt(proc *os.Process) error {
	return unix.Kill(proc.Pid, unix.SIGINT)
}
