//go:build !unix

package subprocess

import "os"

// No SIGINT; fall through to the kill step.
func interrupt(proc *os.Process) error {
	return proc.Signal(os.Interrupt)
}
