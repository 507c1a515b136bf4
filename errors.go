package alohacast

import "github.com/pkg/errors"

var (
	// No OK within the handshake timeout. The viewer is left in the Retry
	// state and Connect may be called again.
	ErrHandshakeTimeout = errors.New("alohacast: handshake timed out")

	// The caster resolved to an address outside the local network.
	ErrNotLAN = errors.New("alohacast: caster is not on the local network")

	ErrAlreadyRunning = errors.New("alohacast: caster already running")

	ErrClosed = errors.New("alohacast: closed")
)
