//////////////////////////////////////////////////////////////////////////////
//
// Request/acknowledge exchange over UDP
//
// Both the START handshake and the STOP teardown send a control message and
// wait for OK, resending every retry interval until acknowledged or the
// overall timeout passes. A single loop drives the exchange through typed
// events:
//
//   send --ok--> await --evAck--------------> acked
//     ^            |--evTimeout---------+
//     |            |--evPeerUnreachable-+--> (expired?) --> expired
//     +------------+<-------------------+
//                  any --evCancel-----------> canceled
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package alohacast

import (
	"context"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/alohacast/internal/protocol"
)

type event int

const (
	evTimeout event = iota
	evAck
	evPeerUnreachable
	evCancel
)

func (ev event) String() string {
	switch ev {
	case evTimeout:
		return "timeout"
	case evAck:
		return "ack"
	case evPeerUnreachable:
		return "peer-unreachable"
	case evCancel:
		return "cancel"
	}
	return "?"
}

type retryState int

const (
	stateSend retryState = iota
	stateAwait
	stateAcked
	stateExpired
	stateCanceled
)

func (s retryState) String() string {
	switch s {
	case stateSend:
		return "send"
	case stateAwait:
		return "await"
	case stateAcked:
		return "acked"
	case stateExpired:
		return "expired"
	case stateCanceled:
		return "canceled"
	}
	return "?"
}

// next is the transition function. expired reports whether the overall
// deadline has passed.
func (s retryState) next(ev event, expired bool) retryState {
	switch {
	case s == stateAcked || s == stateExpired || s == stateCanceled:
		return s
	case ev == evCancel:
		return stateCanceled
	case ev == evAck:
		return stateAcked
	case expired:
		return stateExpired
	default:
		return stateSend
	}
}

// exchange sends request on conn until a reply matching isAck arrives.
type exchange struct {
	name     string
	conn     net.Conn
	request  []byte
	isAck    func([]byte) bool
	interval time.Duration
	timeout  time.Duration
}

func isOK(p []byte) bool {
	return protocol.Classify(p) == protocol.OK
}

// run drives the exchange to completion. It returns nil when acknowledged,
// ErrHandshakeTimeout on expiry, or ctx.Err() when canceled.
func (x *exchange) run(ctx context.Context) error {
	// Cancellation interrupts a blocked read by moving the deadline.
	stop := context.AfterFunc(ctx, func() {
		x.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()
	defer x.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 2048)
	deadline := time.Now().Add(x.timeout)
	var attemptEnd time.Time
	attempts := 0

	state := stateSend
	for {
		var ev event
		switch state {
		case stateAcked:
			log.Debug("%s: acknowledged after %d attempts", x.name, attempts)
			return nil
		case stateExpired:
			log.Debug("%s: no reply after %d attempts", x.name, attempts)
			return ErrHandshakeTimeout
		case stateCanceled:
			return ctx.Err()

		case stateSend:
			if ctx.Err() != nil {
				ev = evCancel
				break
			}
			attempts++
			attemptEnd = time.Now().Add(x.interval)
			if attemptEnd.After(deadline) {
				attemptEnd = deadline
			}
			if _, err := x.conn.Write(x.request); err != nil {
				log.Trace(3, "%s: send: %v", x.name, err)
				ev = x.pause(ctx, attemptEnd)
				break
			}
			state = stateAwait
			continue

		case stateAwait:
			ev = x.await(ctx, attemptEnd, buf)
			if ev == evPeerUnreachable {
				ev = x.pause(ctx, attemptEnd)
			}
		}

		next := state.next(ev, !time.Now().Before(deadline))
		log.Trace(5, "%s: %v --%v--> %v", x.name, state, ev, next)
		state = next
	}
}

// await reads until an acknowledgement, the attempt deadline, or an error.
func (x *exchange) await(ctx context.Context, until time.Time, buf []byte) event {
	x.conn.SetReadDeadline(until)
	if ctx.Err() != nil {
		return evCancel
	}
	for {
		n, err := x.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return evCancel
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return evTimeout
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return evTimeout
			}
			if !errors.Is(err, syscall.ECONNREFUSED) {
				log.Debug("%s: read: %v", x.name, err)
			}
			return evPeerUnreachable
		}
		if x.isAck(buf[:n]) {
			return evAck
		}
		log.Trace(5, "%s: ignoring %d-byte datagram", x.name, n)
	}
}

// pause waits out the rest of an attempt after an immediate failure, so an
// unreachable peer is not flooded.
func (x *exchange) pause(ctx context.Context, until time.Time) event {
	t := time.NewTimer(time.Until(until))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return evCancel
	case <-t.C:
		return evPeerUnreachable
	}
}
