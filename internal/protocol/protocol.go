package protocol

import (
	"bytes"
	"net"
	"strings"

	errors "golang.org/x/xerrors"
)

// Control messages share the UDP socket with payload chunks. They are short
// UTF-8 strings:
//
//	START               viewer -> caster, register me
//	STOP\n<host:port>   viewer -> caster, unregister <host:port>
//	OK                  caster -> viewer, reply to either of the above
//
// Anything else is an opaque payload chunk.

type Kind int

const (
	Payload Kind = iota
	Start
	Stop
	OK
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "START"
	case Stop:
		return "STOP"
	case OK:
		return "OK"
	default:
		return "payload"
	}
}

const (
	startText = "START"
	stopText  = "STOP"
	okText    = "OK"

	// Upper bound on control message size. "STOP\n" plus the longest textual
	// IPv6 address with zone and port.
	MaxControlSize = 128
)

var (
	ErrMissingAddress = errors.New("protocol: STOP without address")
)

// Message is a parsed control message.
type Message struct {
	Kind Kind

	// For Stop, the address of the viewer to remove, as sent by the viewer.
	Addr string
}

// Classify reports which control message p holds, without allocating. Payload
// chunks of encoded video never match because they are longer than
// MaxControlSize or do not start with one of the keywords.
func Classify(p []byte) Kind {
	if len(p) > MaxControlSize {
		return Payload
	}
	t := bytes.TrimRight(p, "\r\n")
	switch {
	case string(t) == startText:
		return Start
	case string(t) == okText:
		return OK
	case string(t) == stopText, bytes.HasPrefix(p, []byte(stopText+"\n")):
		return Stop
	}
	return Payload
}

// IsControl matches datagrams that carry a control message.
func IsControl(p []byte) bool {
	return Classify(p) != Payload
}

// Parse decodes a control message. A payload chunk yields Kind Payload and no
// error.
func Parse(p []byte) (Message, error) {
	switch k := Classify(p); k {
	case Stop:
		var addr string
		if len(p) > len(stopText)+1 {
			addr = strings.TrimSpace(string(p[len(stopText)+1:]))
		}
		if addr == "" {
			return Message{}, ErrMissingAddress
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return Message{}, errors.Errorf("protocol: bad STOP address %q: %w", addr, err)
		}
		return Message{Kind: Stop, Addr: addr}, nil
	default:
		return Message{Kind: k}, nil
	}
}

// Bytes encodes the message for the wire.
func (m Message) Bytes() []byte {
	switch m.Kind {
	case Start:
		return []byte(startText)
	case Stop:
		return []byte(stopText + "\n" + m.Addr)
	case OK:
		return []byte(okText)
	default:
		return nil
	}
}

func (m Message) String() string {
	if m.Kind == Stop {
		return stopText + " " + m.Addr
	}
	return m.Kind.String()
}

// Convenience encoders.

func StartMessage() []byte {
	return Message{Kind: Start}.Bytes()
}

func StopMessage(addr net.Addr) []byte {
	return Message{Kind: Stop, Addr: addr.String()}.Bytes()
}

func OKMessage() []byte {
	return Message{Kind: OK}.Bytes()
}
