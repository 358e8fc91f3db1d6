// Package framing turns one read event from a device connection into either
// an out of band control signal or a candidate text message.
package framing

import (
	"bytes"
	"strings"
)

type Kind int

const (
	KindMessage Kind = iota
	KindHeartbeat
	KindDebugOn
	KindCaptureStarted
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindDebugOn:
		return "debug_on"
	case KindCaptureStarted:
		return "capture_started"
	default:
		return "message"
	}
}

// Heartbeat is both the control sequence devices send and the echo they expect.
var Heartbeat = []byte{0x01, 0x04}

const (
	debugOn        = "DBGON"
	captureStarted = "Capture Started"
)

type Frame struct {
	Kind Kind
	Text string // trimmed payload, only set for KindMessage
}

// Reply returns the bytes to write back for a control frame, nil otherwise.
func (f Frame) Reply() []byte {
	if f.Kind == KindHeartbeat {
		return Heartbeat
	}
	return nil
}

// Split clasifica un evento de lectura. Cada lectura es un único mensaje
// candidato: no se reensamblan lecturas parciales.
func Split(data []byte) Frame {
	text := strings.TrimSpace(string(data))
	switch {
	case bytes.Contains([]byte(text), Heartbeat):
		return Frame{Kind: KindHeartbeat}
	case text == debugOn:
		return Frame{Kind: KindDebugOn}
	case text == captureStarted:
		return Frame{Kind: KindCaptureStarted}
	}
	return Frame{Kind: KindMessage, Text: text}
}
