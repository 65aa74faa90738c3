// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package shtp

import (
	"errors"
	"fmt"
	"time"
)

// Channel identifies a logical SHTP stream.
type Channel uint8

// Recognized channels. Sensor reports arrive on SensorNormal and GyroRV;
// control/command exchanges happen on Command, Executable and HubControl.
const (
	Command      Channel = 0
	Executable   Channel = 1
	HubControl   Channel = 2
	SensorNormal Channel = 3
	Wake         Channel = 4
	GyroRV       Channel = 5
)

func (c Channel) String() string {
	switch c {
	case Command:
		return "Command"
	case Executable:
		return "Executable"
	case HubControl:
		return "HubControl"
	case SensorNormal:
		return "SensorNormal"
	case Wake:
		return "Wake"
	case GyroRV:
		return "GyroRV"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

// MaxFrame is the largest permissible total frame length, header included.
const MaxFrame = 512

// headerLen is the fixed 4-octet SHTP header: length (2), channel (1),
// sequence (1).
const headerLen = 4

// Frame is one length-prefixed SHTP unit.
type Frame struct {
	Channel  Channel
	Sequence uint8
	Payload  []byte
}

// ErrOversizeFrame and ErrInvalidHeader flag framer-level wire violations.
var (
	ErrOversizeFrame = errors.New("shtp: oversize frame")
	ErrInvalidHeader = errors.New("shtp: invalid header")
)

// SequenceTable hands out per-channel monotonic sequence octets for
// outgoing frames. The zero value is ready to use; counters start at 0 and
// wrap modulo 256, independently per channel.
type SequenceTable struct {
	next [6]uint8
}

// Next returns the next sequence number for ch and advances its counter.
func (s *SequenceTable) Next(ch Channel) uint8 {
	idx := int(ch)
	if idx >= len(s.next) {
		// Channels beyond the six named ones have no counter of their
		// own: every frame on them carries sequence 0.
		return 0
	}
	v := s.next[idx]
	s.next[idx] = v + 1
	return v
}

// Framer reads and writes SHTP frames over a Transport, tracking outgoing
// sequence numbers per channel.
type Framer struct {
	t   Transport
	seq SequenceTable
}

// NewFramer wraps t.
func NewFramer(t Transport) *Framer {
	return &Framer{t: t}
}

// ReadFrame waits up to timeout for one frame. It returns (nil, nil) on
// timeout — a soft condition, not an error.
func (f *Framer) ReadFrame(timeout time.Duration) (*Frame, error) {
	var hdr [headerLen]byte
	if err := f.t.ReadFull(hdr[:], timeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}
	// The continuation bit is masked off unconditionally: this
	// implementation doesn't stitch multi-frame payloads together (no report
	// this system enables exceeds one frame), so a continuation-flagged
	// frame is read and returned exactly like any other, using its declared
	// length.
	lengthLE := uint16(hdr[0]) | uint16(hdr[1])<<8
	length := lengthLE & 0x7FFF
	if length < headerLen {
		return nil, ErrInvalidHeader
	}
	if length > MaxFrame {
		return nil, ErrOversizeFrame
	}
	payload := make([]byte, length-headerLen)
	if len(payload) > 0 {
		// The header has already announced an exact payload length, so a
		// payload that does not arrive within the timeout is a short read,
		// not a soft timeout.
		if err := f.t.ReadFull(payload, timeout); err != nil {
			if errors.Is(err, ErrTimeout) {
				return nil, ErrShortRead
			}
			return nil, err
		}
	}
	return &Frame{Channel: Channel(hdr[2]), Sequence: hdr[3], Payload: payload}, nil
}

// WriteFrame constructs and transmits one frame on ch with the next
// sequence number for that channel.
func (f *Framer) WriteFrame(ch Channel, payload []byte) error {
	total := headerLen + len(payload)
	if total > MaxFrame {
		return ErrOversizeFrame
	}
	buf := make([]byte, total)
	buf[0] = byte(total & 0xFF)
	buf[1] = byte((total >> 8) & 0x7F) // high bit clear: not a continuation
	buf[2] = byte(ch)
	buf[3] = f.seq.Next(ch)
	copy(buf[headerLen:], payload)
	return f.t.WriteFull(buf)
}
