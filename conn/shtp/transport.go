// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package shtp implements the Sensor Hub Transport Protocol: a
// length-prefixed, channel-multiplexed framing layer used by Hillcrest/CEVA
// sensor hubs (BNO080/BNO085 and compatible parts) on top of a two-wire
// serial bus.
package shtp

import (
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/periph/conn/i2c"
)

// Transport is the byte-sink/source capability set the framer needs.
//
// This is intentionally narrower than conn.Conn: SHTP framing requires
// exact-length reads bounded by a caller-supplied timeout, which conn.Conn's
// single Tx() doesn't express. A polymorphic implementation can sit on I²C,
// a UART, or a file, as long as it honors exact-length semantics — a short
// read or short write is always a protocol violation, never silently
// tolerated.
type Transport interface {
	fmt.Stringer
	// ReadFull blocks until len(buf) octets have been received or timeout
	// elapses, whichever comes first. A pre-expired or zero timeout means
	// "don't block waiting for data that isn't already there."
	ReadFull(buf []byte, timeout time.Duration) error
	// WriteFull transmits buf in its entirety as a single bus transaction.
	WriteFull(buf []byte) error
}

// ErrTimeout is returned by ReadFull when no data arrived within the
// requested timeout. It is a soft condition: callers retry, they don't tear
// anything down.
var ErrTimeout = errors.New("shtp: timeout")

// BusError wraps a transport-level I/O failure (device-open failure,
// address-bind failure, or a lower transaction error).
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string { return fmt.Sprintf("shtp: %s: %v", e.Op, e.Err) }
func (e *BusError) Unwrap() error { return e.Err }

// ErrShortRead and ErrShortWrite flag a partial transfer on what the wire
// protocol guarantees is a fixed-size exchange.
var (
	ErrShortRead  = errors.New("shtp: short read")
	ErrShortWrite = errors.New("shtp: short write")
)

// i2cTransport is a Transport over a periph.io/x/periph/conn/i2c.Bus bound
// to a 7-bit slave address, mirroring how devices/bmxx80.NewI2C binds a
// conn.Conn to a bus+address pair.
type i2cTransport struct {
	dev  i2c.Dev
	name string
}

// NewI2C binds addr (7-bit) on bus and returns a Transport for it.
//
// Fails with *BusError if the address is 0 or out of the 7-bit range; periph's
// i2c.Dev itself performs no address validation, so this package enforces
// it at the transport boundary instead.
func NewI2C(bus i2c.Bus, addr uint16) (Transport, error) {
	if addr == 0 || addr > 0x7F {
		return nil, &BusError{Op: "open", Err: fmt.Errorf("address 0x%02x out of 7-bit range", addr)}
	}
	return &i2cTransport{dev: i2c.Dev{Bus: bus, Addr: addr}, name: fmt.Sprintf("shtp.I2C(%s)", bus)}, nil
}

func (t *i2cTransport) String() string { return t.name }

// ReadFull polls the bus until a non-idle SHTP header is visible or timeout
// elapses.
//
// The BNO08x I²C transport has no distinct "data ready" transaction: an idle
// read returns an all-zero length header. A real deployment additionally
// wires the sensor's INT pin to a GPIO edge interrupt to avoid the poll
// entirely, but that optimization is orthogonal to the framing protocol
// this package implements and is left to the caller.
func (t *i2cTransport) ReadFull(buf []byte, timeout time.Duration) error {
	if len(buf) == 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for {
		if err := t.dev.Tx(nil, buf); err != nil {
			return &BusError{Op: "read", Err: err}
		}
		if !isIdleHeader(buf) {
			return nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (t *i2cTransport) WriteFull(buf []byte) error {
	if err := t.dev.Tx(buf, nil); err != nil {
		return &BusError{Op: "write", Err: err}
	}
	return nil
}

// isIdleHeader reports whether buf looks like an all-zero SHTP header,
// which on I²C means "nothing queued" rather than a zero-length frame (the
// wire protocol forbids frames shorter than the 4-octet header itself).
func isIdleHeader(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	return buf[0] == 0 && buf[1] == 0
}

var pollInterval = 500 * time.Microsecond

// fileTransport adapts any io.ReadWriter — a real UART device file, a named
// pipe, or (in tests) an in-memory buffer — to Transport. This satisfies the
// "file-backed mock" the test suite needs without tying the framer to I²C.
type fileTransport struct {
	rw   io.ReadWriter
	name string
}

// NewFile wraps rw as a Transport. Reads block on rw.Read and ignore
// timeout — callers that need I²C-style idle polling should use NewI2C
// instead; a blocking file/UART read already blocks until data arrives.
func NewFile(rw io.ReadWriter, name string) Transport {
	return &fileTransport{rw: rw, name: name}
}

func (t *fileTransport) String() string { return t.name }

func (t *fileTransport) ReadFull(buf []byte, _ time.Duration) error {
	n, err := io.ReadFull(t.rw, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrShortRead
		}
		if errors.Is(err, io.EOF) {
			return ErrTimeout
		}
		return &BusError{Op: "read", Err: err}
	}
	if n != len(buf) {
		return ErrShortRead
	}
	return nil
}

func (t *fileTransport) WriteFull(buf []byte) error {
	n, err := t.rw.Write(buf)
	if err != nil {
		return &BusError{Op: "write", Err: err}
	}
	if n != len(buf) {
		return ErrShortWrite
	}
	return nil
}
