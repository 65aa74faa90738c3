// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bno08x drives a Hillcrest/CEVA BNO08x-class 9-DOF IMU over I²C: it
// owns the bootstrap sequence, report enablement, and the receive loop that
// assembles SHTP frames and SH-2 reports into pose-frames.
package bno08x

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/periph/conn/i2c"

	"github.com/ignacy7312/gestures-recognition/conn/sh2"
	"github.com/ignacy7312/gestures-recognition/conn/shtp"
)

// ErrorKind classifies a Fault for the supervisor's recovery table.
type ErrorKind int

// Recognized error kinds. See Fault.
const (
	KindTimeout ErrorKind = iota
	KindBus
	KindOversizeFrame
	KindInvalidHeader
	KindProtocol
	KindComm
	KindSensorReset
	KindProductID
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindBus:
		return "BusError"
	case KindOversizeFrame:
		return "OversizeFrame"
	case KindInvalidHeader:
		return "InvalidHeader"
	case KindProtocol:
		return "Protocol"
	case KindComm:
		return "Comm"
	case KindSensorReset:
		return "SensorReset"
	case KindProductID:
		return "ProductId"
	default:
		return "Unknown"
	}
}

// Fault is the higher-level error taxonomy the session manager converts
// framer/codec errors into. The supervisor recovers the Kind via errors.As.
type Fault struct {
	Kind ErrorKind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("bno08x: %s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func fault(kind ErrorKind, err error) *Fault { return &Fault{Kind: kind, Err: err} }

// Opts configures a session. Hz is clamped to [1, 400].
type Opts struct {
	Addr      uint16
	Hz        int
	TimeoutMs int
}

// DefaultOpts is a reasonable starting point: 0x4A (BNO08x default SDO-low
// address), 100 Hz, 500 ms poll timeout.
var DefaultOpts = Opts{
	Addr:      0x4A,
	Hz:        100,
	TimeoutMs: 500,
}

func clampHz(hz int) int {
	if hz < 1 {
		return 1
	}
	if hz > 400 {
		return 400
	}
	return hz
}

// Frame is one assembled pose-frame: linear or gravity-compensated
// acceleration, calibrated gyro, and game rotation vector, all sampled at
// (approximately) the same instant.
type Frame struct {
	T    time.Duration
	Ax   float64
	Ay   float64
	Az   float64
	Gx   float64
	Gy   float64
	Gz   float64
	Qw   float64
	Qi   float64
	Qj   float64
	Qk   float64
}

// slots holds the latest decoded value for each report family plus a
// freshness marker set when a new decode lands and cleared on emission.
type slots struct {
	linear    sh2.Vec3
	linearNew bool

	absolute    sh2.Vec3
	absoluteNew bool

	gyro    sh2.Vec3
	gyroNew bool

	quat    sh2.Quat
	quatNew bool
}

func (s *slots) reset() { *s = slots{} }

// state is the session's lifecycle state, per the bootstrap/streaming/reset
// machine.
type state int

const (
	stateClosed state = iota
	stateOpening
	stateEnablingReports
	stateStreaming
	stateResetting
)

// Dev is a handle to an initialized BNO08x session.
type Dev struct {
	dev    i2c.Dev
	framer *shtp.Framer
	log    *slog.Logger

	opts Opts

	state state
	slots slots

	epoch        time.Time
	pendingReset bool
	lastErr      error
}

func (d *Dev) String() string {
	return fmt.Sprintf("bno08x{%s}", d.dev.String())
}

// Logger sets the structured logger used for state transitions and fault
// classification. Defaults to slog.Default() if never called.
func (d *Dev) Logger(l *slog.Logger) { d.log = l }

const (
	channelExecutable = shtp.Executable
	channelHubControl = shtp.HubControl

	resetCompleteOpcode = 0x01
	productIDRequest    = 0xF9
	productIDResponse   = 0xF8

	drainIterations    = 8
	productIDTimeout   = 500 * time.Millisecond
	shortReadTimeout   = 20 * time.Millisecond
)

// NewI2C bootstraps a BNO08x session on bus at addr: soft-reset, drain
// advertisements, and a Product ID handshake, per the bootstrap sequence.
func NewI2C(bus i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}
	o := *opts
	o.Hz = clampHz(o.Hz)
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = DefaultOpts.TimeoutMs
	}

	transport, err := shtp.NewI2C(bus, addr)
	if err != nil {
		return nil, fault(KindBus, err)
	}

	d := &Dev{
		dev:    i2c.Dev{Bus: bus, Addr: addr},
		framer: shtp.NewFramer(transport),
		log:    slog.Default(),
		opts:   o,
	}
	if err := d.bootstrap(); err != nil {
		return nil, err
	}
	if err := d.EnableReports(o.Hz); err != nil {
		return nil, err
	}
	return d, nil
}

// bootstrap runs steps 1-6 of the bootstrap sequence. The bus is already
// open and bound (the i2c.Dev was built by the caller); this clears session
// state, soft-resets the sensor, drains startup traffic, and completes the
// Product ID handshake.
func (d *Dev) bootstrap() error {
	d.state = stateOpening
	d.log.Info("bno08x: bootstrap starting")

	d.slots.reset()
	d.pendingReset = false

	if err := d.framer.WriteFrame(channelExecutable, []byte{0x01}); err != nil {
		return d.convertAndRecord(err)
	}

	for i := 0; i < drainIterations; i++ {
		if _, err := d.framer.ReadFrame(shortReadTimeout); err != nil {
			return d.convertAndRecord(err)
		}
	}

	if err := d.framer.WriteFrame(channelHubControl, []byte{productIDRequest, 0, 0, 0}); err != nil {
		return d.convertAndRecord(err)
	}
	deadline := time.Now().Add(productIDTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err := fault(KindProductID, errors.New("product id response not received"))
			d.lastErr = err
			return err
		}
		fr, err := d.framer.ReadFrame(remaining)
		if err != nil {
			return d.convertAndRecord(err)
		}
		if fr == nil {
			continue
		}
		if fr.Channel == channelHubControl && len(fr.Payload) > 0 && fr.Payload[0] == productIDResponse {
			break
		}
	}

	d.epoch = time.Now()
	d.log.Info("bno08x: bootstrap complete")
	return nil
}

// EnableReports writes the set-feature command for every report this
// session consumes, at the given rate.
func (d *Dev) EnableReports(hz int) error {
	d.state = stateEnablingReports
	hz = clampHz(hz)
	interval := time.Second / time.Duration(hz)

	ids := []sh2.SensorID{sh2.LinearAcceleration, sh2.Accelerometer, sh2.GyroscopeCalibrated, sh2.GameRotationVector}
	for _, id := range ids {
		payload := sh2.EncodeSetFeature(id, interval)
		if err := d.framer.WriteFrame(channelHubControl, payload); err != nil {
			return d.convertAndRecord(err)
		}
	}

	d.opts.Hz = hz
	d.state = stateStreaming
	d.log.Info("bno08x: streaming", "hz", hz)
	return nil
}

// PollFrame runs the receive loop until a complete pose-frame is assembled
// or timeoutMs elapses.
func (d *Dev) PollFrame(timeoutMs int) (*Frame, error) {
	if timeoutMs <= 0 {
		timeoutMs = d.opts.TimeoutMs
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, d.convertAndRecord(shtp.ErrTimeout)
		}

		fr, err := d.framer.ReadFrame(remaining)
		if err != nil {
			return nil, d.convertAndRecord(err)
		}
		if fr == nil {
			return nil, d.convertAndRecord(shtp.ErrTimeout)
		}

		switch fr.Channel {
		case shtp.Executable:
			if len(fr.Payload) > 0 && fr.Payload[0] == resetCompleteOpcode {
				d.pendingReset = true
				d.log.Warn("bno08x: reset-complete opcode seen")
			}
		case shtp.HubControl:
			if len(fr.Payload) > 0 && isErrorList(fr.Payload) {
				d.lastErr = fmt.Errorf("bno08x: sensor-reported error list: % x", fr.Payload)
				d.log.Error("bno08x: error list from sensor", "payload", fr.Payload)
			}
		case shtp.SensorNormal, shtp.GyroRV:
			d.applyReports(fr.Payload)
			if f := d.tryAssemble(); f != nil {
				return f, nil
			}
		}

		// A reset-complete opcode is surfaced at the next opportunity: as
		// soon as this frame has been fully processed, not deferred to the
		// next read (which may never come if the sensor is mid-reset).
		if d.pendingReset {
			d.pendingReset = false
			err := fault(KindSensorReset, errors.New("sensor reported an autonomous reset"))
			d.lastErr = err
			d.log.Warn("bno08x: sensor reset observed")
			return nil, err
		}
	}
}

// isErrorList recognizes the HubControl error-list report (id 0x01 in that
// channel's command space — distinct from the sh2.Accelerometer id used on
// the sensor channels).
func isErrorList(payload []byte) bool {
	return payload[0] == 0x01
}

func (d *Dev) applyReports(payload []byte) {
	for _, ev := range sh2.DecodeAll(payload) {
		switch ev.SensorID {
		case sh2.LinearAcceleration:
			d.slots.linear = *ev.Accel
			d.slots.linearNew = true
		case sh2.Accelerometer:
			d.slots.absolute = *ev.Accel
			d.slots.absoluteNew = true
		case sh2.GyroscopeCalibrated:
			d.slots.gyro = *ev.Gyro
			d.slots.gyroNew = true
		case sh2.GameRotationVector:
			d.slots.quat = *ev.GameQuat
			d.slots.quatNew = true
		default:
			d.log.Debug("bno08x: undecodable report id", "id", ev.SensorID)
		}
	}
}

// estimatedGravity approximates the gravity vector when only the absolute
// accelerometer slot is fresh: the linear-acceleration report already
// subtracts gravity on-sensor, so in its absence this package subtracts a
// fixed standard-gravity vector along the sensor's +X axis. It does not
// follow the sensor's orientation; the gesture package's own baseline
// estimate is the authoritative gravity reference over time.
func estimatedGravity() sh2.Vec3 {
	return sh2.Vec3{X: 9.80665}
}

func (d *Dev) tryAssemble() *Frame {
	var accel sh2.Vec3
	haveAccel := false
	if d.slots.linearNew {
		accel = d.slots.linear
		haveAccel = true
	} else if d.slots.absoluteNew {
		g := estimatedGravity()
		accel = sh2.Vec3{X: d.slots.absolute.X - g.X, Y: d.slots.absolute.Y - g.Y, Z: d.slots.absolute.Z - g.Z}
		haveAccel = true
	}
	if !haveAccel || !d.slots.gyroNew || !d.slots.quatNew {
		return nil
	}

	f := &Frame{
		T:  time.Since(d.epoch),
		Ax: accel.X, Ay: accel.Y, Az: accel.Z,
		Gx: d.slots.gyro.X, Gy: d.slots.gyro.Y, Gz: d.slots.gyro.Z,
		Qw: d.slots.quat.W, Qi: d.slots.quat.X, Qj: d.slots.quat.Y, Qk: d.slots.quat.Z,
	}

	d.slots.linearNew = false
	d.slots.absoluteNew = false
	d.slots.gyroNew = false
	d.slots.quatNew = false

	return f
}

// HandleReset re-runs the bootstrap sequence and report enablement without
// reopening the bus, per the Resetting state's transition back to
// EnablingReports.
func (d *Dev) HandleReset() error {
	d.state = stateResetting
	d.log.Info("bno08x: handling reset")
	if err := d.bootstrap(); err != nil {
		return err
	}
	return d.EnableReports(d.opts.Hz)
}

// LastError returns the last non-timeout error observed, or nil.
func (d *Dev) LastError() error { return d.lastErr }

// convertAndRecord maps a framer/transport error into the Fault taxonomy,
// records it via LastError() unless it's a soft Timeout, and logs at the
// appropriate level.
func (d *Dev) convertAndRecord(err error) error {
	var f *Fault
	switch {
	case errors.Is(err, shtp.ErrTimeout):
		f = fault(KindTimeout, err)
		d.log.Warn("bno08x: timeout")
		return f
	case errors.Is(err, shtp.ErrOversizeFrame):
		f = fault(KindOversizeFrame, err)
	case errors.Is(err, shtp.ErrInvalidHeader):
		f = fault(KindInvalidHeader, err)
	case errors.Is(err, shtp.ErrShortRead), errors.Is(err, shtp.ErrShortWrite):
		f = fault(KindComm, err)
	default:
		var busErr *shtp.BusError
		if errors.As(err, &busErr) {
			f = fault(KindBus, err)
		} else {
			f = fault(KindProtocol, err)
		}
	}
	d.lastErr = f
	d.log.Error("bno08x: fault", "kind", f.Kind, "err", f.Err)
	return f
}
