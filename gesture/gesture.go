// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gesture

import (
	"fmt"
	"time"
)

// Axis is one of the three world-frame axes a gesture projects onto.
type Axis int

// The three world-frame axes.
const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Label is a discrete direction the detector can emit.
type Label string

// Recognized labels. See Config.Labels for the axis+sign → Label policy.
const (
	Up       Label = "UP"
	Down     Label = "DOWN"
	Forward  Label = "FORWARD"
	Backward Label = "BACKWARD"
	Right    Label = "RIGHT"
	Left     Label = "LEFT"
)

// DefaultLabels assumes the rotation vector used (game rotation vector) is
// gravity-referenced with X as the gravity axis, so X corresponds to
// up/down, Y to forward/backward and Z to left/right. Deployments needing
// body-relative labels remap after capturing an initial orientation — this
// package has no notion of that remapping itself; the mapping is a
// deployment-wide policy decided once, not per sample.
var DefaultLabels = map[Axis][2]Label{
	AxisX: {Down, Up},          // sign - / +
	AxisY: {Backward, Forward}, // sign - / +
	AxisZ: {Left, Right},       // sign - / +
}

// Config holds the tunables for the detector.
type Config struct {
	BaselineWindow    time.Duration
	HalfWindow        time.Duration
	MinDynThreshold   float64 // m/s^2
	MinPeakMagnitude  float64 // m/s^2
	MinGestureInterval time.Duration
	AxisThreshold     float64 // m/s, on the integrated Δv

	// Labels maps (axis, sign) to a Label. Defaults to DefaultLabels when nil.
	Labels map[Axis][2]Label
}

// DefaultConfig sets a 0.5 m/s axis threshold, with window sizes left to
// the caller — there is no universally "right" window for every
// deployment, so only the axis threshold has a literal default.
var DefaultConfig = Config{
	AxisThreshold: 0.5,
}

// Sample is one buffered (time, world-frame acceleration, orientation)
// observation.
type Sample struct {
	T     time.Duration
	World Vec3
	Quat  Quat
}

// Result is one emitted gesture-direction classification.
type Result struct {
	TCenter  time.Duration
	Duration time.Duration
	DeltaV   Vec3
	Baseline Vec3
	Axis     Axis
	Positive bool
	Label    Label
}

// Detector implements a sliding-window peak-detection classifier. It owns
// its sample buffer; samples are appended by Push and expired by age.
type Detector struct {
	cfg Config

	buf []Sample

	baseline      Vec3
	baselineReady bool

	lastEmit    time.Duration
	haveEmitted bool
}

// NewDetector builds a Detector. A nil cfg.Labels falls back to
// DefaultLabels.
func NewDetector(cfg Config) *Detector {
	if cfg.Labels == nil {
		cfg.Labels = DefaultLabels
	}
	return &Detector{cfg: cfg}
}

// bufferHorizon is the retention window for buffered samples once the
// baseline is established: at most 2.5 × half_window seconds.
func (d *Detector) bufferHorizon() time.Duration {
	return time.Duration(2.5 * float64(d.cfg.HalfWindow))
}

// Push appends one world-frame acceleration sample (already rotated by the
// caller, or rotated here from sensor-frame + quaternion — see PushSensor)
// and returns a Result if a gesture completes on this sample.
func (d *Detector) Push(t time.Duration, world Vec3, q Quat) (Result, bool) {
	d.buf = append(d.buf, Sample{T: t, World: world, Quat: q})
	d.expire(t)

	if !d.baselineReady {
		d.tryEstablishBaseline()
		return Result{}, false
	}
	return d.trySearch(t)
}

// PushSensor rotates a sensor-frame acceleration sample into the world
// frame via q before pushing it.
func (d *Detector) PushSensor(t time.Duration, sensorAccel Vec3, q Quat) (Result, bool) {
	return d.Push(t, q.Rotate(sensorAccel), q)
}

func (d *Detector) expire(now time.Duration) {
	horizon := d.bufferHorizon()
	if !d.baselineReady && d.cfg.BaselineWindow > horizon {
		// While dormant the buffer must also span the baseline window.
		horizon = d.cfg.BaselineWindow
	}
	cut := 0
	for cut < len(d.buf) && now-d.buf[cut].T > horizon {
		cut++
	}
	if cut > 0 {
		d.buf = append([]Sample{}, d.buf[cut:]...)
	}
}

// tryEstablishBaseline computes the gravity-baseline mean once at least 3
// samples span the configured baseline window.
func (d *Detector) tryEstablishBaseline() {
	if len(d.buf) < 3 {
		return
	}
	span := d.buf[len(d.buf)-1].T - d.buf[0].T
	if span < d.cfg.BaselineWindow {
		return
	}
	var sum Vec3
	n := 0
	for _, s := range d.buf {
		if d.buf[len(d.buf)-1].T-s.T > d.cfg.BaselineWindow {
			continue
		}
		sum = sum.Add(s.World)
		n++
	}
	if n < 3 {
		return
	}
	d.baseline = sum.Scale(1 / float64(n))
	d.baselineReady = true
}

func (d *Detector) dyn(s Sample) Vec3 {
	return s.World.Sub(d.baseline)
}

func (d *Detector) trySearch(now time.Duration) (Result, bool) {
	if d.haveEmitted && now-d.lastEmit < d.cfg.MinGestureInterval {
		return Result{}, false
	}

	peakIdx := -1
	peakMag2 := 0.0
	for i, s := range d.buf {
		m2 := d.dyn(s).NormSquared()
		if m2 > peakMag2 {
			peakMag2 = m2
			peakIdx = i
		}
	}
	if peakIdx < 0 {
		return Result{}, false
	}
	thresh := d.cfg.MinPeakMagnitude
	if peakMag2 < thresh*thresh {
		return Result{}, false
	}

	tPeak := d.buf[peakIdx].T
	lo := tPeak - d.cfg.HalfWindow
	hi := tPeak + d.cfg.HalfWindow
	if now < hi {
		// The peak's trailing half-window hasn't arrived yet; searching now
		// would integrate over a truncated window and risk a premature,
		// inaccurate Δv that then blocks the correct one via
		// min_gesture_interval. Wait for more samples.
		return Result{}, false
	}

	var windowed []Sample
	for _, s := range d.buf {
		if s.T >= lo && s.T <= hi {
			windowed = append(windowed, s)
		}
	}
	if len(windowed) < 3 {
		return Result{}, false
	}

	var deltaV Vec3
	for i := 1; i < len(windowed); i++ {
		prev, cur := windowed[i-1], windowed[i]
		a := d.dyn(cur)
		if a.NormSquared() < d.cfg.MinDynThreshold*d.cfg.MinDynThreshold {
			continue
		}
		dt := float64(cur.T-prev.T) / float64(time.Second)
		deltaV = deltaV.Add(a.Scale(dt))
	}

	axis, positive, mag := dominantAxis(deltaV)
	if mag < d.cfg.AxisThreshold {
		return Result{}, false
	}

	label := labelFor(d.cfg.Labels, axis, positive)

	r := Result{
		TCenter:  tPeak,
		Duration: windowed[len(windowed)-1].T - windowed[0].T,
		DeltaV:   deltaV,
		Baseline: d.baseline,
		Axis:     axis,
		Positive: positive,
		Label:    label,
	}
	d.lastEmit = tPeak
	d.haveEmitted = true
	return r, true
}

func dominantAxis(v Vec3) (axis Axis, positive bool, mag float64) {
	ax, ay, az := abs(v.X), abs(v.Y), abs(v.Z)
	switch {
	case ax >= ay && ax >= az:
		return AxisX, v.X >= 0, ax
	case ay >= ax && ay >= az:
		return AxisY, v.Y >= 0, ay
	default:
		return AxisZ, v.Z >= 0, az
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func labelFor(labels map[Axis][2]Label, axis Axis, positive bool) Label {
	pair := labels[axis]
	if positive {
		return pair[1]
	}
	return pair[0]
}
