// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gesture

import (
	"math"
	"testing"
	"time"
)

func TestRotate_identity(t *testing.T) {
	q := Quat{W: 1}
	v := Vec3{1, 2, 3}
	got := q.Rotate(v)
	if got != v {
		t.Fatalf("identity rotation changed vector: %+v", got)
	}
}

func TestRotate_90AboutZ(t *testing.T) {
	// 90° about Z: (1,0,0) -> (0,1,0).
	half := math.Pi / 4
	q := Quat{W: math.Cos(half), Z: math.Sin(half)}
	got := q.Rotate(Vec3{1, 0, 0})
	if math.Abs(got.X) > 1e-9 || math.Abs(got.Y-1) > 1e-9 {
		t.Fatalf("got %+v, want (0,1,0)", got)
	}
}

// TestEndToEndGesture runs a synthetic stream where
// a_world = baseline + [0,0,5 sin(pi t)] over 1 second at 100 Hz, which
// must classify as axis=Z, sign=+, label=RIGHT, t_center ≈ 0.5s.
func TestEndToEndGesture(t *testing.T) {
	cfg := Config{
		BaselineWindow:      100 * time.Millisecond,
		HalfWindow:          150 * time.Millisecond,
		MinDynThreshold:     0.2,
		MinPeakMagnitude:    2.0,
		MinGestureInterval:  time.Second,
		AxisThreshold:       0.5,
	}
	d := NewDetector(cfg)

	baseline := Vec3{9.81, 0, 0}
	identity := Quat{W: 1}

	var last Result
	var got bool
	const hz = 100
	for i := 0; i <= hz; i++ {
		tSec := float64(i) / hz
		tt := time.Duration(tSec * float64(time.Second))
		world := Vec3{
			X: baseline.X,
			Y: baseline.Y,
			Z: baseline.Z + 5*math.Sin(math.Pi*tSec),
		}
		if r, ok := d.Push(tt, world, identity); ok {
			last, got = r, true
		}
	}

	if !got {
		t.Fatal("no gesture emitted")
	}
	if last.Axis != AxisZ {
		t.Fatalf("axis = %v, want Z", last.Axis)
	}
	if !last.Positive {
		t.Fatal("sign = -, want +")
	}
	if last.Label != Right {
		t.Fatalf("label = %v, want RIGHT", last.Label)
	}
	wantCenter := 500 * time.Millisecond
	if d := last.TCenter - wantCenter; d < -20*time.Millisecond || d > 20*time.Millisecond {
		t.Fatalf("t_center = %v, want ~%v", last.TCenter, wantCenter)
	}
}

func TestGestureSeparation_monotonic(t *testing.T) {
	cfg := Config{
		BaselineWindow:     50 * time.Millisecond,
		HalfWindow:         50 * time.Millisecond,
		MinDynThreshold:    0.2,
		MinPeakMagnitude:   2.0,
		MinGestureInterval: 300 * time.Millisecond,
		AxisThreshold:      0.5,
	}
	d := NewDetector(cfg)
	baseline := Vec3{9.81, 0, 0}
	identity := Quat{W: 1}

	var results []Result
	const hz = 200
	for i := 0; i <= 2*hz; i++ {
		tSec := float64(i) / hz
		tt := time.Duration(tSec * float64(time.Second))
		world := Vec3{X: baseline.X, Y: baseline.Y, Z: baseline.Z + 5*math.Sin(2*math.Pi*2*tSec)}
		if r, ok := d.Push(tt, world, identity); ok {
			results = append(results, r)
		}
	}
	for i := 1; i < len(results); i++ {
		gap := results[i].TCenter - results[i-1].TCenter
		if gap < cfg.MinGestureInterval {
			t.Fatalf("gesture %d..%d gap = %v, want >= %v", i-1, i, gap, cfg.MinGestureInterval)
		}
	}
}

func TestDetector_dormantUntilBaseline(t *testing.T) {
	cfg := DefaultConfig
	cfg.BaselineWindow = time.Second
	cfg.HalfWindow = 100 * time.Millisecond
	cfg.MinPeakMagnitude = 0.01
	cfg.MinGestureInterval = 10 * time.Millisecond
	d := NewDetector(cfg)
	for i := 0; i < 5; i++ {
		tt := time.Duration(i) * 10 * time.Millisecond
		if _, ok := d.Push(tt, Vec3{9.81, 0, 100}, Quat{W: 1}); ok {
			t.Fatal("detector should be dormant before baseline window elapses")
		}
	}
}
