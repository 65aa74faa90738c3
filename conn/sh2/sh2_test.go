// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sh2

import (
	"math"
	"testing"
	"time"
)

// TestDecode_accelerometer decodes an accuracy byte plus a 3-axis Q8 payload.
func TestDecode_accelerometer(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x03, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0xFF}
	ev, n, ok := Decode(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if n != 10 {
		t.Fatalf("consumed %d, want 10", n)
	}
	if ev.Accuracy != High {
		t.Fatalf("accuracy = %v, want High", ev.Accuracy)
	}
	if ev.Accel == nil {
		t.Fatal("Accel not populated")
	}
	if ev.Accel.X != 1.0 || ev.Accel.Y != 2.0 || ev.Accel.Z != -1.0 {
		t.Fatalf("accel = %+v, want {1 2 -1}", *ev.Accel)
	}
}

// TestDecode_gameRotationVector exercises scenario 4: a Q14-encoded identity
// quaternion decodes exactly.
func TestDecode_gameRotationVector(t *testing.T) {
	payload := []byte{0x08, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40}
	ev, n, ok := Decode(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if n != 12 {
		t.Fatalf("consumed %d, want 12", n)
	}
	if ev.GameQuat == nil {
		t.Fatal("GameQuat not populated")
	}
	q := *ev.GameQuat
	if q.W != 1.0 || q.X != 0 || q.Y != 0 || q.Z != 0 {
		t.Fatalf("quat = %+v, want identity", q)
	}
}

func TestDecode_quatNormNominal(t *testing.T) {
	// i = 0x2000 = 0.5 and real = 0x38E0 = 14560 raw ≈ 0.8887, so |q|² ≈ 1.04
	// lands near 1 — a nominal quaternion should have |q|² ∈ [0.9, 1.1].
	payload := []byte{0x08, 0x00, 0x03, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0xE0, 0x38}
	ev, _, ok := Decode(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	q := *ev.GameQuat
	norm2 := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if norm2 < 0.9 || norm2 > 1.1 {
		t.Fatalf("|q|^2 = %v, out of [0.9, 1.1]", norm2)
	}
}

func TestDecode_gyroscope(t *testing.T) {
	payload := []byte{0x02, 0x00, 0x02, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00}
	ev, _, ok := Decode(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if ev.Accuracy != Medium {
		t.Fatalf("accuracy = %v, want Medium", ev.Accuracy)
	}
	want := float64(512) / 512.0
	if math.Abs(ev.Gyro.X-want) > 1e-9 {
		t.Fatalf("gyro.X = %v, want %v", ev.Gyro.X, want)
	}
}

func TestDecode_undersized(t *testing.T) {
	if _, _, ok := Decode([]byte{0x01, 0x00, 0x00}); ok {
		t.Fatal("expected decode to fail on undersized input")
	}
}

func TestDecode_unknownID(t *testing.T) {
	if _, n, ok := Decode([]byte{0xFE, 0, 0, 0, 0, 0, 0, 0, 0, 0}); ok || n != 0 {
		t.Fatalf("expected (0, false) for unknown id, got (%d, %v)", n, ok)
	}
}

// TestDecodeAll_baseTimestampSkip exercises scenario 5.
func TestDecodeAll_baseTimestampSkip(t *testing.T) {
	payload := append([]byte{0xFB, 0x10, 0x00, 0x00, 0x00},
		0x01, 0x00, 0x03, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0xFF)
	evs := DecodeAll(payload)
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].SensorID != Accelerometer {
		t.Fatalf("sensor id = %v, want Accelerometer", evs[0].SensorID)
	}
}

func TestDecodeAll_multipleRecords(t *testing.T) {
	acc := []byte{0x01, 0x00, 0x03, 0x00, 0x00, 0x01, 0x00, 0x02, 0x00, 0xFF}
	gyro := []byte{0x02, 0x01, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	evs := DecodeAll(append(append([]byte{}, acc...), gyro...))
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	if evs[0].SensorID != Accelerometer || evs[1].SensorID != GyroscopeCalibrated {
		t.Fatalf("ids = %v, %v", evs[0].SensorID, evs[1].SensorID)
	}
}

func TestEncodeSetFeature(t *testing.T) {
	b := EncodeSetFeature(GameRotationVector, 10*time.Millisecond)
	if len(b) != 17 {
		t.Fatalf("len = %d, want 17", len(b))
	}
	if b[0] != 0xFD {
		t.Fatalf("b[0] = %#x, want 0xfd", b[0])
	}
	if b[1] != byte(GameRotationVector) {
		t.Fatalf("b[1] = %#x, want sensor id", b[1])
	}
	if b[2] != 0 || b[3] != 0 || b[4] != 0 {
		t.Fatalf("flags/sensCh should be zero, got %v", b[2:5])
	}
	gotInterval := uint32(b[5]) | uint32(b[6])<<8 | uint32(b[7])<<16 | uint32(b[8])<<24
	if gotInterval != 10000 {
		t.Fatalf("interval = %d us, want 10000", gotInterval)
	}
	for _, v := range b[9:] {
		if v != 0 {
			t.Fatalf("trailing bytes must be zero, got %v", b[9:])
		}
	}
}
