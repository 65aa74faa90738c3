// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sh2 implements the SH-2 sensor-hub report layer that rides on top
// of SHTP (package conn/shtp): decoding of fixed-point sensor reports and
// encoding of "set feature" command payloads. It performs no I/O — mirrors
// how devices/bmxx80 keeps its calibration math (calibration180,
// calibration280) free of bus access so it can be tested as pure functions.
package sh2

import (
	"encoding/binary"
	"time"
)

// SensorID is the 8-bit report identifier SH-2 reports and commands carry.
type SensorID uint8

// Recognized sensor IDs. The status-only IDs (step detector/counter,
// stability classifier, activity classifier) are reserved but their byte
// layout is unresolved, so Decode treats them like any unrecognized ID and
// returns (nil, 0, false).
const (
	Accelerometer       SensorID = 0x01
	GyroscopeCalibrated SensorID = 0x02
	LinearAcceleration  SensorID = 0x04
	Gravity             SensorID = 0x06
	GameRotationVector  SensorID = 0x08

	StepDetector               SensorID = 0x18
	StepCounter                SensorID = 0x11
	StabilityClassifier        SensorID = 0x13
	PersonalActivityClassifier SensorID = 0x1E
)

func (s SensorID) String() string {
	switch s {
	case Accelerometer:
		return "Accelerometer"
	case GyroscopeCalibrated:
		return "GyroscopeCalibrated"
	case LinearAcceleration:
		return "LinearAcceleration"
	case Gravity:
		return "Gravity"
	case GameRotationVector:
		return "GameRotationVector"
	default:
		return "Unknown"
	}
}

// Accuracy is the low 2 bits of a report's status octet.
type Accuracy uint8

// Possible accuracy values.
const (
	Unreliable Accuracy = 0
	Low        Accuracy = 1
	Medium     Accuracy = 2
	High       Accuracy = 3
)

func (a Accuracy) String() string {
	switch a {
	case Unreliable:
		return "Unreliable"
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	default:
		return "Invalid"
	}
}

// Vec3 is a 3-axis fixed-point-decoded sample.
type Vec3 struct{ X, Y, Z float64 }

// Quat is a unit quaternion in (w, i, j, k) order (w first; the wire order
// is i,j,k,real — Decode re-orders it on the way in).
type Quat struct{ W, X, Y, Z float64 }

// SensorEvent is the decoded outcome of one SH-2 report record.
type SensorEvent struct {
	SensorID SensorID
	Accuracy Accuracy

	Accel    *Vec3 // populated for Accelerometer / LinearAcceleration
	Gyro     *Vec3 // populated for GyroscopeCalibrated
	GameQuat *Quat // populated for GameRotationVector
}

// Q-format scales: raw / 2^n.
const (
	q8Scale  = 1.0 / 256.0
	q9Scale  = 1.0 / 512.0
	q14Scale = 1.0 / 16384.0
)

// recordLen reports the byte length of one record for the report IDs this
// package understands, or 0 if unknown (the caller can't safely skip an
// unknown record without knowing its length).
func recordLen(id SensorID) int {
	switch id {
	case Accelerometer, GyroscopeCalibrated, LinearAcceleration:
		return 10
	case GameRotationVector:
		return 12
	default:
		return 0
	}
}

func le16(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }

// Decode parses one sensor-report record — not a whole channel payload — and
// reports how many bytes it consumed. ok is false for undersized input or an
// unrecognized report ID; in the latter case n is 0 since the record's
// length can't be determined.
func Decode(b []byte) (ev *SensorEvent, n int, ok bool) {
	if len(b) < 4 {
		return nil, 0, false
	}
	id := SensorID(b[0])
	want := recordLen(id)
	if want == 0 || len(b) < want {
		return nil, 0, false
	}
	status := b[2]
	accuracy := Accuracy(status & 0x03)

	e := &SensorEvent{SensorID: id, Accuracy: accuracy}
	switch id {
	case Accelerometer, LinearAcceleration:
		e.Accel = &Vec3{
			X: float64(le16(b[4:6])) * q8Scale,
			Y: float64(le16(b[6:8])) * q8Scale,
			Z: float64(le16(b[8:10])) * q8Scale,
		}
	case GyroscopeCalibrated:
		e.Gyro = &Vec3{
			X: float64(le16(b[4:6])) * q9Scale,
			Y: float64(le16(b[6:8])) * q9Scale,
			Z: float64(le16(b[8:10])) * q9Scale,
		}
	case GameRotationVector:
		i := float64(le16(b[4:6])) * q14Scale
		j := float64(le16(b[6:8])) * q14Scale
		k := float64(le16(b[8:10])) * q14Scale
		real := float64(le16(b[10:12])) * q14Scale
		e.GameQuat = &Quat{W: real, X: i, Y: j, Z: k}
	}
	return e, want, true
}

// baseTimestampMarker is the leading octet of an optional 5-octet prefix
// that may precede the first report in a sensor-channel payload.
const baseTimestampMarker = 0xFB
const baseTimestampLen = 5

// DecodeAll strips an optional base-timestamp prefix and decodes every
// successive report record it can from payload, in order. It stops — rather
// than erroring — at the first byte it can't interpret as a known report
// header, since an unrecognized ID carries no reliable length to skip.
func DecodeAll(payload []byte) []SensorEvent {
	if len(payload) >= baseTimestampLen && payload[0] == baseTimestampMarker {
		payload = payload[baseTimestampLen:]
	}
	var out []SensorEvent
	for len(payload) > 0 {
		ev, n, ok := Decode(payload)
		if !ok {
			break
		}
		out = append(out, *ev)
		payload = payload[n:]
	}
	return out
}

// EncodeSetFeature builds the 17-octet "set feature" command payload for
// sensorID at the given report interval, ready to write on HubControl.
func EncodeSetFeature(sensorID SensorID, interval time.Duration) []byte {
	b := make([]byte, 17)
	b[0] = 0xFD
	b[1] = byte(sensorID)
	// b[2] flags = 0 (non-wakeup), b[3:5] sensor-specific config channel = 0
	intervalUs := uint32(interval / time.Microsecond)
	binary.LittleEndian.PutUint32(b[5:9], intervalUs)
	// b[9:13] batch interval = 0 (live streaming), b[13:17] sensor config = 0
	return b
}
