// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ignacy7312/gestures-recognition/conn/sh2"
	"github.com/ignacy7312/gestures-recognition/conn/shtp"
	"github.com/ignacy7312/gestures-recognition/devices/bno08x"
)

// fakeBus is a scripted I²C bus double: queued entries are raw on-wire
// frames, consumed across one or more Tx reads in order.
type fakeBus struct {
	queue [][]byte
	cur   []byte

	writes [][]byte
}

func (b *fakeBus) String() string       { return "fakeBus" }
func (b *fakeBus) Speed(hz int64) error { return nil }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if w != nil {
		b.writes = append(b.writes, append([]byte{}, w...))
	}
	if r != nil {
		if len(b.cur) == 0 {
			if len(b.queue) == 0 {
				for i := range r {
					r[i] = 0
				}
				return nil
			}
			b.cur = b.queue[0]
			b.queue = b.queue[1:]
		}
		n := copy(r, b.cur)
		for i := n; i < len(r); i++ {
			r[i] = 0
		}
		b.cur = b.cur[n:]
	}
	return nil
}

func encodeFrame(ch shtp.Channel, seq uint8, payload []byte) []byte {
	total := 4 + len(payload)
	b := make([]byte, total)
	b[0] = byte(total & 0xFF)
	b[1] = byte((total >> 8) & 0x7F)
	b[2] = byte(ch)
	b[3] = seq
	copy(b[4:], payload)
	return b
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bootstrapQueue() [][]byte {
	// 16 is comfortably above the session manager's drain-iteration count;
	// any extras are just read as further idle/advertisement frames.
	var q [][]byte
	for i := 0; i < 16; i++ {
		q = append(q, encodeFrame(shtp.Command, uint8(i), nil))
	}
	q = append(q, encodeFrame(shtp.HubControl, 0, []byte{0xF8, 0, 0, 0}))
	return q
}

func poseReportPayload() []byte {
	accel := []byte{byte(sh2.LinearAcceleration), 0, 0x03, 0, 0, 0x01, 0, 0x02, 0, 0xFF}
	gyro := []byte{byte(sh2.GyroscopeCalibrated), 0, 0x02, 0, 0, 0x02, 0, 0, 0, 0}
	quat := []byte{byte(sh2.GameRotationVector), 0, 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0x40}
	return append(append(append([]byte{}, accel...), gyro...), quat...)
}

func TestNew_bootstrapsAndBuildsDetector(t *testing.T) {
	b := &fakeBus{queue: bootstrapQueue()}
	cfg := Config{
		DevOpts:    bno08xOpts(),
		PollTimeMs: 50,
		Logger:     newTestLogger(),
	}
	s, err := New(b, 0x4A, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.dev == nil || s.det == nil {
		t.Fatal("New did not populate dev/detector")
	}
}

func TestRun_streamsFramesAndStopsOnCancel(t *testing.T) {
	b := &fakeBus{queue: bootstrapQueue()}
	b.queue = append(b.queue, encodeFrame(shtp.SensorNormal, 1, poseReportPayload()))

	cfg := Config{
		DevOpts:         bno08xOpts(),
		PollTimeMs:      20,
		MetricsInterval: time.Hour,
		Logger:          newTestLogger(),
	}
	s, err := New(b, 0x4A, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case fr := <-s.Frames():
		if fr.Ax != 1.0 {
			t.Fatalf("ax = %v, want 1.0", fr.Ax)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a pose-frame")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestHandleFault_timeoutDropsAndContinues(t *testing.T) {
	b := &fakeBus{queue: bootstrapQueue()}
	cfg := Config{DevOpts: bno08xOpts(), PollTimeMs: 10, Logger: newTestLogger()}
	s, err := New(b, 0x4A, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	fr, perr := s.dev.PollFrame(10)
	if fr != nil {
		t.Fatal("expected no frame on an idle bus")
	}
	if perr == nil {
		t.Fatal("expected a Timeout fault")
	}
	if rerr := s.handleFault(ctx, perr); rerr != nil {
		t.Fatalf("handleFault returned an error for a Timeout: %v", rerr)
	}
	if s.totalDrops != 1 {
		t.Fatalf("totalDrops = %d, want 1", s.totalDrops)
	}
}

func bno08xOpts() bno08x.Opts {
	return bno08x.Opts{Hz: 100, TimeoutMs: 50}
}
