// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package supervisor drives a bno08x.Dev's receive loop, classifies its
// faults, and applies the recovery strategy for each error class: soft
// reset, full re-init with exponential backoff, or simple drop-and-continue.
// It is the only layer that performs recovery — the session manager and
// codec packages only report faults locally.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"periph.io/x/periph/conn/i2c"

	"github.com/ignacy7312/gestures-recognition/devices/bno08x"
	"github.com/ignacy7312/gestures-recognition/gesture"
)

// Config holds everything needed to (re)build a session and drive it.
type Config struct {
	Addr       uint16
	DevOpts    bno08x.Opts
	Gesture    gesture.Config
	PollTimeMs int

	// MetricsInterval defaults to 5s.
	MetricsInterval time.Duration

	Logger *slog.Logger
}

// Metrics is one snapshot emitted on the side channel. It never carries
// errors inline with the pose/gesture streams — recovery and diagnostics
// live here instead.
type Metrics struct {
	TotalPoseFrames    uint64
	PoseFramesInWindow uint64
	EffectiveHz        float64
	DropPercent        float64
	TotalDrops         uint64
	LastError          string
}

// Supervisor owns a bus handle exclusively, rebuilding the session on hard
// faults and feeding pose-frames into a gesture.Detector.
type Supervisor struct {
	bus  i2c.Bus
	addr uint16
	cfg  Config
	log  *slog.Logger

	dev *bno08x.Dev
	det *gesture.Detector

	frames   chan bno08x.Frame
	gestures chan gesture.Result

	totalPoseFrames    uint64
	poseFramesInWindow uint64
	totalDrops         uint64
	dropsInWindow      uint64
	lastErrorText      string
	windowStart        time.Time
}

// New builds a Supervisor bound to bus/addr and performs the initial
// bootstrap. The caller drives recovery and streaming via Run.
func New(bus i2c.Bus, addr uint16, cfg Config) (*Supervisor, error) {
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	dev, err := bno08x.NewI2C(bus, addr, &cfg.DevOpts)
	if err != nil {
		return nil, err
	}
	dev.Logger(cfg.Logger)

	s := &Supervisor{
		bus:      bus,
		addr:     addr,
		cfg:      cfg,
		log:      cfg.Logger,
		dev:      dev,
		det:      gesture.NewDetector(cfg.Gesture),
		frames:   make(chan bno08x.Frame, 16),
		gestures: make(chan gesture.Result, 16),
	}
	s.windowStart = time.Now()
	return s, nil
}

// Frames is the pose-frame side-channel consumers read from, mirroring
// bmxx80.Dev.SenseContinuous's channel-handoff idiom.
func (s *Supervisor) Frames() <-chan bno08x.Frame { return s.frames }

// Gestures is the gesture-event side-channel.
func (s *Supervisor) Gestures() <-chan gesture.Result { return s.gestures }

// Run drives the receive loop until ctx is cancelled or an unrecoverable
// condition is reached (currently: none — backoff retries indefinitely,
// cooperative shutdown is the only exit besides ctx cancellation).
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.frames)
	defer close(s.gestures)

	nextMetrics := time.Now().Add(s.cfg.MetricsInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fr, err := s.dev.PollFrame(s.cfg.PollTimeMs)
		if err != nil {
			if recoverErr := s.handleFault(ctx, err); recoverErr != nil {
				return recoverErr
			}
		} else if fr != nil {
			s.emitFrame(ctx, *fr)
		}

		if now := time.Now(); now.After(nextMetrics) {
			s.emitMetrics(now)
			nextMetrics = now.Add(s.cfg.MetricsInterval)
		}
	}
}

func (s *Supervisor) emitFrame(ctx context.Context, fr bno08x.Frame) {
	s.totalPoseFrames++
	s.poseFramesInWindow++

	select {
	case s.frames <- fr:
	case <-ctx.Done():
		return
	}

	sensorAccel := gesture.Vec3{X: fr.Ax, Y: fr.Ay, Z: fr.Az}
	q := gesture.Quat{W: fr.Qw, X: fr.Qi, Y: fr.Qj, Z: fr.Qk}
	if r, ok := s.det.PushSensor(fr.T, sensorAccel, q); ok {
		select {
		case s.gestures <- r:
		case <-ctx.Done():
		}
	}
}

// handleFault classifies err and applies the fault-recovery strategy table.
// Returns non-nil only when recovery itself cannot proceed (ctx cancelled
// mid-backoff).
func (s *Supervisor) handleFault(ctx context.Context, err error) error {
	var f *bno08x.Fault
	if !errors.As(err, &f) {
		s.log.Error("supervisor: unclassified error", "err", err)
		return s.reinit(ctx)
	}
	s.lastErrorText = f.Error()

	switch f.Kind {
	case bno08x.KindTimeout:
		s.totalDrops++
		s.dropsInWindow++
		return nil

	case bno08x.KindSensorReset:
		if rerr := s.dev.HandleReset(); rerr != nil {
			s.log.Error("supervisor: handle_reset failed after SensorReset, escalating", "err", rerr)
			return s.reinit(ctx)
		}
		return nil

	case bno08x.KindComm:
		if rerr := s.dev.HandleReset(); rerr != nil {
			s.log.Error("supervisor: handle_reset failed after Comm fault, escalating", "err", rerr)
			return s.reinit(ctx)
		}
		return nil

	default:
		// Bus, ProductId, Protocol, OversizeFrame, InvalidHeader: the framer
		// or codec reported a hard violation, or the bus itself faulted —
		// none of these are safe to paper over with a soft reset.
		return s.reinit(ctx)
	}
}

// reinit performs a full re-init with exponential backoff 100ms -> 2s cap,
// retried until it succeeds or ctx is cancelled.
func (s *Supervisor) reinit(ctx context.Context) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	for {
		dev, err := bno08x.NewI2C(s.bus, s.addr, &s.cfg.DevOpts)
		if err == nil {
			dev.Logger(s.log)
			s.dev = dev
			s.log.Info("supervisor: re-init succeeded")
			return nil
		}
		s.log.Warn("supervisor: re-init attempt failed", "err", err)

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = 2 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Supervisor) emitMetrics(now time.Time) {
	elapsed := now.Sub(s.windowStart).Seconds()
	effectiveHz := 0.0
	if elapsed > 0 {
		effectiveHz = float64(s.poseFramesInWindow) / elapsed
	}
	total := s.poseFramesInWindow + s.dropsInWindow
	dropPct := 0.0
	if total > 0 {
		dropPct = 100 * float64(s.dropsInWindow) / float64(total)
	}

	m := Metrics{
		TotalPoseFrames:    s.totalPoseFrames,
		PoseFramesInWindow: s.poseFramesInWindow,
		EffectiveHz:        effectiveHz,
		DropPercent:        dropPct,
		TotalDrops:         s.totalDrops,
		LastError:          s.lastErrorText,
	}
	s.log.Info("supervisor: metrics",
		"total_pose_frames", m.TotalPoseFrames,
		"pose_frames_in_window", m.PoseFramesInWindow,
		"effective_hz", m.EffectiveHz,
		"drop_percent", m.DropPercent,
		"total_drops", m.TotalDrops,
		"last_error", m.LastError,
	)

	s.poseFramesInWindow = 0
	s.dropsInWindow = 0
	s.windowStart = now
}
