// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// imugesture streams pose-frames and classified gestures from a BNO08x IMU
// on an I²C bus. It is a thin collaborator around the supervisor, gesture
// and devices/bno08x packages, analogous to cmd/bmp180: wiring, not policy.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"github.com/ignacy7312/gestures-recognition/devices/bno08x"
	"github.com/ignacy7312/gestures-recognition/gesture"
	"github.com/ignacy7312/gestures-recognition/supervisor"
)

func mainImpl() int {
	i2cID := flag.String("bus", "", "I²C bus to use")
	addr := flag.Int("addr", 0x4A, "7-bit I²C address")
	hz := flag.Int("hz", 100, "sensor report rate, 1..400")
	timeoutMs := flag.Int("timeout_ms", 500, "poll_frame timeout in milliseconds")
	header := flag.Bool("header", true, "emit a CSV header row")
	out := flag.String("out", "", "output path for the pose-frame CSV (default stdout)")
	logLevel := flag.String("log_level", "info", "error|warn|info|debug")
	durationS := flag.Int("duration_s", 0, "0 = run until interrupted")
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Error("imugesture: open output", "err", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	if _, err := host.Init(); err != nil {
		log.Error("imugesture: host init", "err", err)
		return 1
	}
	bus, err := i2creg.Open(*i2cID)
	if err != nil {
		log.Error("imugesture: open bus", "err", err)
		return 1
	}
	defer bus.Close()

	cfg := supervisor.Config{
		DevOpts:    bno08x.Opts{Hz: *hz, TimeoutMs: *timeoutMs},
		Gesture:    gesture.DefaultConfig,
		PollTimeMs: *timeoutMs,
		Logger:     log,
	}
	cfg.Gesture.BaselineWindow = time.Second
	cfg.Gesture.HalfWindow = 150 * time.Millisecond
	cfg.Gesture.MinDynThreshold = 0.2
	cfg.Gesture.MinPeakMagnitude = 2.0
	cfg.Gesture.MinGestureInterval = time.Second

	sup, err := supervisor.New(bus, uint16(*addr), cfg)
	if err != nil {
		log.Error("imugesture: bootstrap", "err", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *durationS > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*durationS)*time.Second)
		defer cancel()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	if *header {
		fmt.Fprintln(bw, "t,ax,ay,az,gx,gy,gz,qw,qi,qj,qk")
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	for {
		select {
		case fr, ok := <-sup.Frames():
			if !ok {
				<-done
				return 0
			}
			fmt.Fprintf(bw, "%.6f,%g,%g,%g,%g,%g,%g,%g,%g,%g,%g\n",
				fr.T.Seconds(), fr.Ax, fr.Ay, fr.Az, fr.Gx, fr.Gy, fr.Gz, fr.Qw, fr.Qi, fr.Qj, fr.Qk)
		case r, ok := <-sup.Gestures():
			if !ok {
				continue
			}
			fmt.Fprintf(os.Stderr, "gesture t_center=%.3f label=%s axis=%s sign=%v dv=(%g,%g,%g) duration=%.3f\n",
				r.TCenter.Seconds(), r.Label, r.Axis, r.Positive, r.DeltaV.X, r.DeltaV.Y, r.DeltaV.Z, r.Duration.Seconds())
		case <-ctx.Done():
			bw.Flush()
			<-done
			return 0
		}
	}
}

func main() {
	os.Exit(mainImpl())
}
