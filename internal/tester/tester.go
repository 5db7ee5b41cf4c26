// Package tester runs the end-to-end check of a configuration string: parse
// it, write an engine config, launch the engine, probe through it, and tear
// everything down again. The whole sequence is one call so the engine
// process and its temporary config file can never outlive the test.
package tester

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/v2rayroot/v2root-go/internal/engine"
	"github.com/v2rayroot/v2root-go/internal/link"
	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/probe"
	"github.com/v2rayroot/v2root-go/internal/supervisor"
)

// Prober is the probing half of a session, declared here so tests can
// substitute a fake.
type Prober interface {
	Full(ctx context.Context, desc *model.Descriptor, attempts int) model.ProbeResult
}

// Session wires a supervisor and a prober together for repeated tests.
type Session struct {
	Supervisor supervisor.Supervisor
	Prober     Prober

	// ConfigDir is where temporary engine configs are written. Empty means
	// the system temp directory.
	ConfigDir string

	HTTPPort  int
	SOCKSPort int
	Attempts  int

	Log *logrus.Entry
}

// Error wraps anything that went wrong during a test run with the stage it
// happened in.
type Error struct {
	Stage string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("test %s: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) BoundaryCode() int {
	if code := model.BoundaryCode(e.Cause); code != model.CodeGeneral {
		return code
	}
	if e.Stage == "probe" {
		return model.CodeNetwork
	}
	return model.CodeGeneral
}

func (s *Session) logger() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Test runs the full sequence for one configuration string and returns the
// measured time to first byte in milliseconds. The engine is stopped and its
// config file removed before Test returns, whatever the outcome; teardown
// failures are logged but never mask the result.
func (s *Session) Test(ctx context.Context, raw string) (int, error) {
	desc, err := link.Parse(raw)
	if err != nil {
		return 0, &Error{Stage: "parse", Cause: err}
	}

	doc, err := engine.Build(&desc, s.HTTPPort, s.SOCKSPort)
	if err != nil {
		return 0, &Error{Stage: "build_config", Cause: err}
	}

	cfg, err := os.CreateTemp(s.ConfigDir, "engine-*.json")
	if err != nil {
		return 0, &Error{Stage: "write_config", Cause: err}
	}
	cfgPath := cfg.Name()
	defer func() {
		if rmErr := os.Remove(cfgPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger().WithError(rmErr).Warn("temp config not removed")
		}
	}()
	if err := doc.Write(cfg); err != nil {
		cfg.Close()
		return 0, &Error{Stage: "write_config", Cause: err}
	}
	if err := cfg.Close(); err != nil {
		return 0, &Error{Stage: "write_config", Cause: err}
	}

	handle, err := s.Supervisor.Start(ctx, cfgPath)
	if err != nil {
		return 0, &Error{Stage: "start_engine", Cause: err}
	}
	defer func() {
		if stopErr := s.Supervisor.Stop(handle); stopErr != nil {
			s.logger().WithError(stopErr).Warn("engine did not stop cleanly")
		}
	}()

	if !s.Supervisor.IsAlive(handle) {
		return 0, &Error{Stage: "start_engine", Cause: &supervisor.StartError{
			AppError: model.AppError{
				Code:    "ENGINE_EXITED",
				Message: "engine exited before the probe could run",
				Stage:   "start_engine",
			},
		}}
	}

	res := s.Prober.Full(ctx, &desc, s.attempts())
	if !res.Success {
		return 0, &Error{Stage: "probe", Cause: fmt.Errorf("%s: %s", res.ErrorKind, res.ErrorDetail)}
	}

	s.logger().WithFields(logrus.Fields{
		"address": desc.Address,
		"port":    desc.Port,
		"ttfb_ms": res.TTFBMs,
		"score":   res.Score,
	}).Info("configuration tested")
	return res.TTFBMs, nil
}

func (s *Session) attempts() int {
	if s.Attempts < 1 {
		return 1
	}
	if s.Attempts > probe.MaxAttempts {
		return probe.MaxAttempts
	}
	return s.Attempts
}
