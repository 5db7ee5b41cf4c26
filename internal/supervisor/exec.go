package supervisor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/v2rayroot/v2root-go/internal/model"
)

const (
	defaultSettleMin    = 2 * time.Second
	defaultReadyTimeout = 15 * time.Second
	readyPollInterval   = 100 * time.Millisecond
	readyDialTimeout    = 300 * time.Millisecond
	stopWait            = 3 * time.Second
)

// ExecSupervisor runs the engine binary via os/exec. Readiness is detected
// by polling a local listener address; when none is configured it falls back
// to a fixed settle wait, matching the engine's lack of a readiness signal.
type ExecSupervisor struct {
	// Binary is the engine executable, resolved through PATH.
	Binary string

	// ReadyAddr is the local listener to poll after launch, e.g.
	// "127.0.0.1:2300". Empty means "sleep SettleMin and hope".
	ReadyAddr string

	SettleMin    time.Duration // fixed fallback wait; default 2s
	ReadyTimeout time.Duration // give-up deadline for readiness; default 15s

	Log *logrus.Entry
}

func (s *ExecSupervisor) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Start launches the engine against configPath and waits until it looks
// ready. A process that exits during the wait is reported as a start
// failure, not left for the probe to discover.
func (s *ExecSupervisor) Start(ctx context.Context, configPath string) (*Handle, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, newStartError(model.CodeConfigMissing, "CONFIG_MISSING",
			fmt.Sprintf("engine config %s is not readable", configPath), err)
	}
	bin, err := exec.LookPath(s.Binary)
	if err != nil {
		return nil, newStartError(model.CodeFileNotFound, "ENGINE_NOT_FOUND",
			fmt.Sprintf("engine binary %q not found in PATH", s.Binary), err)
	}

	// Deliberately not CommandContext: the handle's lifetime is owned by
	// Stop, not by the caller's context.
	cmd := exec.Command(bin, "run", "-c", configPath)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, newStartError(model.CodeProcessStart, "PROCESS_START", "engine process failed to launch", err)
	}

	h := &Handle{pid: cmd.Process.Pid, cmd: cmd, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	if err := s.awaitReady(ctx, h); err != nil {
		_ = s.Stop(h)
		return nil, err
	}

	s.log().WithFields(logrus.Fields{"pid": h.pid, "config": configPath}).
		Info("engine started")
	return h, nil
}

func (s *ExecSupervisor) awaitReady(ctx context.Context, h *Handle) error {
	settle := s.SettleMin
	if settle <= 0 {
		settle = defaultSettleMin
	}

	if s.ReadyAddr == "" {
		select {
		case <-h.done:
			return newStartError(model.CodeProcessStart, "PROCESS_START", "engine exited during settle wait", h.waitErr)
		case <-ctx.Done():
			return newStartError(model.CodeProcessStart, "PROCESS_START", "start cancelled", ctx.Err())
		case <-time.After(settle):
			return nil
		}
	}

	timeout := s.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		if tcpReachable(s.ReadyAddr) {
			return nil
		}
		select {
		case <-h.done:
			return newStartError(model.CodeProcessStart, "PROCESS_START", "engine exited before its listener came up", h.waitErr)
		case <-ctx.Done():
			return newStartError(model.CodeProcessStart, "PROCESS_START", "start cancelled", ctx.Err())
		case <-time.After(readyPollInterval):
		}
		if time.Now().After(deadline) {
			return newStartError(model.CodeProcessStart, "PROCESS_START",
				fmt.Sprintf("engine listener %s not ready within %s", s.ReadyAddr, timeout), nil)
		}
	}
}

// Stop terminates the process and reaps it. Stopping an already-dead handle
// is not an error.
func (s *ExecSupervisor) Stop(h *Handle) error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return err
	}
	select {
	case <-h.done:
	case <-time.After(stopWait):
		s.log().WithField("pid", h.pid).Warn("engine did not exit after kill")
	}
	s.log().WithField("pid", h.pid).Info("engine stopped")
	return nil
}

func (s *ExecSupervisor) IsAlive(h *Handle) bool {
	if h == nil || h.cmd == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func tcpReachable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, readyDialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
