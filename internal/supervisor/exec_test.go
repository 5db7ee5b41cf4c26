package supervisor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/v2rayroot/v2root-go/internal/model"
)

func tempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.json")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestStart_MissingConfig(t *testing.T) {
	s := &ExecSupervisor{Binary: "true"}
	_, err := s.Start(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if se.AppError.Code != "CONFIG_MISSING" {
		t.Fatalf("code=%q, want=CONFIG_MISSING", se.AppError.Code)
	}
	if code := model.BoundaryCode(err); code != model.CodeConfigMissing {
		t.Fatalf("boundary code=%d, want=%d", code, model.CodeConfigMissing)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	s := &ExecSupervisor{Binary: "no-such-engine-binary-xyz"}
	_, err := s.Start(context.Background(), tempConfig(t))
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if se.AppError.Code != "ENGINE_NOT_FOUND" {
		t.Fatalf("code=%q, want=ENGINE_NOT_FOUND", se.AppError.Code)
	}
	if code := model.BoundaryCode(err); code != model.CodeFileNotFound {
		t.Fatalf("boundary code=%d, want=%d", code, model.CodeFileNotFound)
	}
}

// "true" exits immediately, so the readiness poll must report a premature
// exit instead of waiting out the deadline.
func TestStart_PrematureExit(t *testing.T) {
	s := &ExecSupervisor{
		Binary:       "true",
		ReadyAddr:    "127.0.0.1:1", // never reachable
		ReadyTimeout: 5 * time.Second,
	}
	_, err := s.Start(context.Background(), tempConfig(t))
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if code := model.BoundaryCode(err); code != model.CodeProcessStart {
		t.Fatalf("boundary code=%d, want=%d", code, model.CodeProcessStart)
	}
}

// "yes" runs until killed; a listener we already hold stands in for the
// engine's inbound so readiness is immediate.
func TestStartStop_Lifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	s := &ExecSupervisor{Binary: "yes", ReadyAddr: ln.Addr().String()}
	h, err := s.Start(context.Background(), tempConfig(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("pid=%d, want>0", h.PID())
	}
	if !s.IsAlive(h) {
		t.Fatalf("engine reported dead right after start")
	}

	if err := s.Stop(h); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsAlive(h) {
		t.Fatalf("engine reported alive after stop")
	}
	// Stopping a dead handle is a no-op, not an error.
	if err := s.Stop(h); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStart_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &ExecSupervisor{Binary: "yes", ReadyAddr: "127.0.0.1:1", ReadyTimeout: 5 * time.Second}
	_, err := s.Start(ctx, tempConfig(t))
	if err == nil {
		t.Fatalf("cancelled start should fail")
	}
	if code := model.BoundaryCode(err); code != model.CodeProcessStart {
		t.Fatalf("boundary code=%d, want=%d", code, model.CodeProcessStart)
	}
}
