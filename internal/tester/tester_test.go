package tester

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/supervisor"
)

const validLink = "vless://123e4567-e89b-12d3-a456-426614174000@192.0.2.1:443?security=tls#T"

type fakeSupervisor struct {
	startErr   error
	alive      bool
	starts     int
	stops      int
	configPath string
}

func (f *fakeSupervisor) Start(ctx context.Context, configPath string) (*supervisor.Handle, error) {
	f.starts++
	f.configPath = configPath
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &supervisor.Handle{}, nil
}

func (f *fakeSupervisor) Stop(h *supervisor.Handle) error {
	f.stops++
	return nil
}

func (f *fakeSupervisor) IsAlive(h *supervisor.Handle) bool { return f.alive }

type fakeProber struct {
	result model.ProbeResult
	calls  int
}

func (f *fakeProber) Full(ctx context.Context, desc *model.Descriptor, attempts int) model.ProbeResult {
	f.calls++
	return f.result
}

func newSession(t *testing.T, sup *fakeSupervisor, prober *fakeProber) *Session {
	t.Helper()
	return &Session{
		Supervisor: sup,
		Prober:     prober,
		ConfigDir:  t.TempDir(),
		HTTPPort:   2300,
		SOCKSPort:  2301,
		Attempts:   1,
	}
}

func TestTest_Success(t *testing.T) {
	sup := &fakeSupervisor{alive: true}
	prober := &fakeProber{result: model.ProbeResult{Success: true, TTFBMs: 87, Score: 0.8}}
	s := newSession(t, sup, prober)

	ttfb, err := s.Test(context.Background(), validLink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttfb != 87 {
		t.Fatalf("ttfb=%d, want=87", ttfb)
	}
	if sup.starts != 1 || sup.stops != 1 {
		t.Fatalf("starts/stops=%d/%d, want exactly one each", sup.starts, sup.stops)
	}
	if prober.calls != 1 {
		t.Fatalf("probe calls=%d, want=1", prober.calls)
	}
}

func TestTest_TempConfigRemoved(t *testing.T) {
	sup := &fakeSupervisor{alive: true}
	s := newSession(t, sup, &fakeProber{result: model.ProbeResult{Success: true, TTFBMs: 1}})

	if _, err := s.Test(context.Background(), validLink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sup.configPath == "" {
		t.Fatalf("supervisor never saw a config path")
	}
	if _, err := os.Stat(sup.configPath); !os.IsNotExist(err) {
		t.Fatalf("temp config %s still exists (stat err=%v)", sup.configPath, err)
	}
}

func TestTest_ParseFailureSkipsEngine(t *testing.T) {
	sup := &fakeSupervisor{alive: true}
	s := newSession(t, sup, &fakeProber{})

	_, err := s.Test(context.Background(), "nonsense")
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if te.Stage != "parse" {
		t.Fatalf("stage=%q, want=parse", te.Stage)
	}
	if sup.starts != 0 || sup.stops != 0 {
		t.Fatalf("engine touched on a parse failure: starts=%d stops=%d", sup.starts, sup.stops)
	}
	if code := model.BoundaryCode(err); code != model.CodeInvalidInput {
		t.Fatalf("code=%d, want=%d", code, model.CodeInvalidInput)
	}
}

func TestTest_StartFailure(t *testing.T) {
	sup := &fakeSupervisor{startErr: errors.New("spawn failed")}
	s := newSession(t, sup, &fakeProber{})

	_, err := s.Test(context.Background(), validLink)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if te.Stage != "start_engine" {
		t.Fatalf("stage=%q, want=start_engine", te.Stage)
	}
	if sup.stops != 0 {
		t.Fatalf("stops=%d, nothing to stop after a failed start", sup.stops)
	}
}

func TestTest_PrematureExit(t *testing.T) {
	sup := &fakeSupervisor{alive: false}
	prober := &fakeProber{}
	s := newSession(t, sup, prober)

	_, err := s.Test(context.Background(), validLink)
	if err == nil {
		t.Fatalf("dead engine should fail the test")
	}
	if prober.calls != 0 {
		t.Fatalf("probe ran against a dead engine")
	}
	if sup.stops != 1 {
		t.Fatalf("stops=%d, teardown must still run exactly once", sup.stops)
	}
	if code := model.BoundaryCode(err); code != model.CodeProcessStart {
		t.Fatalf("code=%d, want=%d", code, model.CodeProcessStart)
	}
}

func TestTest_ProbeFailureStillStopsOnce(t *testing.T) {
	sup := &fakeSupervisor{alive: true}
	prober := &fakeProber{result: model.ProbeResult{
		Success: false, ErrorKind: model.ProbeErrTimeout, ErrorDetail: "deadline exceeded",
	}}
	s := newSession(t, sup, prober)

	_, err := s.Test(context.Background(), validLink)
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if te.Stage != "probe" {
		t.Fatalf("stage=%q, want=probe", te.Stage)
	}
	if sup.stops != 1 {
		t.Fatalf("stops=%d, want exactly one", sup.stops)
	}
	if code := model.BoundaryCode(err); code != model.CodeNetwork {
		t.Fatalf("code=%d, want=%d", code, model.CodeNetwork)
	}
}
