// Package supervisor owns the external engine process lifecycle and the
// host-level proxy toggle. The rest of the module only sees the two
// interfaces; platform details stay behind implementations here.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/v2rayroot/v2root-go/internal/model"
)

// Handle is an opaque reference to a running engine process. Callers pass it
// back to Stop and must not reuse it afterwards.
type Handle struct {
	pid     int
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error // valid only after done is closed
}

// PID returns the operating-system process id, or 0 for a fake handle.
func (h *Handle) PID() int {
	if h == nil {
		return 0
	}
	return h.pid
}

// Supervisor starts and stops engine processes.
type Supervisor interface {
	Start(ctx context.Context, configPath string) (*Handle, error)
	Stop(h *Handle) error
	IsAlive(h *Handle) bool
}

// ProxyToggle flips host-level proxy settings to the engine's local ports.
type ProxyToggle interface {
	Enable(httpPort, socksPort int) error
	Disable() error
}

// StartError reports that the engine failed to launch or exited immediately.
type StartError struct {
	AppError model.AppError
	Cause    error

	code int
}

func (e *StartError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *StartError) Unwrap() error { return e.Cause }

func (e *StartError) BoundaryCode() int {
	if e.code != 0 {
		return e.code
	}
	return model.CodeProcessStart
}

func newStartError(code int, appCode, message string, cause error) *StartError {
	return &StartError{
		AppError: model.AppError{Code: appCode, Message: message, Stage: "start_engine"},
		Cause:    cause,
		code:     code,
	}
}

// ToggleError reports that system proxy settings could not be changed.
type ToggleError struct {
	AppError model.AppError
	Cause    error
}

func (e *ToggleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ToggleError) Unwrap() error { return e.Cause }

func (e *ToggleError) BoundaryCode() int { return model.CodeProxyToggle }
