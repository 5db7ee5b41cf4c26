package model

import "errors"

// Integer codes returned across the language boundary. Callers switch on sign
// and magnitude, never on message text. 0 is success; every error class has a
// fixed negative value.
const (
	CodeOK            = 0
	CodeGeneral       = -1
	CodeInvalidInput  = -2
	CodeFileNotFound  = -3
	CodeConfigMissing = -4
	CodeProcessStart  = -5
	CodeNetwork       = -6
	CodeProxyToggle   = -7
)

// Coder is implemented by error types that map onto the boundary code table.
type Coder interface {
	BoundaryCode() int
}

// BoundaryCode converts an error into its integer boundary code. nil maps to
// CodeOK; errors that do not declare a code map to CodeGeneral.
func BoundaryCode(err error) int {
	if err == nil {
		return CodeOK
	}
	var c Coder
	if errors.As(err, &c) {
		return c.BoundaryCode()
	}
	return CodeGeneral
}

// Explain returns a short human-readable description for a boundary code.
func Explain(code int) string {
	switch code {
	case CodeOK:
		return "success"
	case CodeGeneral:
		return "general failure; check the log file for details"
	case CodeInvalidInput:
		return "invalid input: the configuration string or argument is malformed"
	case CodeFileNotFound:
		return "a required file (engine binary or library) was not found"
	case CodeConfigMissing:
		return "the engine configuration file is missing; parse a configuration string first"
	case CodeProcessStart:
		return "the engine process failed to launch or exited immediately"
	case CodeNetwork:
		return "network failure: the endpoint is unreachable or the probe timed out"
	case CodeProxyToggle:
		return "system proxy settings could not be changed"
	default:
		return "unknown error code"
	}
}
