package model

// ErrorKind classifies why a probe failed. Exactly one kind is set per
// ProbeResult; the first detected failure wins.
type ErrorKind string

const (
	ProbeErrNone            ErrorKind = "none"
	ProbeErrDNS             ErrorKind = "dns_failure"
	ProbeErrTCP             ErrorKind = "tcp_timeout"
	ProbeErrTLS             ErrorKind = "tls_error"
	ProbeErrTransport       ErrorKind = "transport_error"
	ProbeErrAuth            ErrorKind = "auth_error"
	ProbeErrUpstreamBlocked ErrorKind = "upstream_blocked"
	ProbeErrTimeout         ErrorKind = "timeout"
	ProbeErrUnknown         ErrorKind = "unknown"
)

// ProbeResult is the outcome of one probe attempt. All timings are wall-clock
// milliseconds; a reached phase records at least 1ms so that a zero value
// always means "phase not reached". The struct is never mutated after being
// returned; callers wanting aggregate statistics accumulate results themselves.
type ProbeResult struct {
	Success bool `json:"success"`

	DNSMs        int `json:"dns_ms,omitempty"`
	TCPConnectMs int `json:"tcp_connect_ms,omitempty"`
	TLSMs        int `json:"tls_handshake_ms,omitempty"`
	TransportMs  int `json:"transport_handshake_ms,omitempty"`
	ProxySetupMs int `json:"proxy_setup_ms,omitempty"`
	AppConnectMs int `json:"app_connect_ms,omitempty"`
	TTFBMs       int `json:"ttfb_ms,omitempty"`
	TotalMs      int `json:"total_ms,omitempty"`

	Attempts int     `json:"attempts"`
	Score    float64 `json:"score"`

	ErrorKind   ErrorKind `json:"error_type"`
	ErrorDetail string    `json:"error_details,omitempty"`
}
