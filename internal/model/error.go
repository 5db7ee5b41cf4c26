package model

// AppError is the single structured error payload shared by every package in
// this module. Code is a stable machine-readable tag; Message is for humans.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	Field   string `json:"field,omitempty"`   // offending field (address, port, ...)
	Snippet string `json:"snippet,omitempty"` // <= 200 chars of the offending input
	Hint    string `json:"hint,omitempty"`
}

// Parse error codes shared by the three configuration-string grammars.
const (
	CodeUnknownProtocol   = "UNKNOWN_PROTOCOL"
	CodeInvalidAddress    = "INVALID_ADDRESS"
	CodeInvalidPort       = "INVALID_PORT"
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"
	CodeMalformedPayload  = "MALFORMED_PAYLOAD"
	CodeParseError        = "PARSE_ERROR"
)
