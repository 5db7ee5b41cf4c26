// Package link parses the three supported configuration-string grammars
// (vless://, vmess://, ss://) into a normalized model.Descriptor.
package link

import (
	"fmt"
	"strings"

	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/validate"
)

const (
	prefixVLESS       = "vless://"
	prefixVMess       = "vmess://"
	prefixShadowsocks = "ss://"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func (e *ParseError) BoundaryCode() int { return model.CodeInvalidInput }

// Parse dispatches on the literal scheme prefix. The returned Descriptor is
// complete and validated; on failure no partial Descriptor is returned.
func Parse(raw string) (model.Descriptor, error) {
	s := validate.TrimWhitespace(raw)
	switch {
	case strings.HasPrefix(s, prefixVLESS):
		return parseVLESS(s)
	case strings.HasPrefix(s, prefixVMess):
		return parseVMess(s)
	case strings.HasPrefix(s, prefixShadowsocks):
		return parseShadowsocks(s)
	default:
		return model.Descriptor{}, newParseError("parse", model.CodeUnknownProtocol,
			"unsupported protocol prefix", "scheme", s,
			"expected vless://, vmess:// or ss://", nil)
	}
}

func newParseError(stage, code, message, field, snippet, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
			Field:   field,
			Snippet: truncateSnippet(snippet, 200),
			Hint:    hint,
		},
		Cause: cause,
	}
}

// parseQuery splits a raw query string into URL-decoded key=value pairs.
// Keys without '=' are rejected; unrecognized keys are preserved, not
// validated, so every pair lands in the transport map verbatim.
func parseQuery(stage, query, fullLine string) (map[string]string, error) {
	if query == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, hasEq := strings.Cut(part, "=")
		if !hasEq {
			return nil, newParseError(stage, model.CodeParseError,
				"query parameter is not key=value", "query", fullLine, "", nil)
		}
		k, err := validate.URLDecode(kRaw)
		if err != nil {
			return nil, newParseError(stage, model.CodeParseError,
				"query key percent-decoding failed", "query", fullLine, "", err)
		}
		v, err := validate.URLDecode(vRaw)
		if err != nil {
			return nil, newParseError(stage, model.CodeParseError,
				"query value percent-decoding failed", "query", fullLine, "", err)
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// splitEndpoint validates <address>:<port>, allowing bracketed IPv6 literals.
func splitEndpoint(stage, hostPort, fullLine string) (string, int, error) {
	host, portStr, err := splitHostPortLoose(hostPort)
	if err != nil {
		return "", 0, newParseError(stage, model.CodeInvalidPort,
			"endpoint is missing a port", "port", fullLine, "expected address:port", err)
	}
	port, ok := validate.Port(portStr)
	if !ok {
		return "", 0, newParseError(stage, model.CodeInvalidPort,
			fmt.Sprintf("port %q is not in 1..65535", portStr), "port", fullLine, "", nil)
	}
	if !validate.Address(host) {
		return "", 0, newParseError(stage, model.CodeInvalidAddress,
			fmt.Sprintf("address %q is not a valid IP or domain", host), "address", fullLine, "", nil)
	}
	return host, port, nil
}

// splitHostPortLoose is net.SplitHostPort with tolerance for unbracketed
// IPv4/domain hosts only; IPv6 must be bracketed in the URI form.
func splitHostPortLoose(s string) (string, string, error) {
	if strings.HasPrefix(s, "[") {
		host, port, err := splitBracketed(s)
		return host, port, err
	}
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("missing port in %q", s)
	}
	return s[:idx], s[idx+1:], nil
}

func splitBracketed(s string) (string, string, error) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", "", fmt.Errorf("unterminated ipv6 literal in %q", s)
	}
	host := s[1:end]
	rest := s[end+1:]
	if !strings.HasPrefix(rest, ":") {
		return "", "", fmt.Errorf("missing port in %q", s)
	}
	return host, rest[1:], nil
}

func decodeFragment(stage, frag, fullLine string) (string, error) {
	if frag == "" {
		return "", nil
	}
	name, err := validate.URLDecode(frag)
	if err != nil {
		return "", newParseError(stage, model.CodeParseError,
			"display name percent-decoding failed", "fragment", fullLine, "", err)
	}
	name = validate.TrimWhitespace(name)
	if strings.ContainsAny(name, "\r\n\x00") {
		return "", newParseError(stage, model.CodeParseError,
			"display name contains control characters", "fragment", fullLine, "", nil)
	}
	return name, nil
}

func truncateSnippet(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
