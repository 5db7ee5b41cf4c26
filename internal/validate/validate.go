// Package validate holds the syntax checks shared by all three
// configuration-string parsers: addresses, ports, UUIDs and base64 payloads.
package validate

import (
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const maxDomainLength = 253

// Address reports whether s is a syntactically valid IPv4 literal, IPv6
// literal (without brackets) or domain name. Domain names allow alphanumerics
// plus '.', '-' and '_' up to 253 characters.
func Address(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsRune(s, ':') {
		ip := net.ParseIP(s)
		return ip != nil && ip.To4() == nil
	}
	if net.ParseIP(s) != nil {
		return true
	}
	if len(s) > maxDomainLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// Port parses a decimal port string and reports whether it is in [1, 65535].
func Port(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}

// UUID reports whether s is 32 hex digits in the 8-4-4-4-12 grouping.
func UUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < 36; i++ {
		switch i {
		case 8, 13, 18, 23:
			if s[i] != '-' {
				return false
			}
		default:
			c := s[i]
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}

var (
	errBadLength   = errors.New("base64 length is not a multiple of 4")
	errEmptyBase64 = errors.New("empty base64 payload")
)

// Base64Payload strips every character outside the standard and URL-safe
// base64 alphabets, rejects payloads whose remaining length is not a multiple
// of 4, and decodes the rest. The output is never larger than the input.
func Base64Payload(s string) ([]byte, error) {
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			clean = append(clean, c)
		case c == '+' || c == '/' || c == '=' || c == '-' || c == '_':
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return nil, errEmptyBase64
	}
	if len(clean)%4 != 0 {
		return nil, errBadLength
	}
	return decodeBase64(string(clean))
}

func decodeBase64(s string) ([]byte, error) {
	// Subscription sources mix padded/unpadded and standard/URL-safe
	// alphabets; try them in order of likelihood.
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// URLDecode percent-decodes s, mapping '+' to space. Invalid escapes return
// an error instead of being passed through.
func URLDecode(s string) (string, error) {
	return url.QueryUnescape(s)
}

// TrimWhitespace removes leading and trailing spaces, tabs and CR/LF.
func TrimWhitespace(s string) string {
	return strings.Trim(s, " \t\r\n")
}
