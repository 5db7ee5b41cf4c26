package link

import (
	"strings"
	"unicode/utf8"

	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/validate"
)

const stageShadowsocks = "parse_ss"

// parseShadowsocks handles <user-info>@<address>:<port>?<params>#<name>,
// where user-info is either base64(method:password) (SIP002) or a plain
// method:password pair.
func parseShadowsocks(s string) (model.Descriptor, error) {
	rest := strings.TrimPrefix(s, prefixShadowsocks)

	withoutFrag, frag, _ := strings.Cut(rest, "#")
	name, err := decodeFragment(stageShadowsocks, frag, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	withoutQuery, query, _ := strings.Cut(withoutFrag, "?")
	params, err := parseQuery(stageShadowsocks, query, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	// A single trailing "/" before the query is produced by some exporters.
	withoutQuery = strings.TrimSuffix(withoutQuery, "/")

	userInfo, hostPort, hasAt := strings.Cut(withoutQuery, "@")
	if !hasAt || userInfo == "" || hostPort == "" {
		return model.Descriptor{}, newParseError(stageShadowsocks, model.CodeParseError,
			"missing '@' between credentials and endpoint", "endpoint", s, "", nil)
	}

	address, port, err := splitEndpoint(stageShadowsocks, hostPort, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	method, password, err := parseCredential(userInfo, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	transport := params
	if method != "" {
		if transport == nil {
			transport = make(map[string]string, 1)
		}
		transport["method"] = method
	}

	return model.Descriptor{
		Scheme:      model.SchemeShadowsocks,
		Address:     address,
		Port:        port,
		Identifier:  password,
		Transport:   transport,
		DisplayName: name,
	}, nil
}

// parseCredential decodes user-info into (method, password). Base64 form is
// tried first; a plain "method:password" or bare password is accepted as-is.
func parseCredential(userInfo, fullLine string) (string, string, error) {
	cred := userInfo
	if decoded, err := validate.Base64Payload(userInfo); err == nil && utf8.Valid(decoded) {
		if c := string(decoded); strings.Contains(c, ":") {
			cred = c
		}
	} else if escaped, uerr := validate.URLDecode(userInfo); uerr == nil {
		cred = escaped
	}

	method, password, hasColon := strings.Cut(cred, ":")
	if !hasColon {
		// Bare password; the cipher comes from a query parameter or the
		// engine's default.
		password = cred
		method = ""
	}
	method = validate.TrimWhitespace(method)
	password = validate.TrimWhitespace(password)
	if password == "" {
		return "", "", newParseError(stageShadowsocks, model.CodeInvalidIdentifier,
			"password must not be empty", "identifier", fullLine, "", nil)
	}
	if strings.ContainsAny(method, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return "", "", newParseError(stageShadowsocks, model.CodeInvalidIdentifier,
			"credentials contain control characters", "identifier", fullLine, "", nil)
	}
	return method, password, nil
}
