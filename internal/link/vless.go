package link

import (
	"strings"

	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/validate"
)

const stageVLESS = "parse_vless"

// parseVLESS handles <uuid>@<address>:<port>?<params>#<name>.
func parseVLESS(s string) (model.Descriptor, error) {
	rest := strings.TrimPrefix(s, prefixVLESS)

	withoutFrag, frag, _ := strings.Cut(rest, "#")
	name, err := decodeFragment(stageVLESS, frag, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	withoutQuery, query, _ := strings.Cut(withoutFrag, "?")
	params, err := parseQuery(stageVLESS, query, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	id, hostPort, hasAt := strings.Cut(withoutQuery, "@")
	if !hasAt || hostPort == "" {
		return model.Descriptor{}, newParseError(stageVLESS, model.CodeParseError,
			"missing '@' between identifier and endpoint", "endpoint", s, "", nil)
	}

	address, port, err := splitEndpoint(stageVLESS, hostPort, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	if !validate.UUID(id) {
		return model.Descriptor{}, newParseError(stageVLESS, model.CodeInvalidIdentifier,
			"identifier is not a UUID (8-4-4-4-12 hex)", "identifier", s, "", nil)
	}

	return model.Descriptor{
		Scheme:      model.SchemeVLESS,
		Address:     address,
		Port:        port,
		Identifier:  id,
		Transport:   params,
		DisplayName: name,
	}, nil
}
