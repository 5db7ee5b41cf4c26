package link

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/validate"
)

const stageVMess = "parse_vmess"

// parseVMess handles vmess://<base64 JSON>. The payload must decode to a JSON
// object with at least an "add" string and a numeric "port"; every other
// field is carried into the transport map.
func parseVMess(s string) (model.Descriptor, error) {
	rest := strings.TrimPrefix(s, prefixVMess)

	// A trailing #fragment is tolerated even though the canonical form has
	// none; some generators append a display name.
	payload, frag, _ := strings.Cut(rest, "#")
	name, err := decodeFragment(stageVMess, frag, s)
	if err != nil {
		return model.Descriptor{}, err
	}

	decoded, err := validate.Base64Payload(payload)
	if err != nil {
		return model.Descriptor{}, newParseError(stageVMess, model.CodeMalformedPayload,
			"payload is not valid base64", "payload", s, "", err)
	}
	if !utf8.Valid(decoded) {
		return model.Descriptor{}, newParseError(stageVMess, model.CodeMalformedPayload,
			"decoded payload is not valid UTF-8 text", "payload", s, "", nil)
	}

	var fields map[string]any
	if err := json.Unmarshal(decoded, &fields); err != nil {
		return model.Descriptor{}, newParseError(stageVMess, model.CodeMalformedPayload,
			"decoded payload is not a JSON object", "payload", s, "", err)
	}

	address := stringField(fields, "add")
	if address == "" || !validate.Address(address) {
		return model.Descriptor{}, newParseError(stageVMess, model.CodeInvalidAddress,
			fmt.Sprintf("address %q is missing or invalid", address), "address", s, "", nil)
	}
	port, ok := validate.Port(stringField(fields, "port"))
	if !ok {
		return model.Descriptor{}, newParseError(stageVMess, model.CodeInvalidPort,
			"port is missing or not in 1..65535", "port", s, "", nil)
	}
	id := stringField(fields, "id")
	if !validate.UUID(id) {
		return model.Descriptor{}, newParseError(stageVMess, model.CodeInvalidIdentifier,
			"id is not a UUID (8-4-4-4-12 hex)", "identifier", s, "", nil)
	}

	transport := make(map[string]string)
	for k, v := range fields {
		switch k {
		case "add", "port", "id", "ps":
			continue
		}
		transport[k] = strings.TrimSpace(fmt.Sprintf("%v", v))
	}
	if len(transport) == 0 {
		transport = nil
	}

	if name == "" {
		name = stringField(fields, "ps")
	}

	return model.Descriptor{
		Scheme:      model.SchemeVMess,
		Address:     address,
		Port:        port,
		Identifier:  id,
		Transport:   transport,
		DisplayName: name,
	}, nil
}

// stringField renders a JSON value as a trimmed string; vmess payloads carry
// ports and alter-ids as either numbers or strings depending on the generator.
func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
