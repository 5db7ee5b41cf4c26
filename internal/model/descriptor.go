package model

// Scheme identifies which configuration-string grammar produced a Descriptor.
type Scheme string

const (
	SchemeVLESS       Scheme = "vless"
	SchemeVMess       Scheme = "vmess"
	SchemeShadowsocks Scheme = "ss"
)

// Descriptor is the normalized form of a parsed configuration string.
// Address and Port are always present and individually valid; a parser must
// fail instead of returning a partially filled Descriptor.
type Descriptor struct {
	Scheme  Scheme `json:"scheme"`
	Address string `json:"address"` // IPv4, IPv6 (no brackets) or domain
	Port    int    `json:"port"`    // 1..65535

	// Identifier is the UUID for vless/vmess and the password for ss.
	Identifier string `json:"identifier"`

	// Transport holds the remaining per-scheme options (security, network
	// type, sni, path, host, method, ...). Unrecognized query keys are kept
	// here verbatim rather than rejected.
	Transport map[string]string `json:"transport,omitempty"`

	// DisplayName comes from the URL fragment (or the vmess "ps" field).
	// It may be empty and carries no semantics.
	DisplayName string `json:"display_name,omitempty"`
}

// Param returns a transport parameter, or "" when unset.
func (d *Descriptor) Param(key string) string {
	if d.Transport == nil {
		return ""
	}
	return d.Transport[key]
}
