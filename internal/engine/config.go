// Package engine builds, serializes and re-reads the external proxy engine's
// configuration document. The JSON schema is the engine's stable contract;
// field names here must not change independently of the engine.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/v2rayroot/v2root-go/internal/model"
)

// Local listener defaults used when the caller passes a non-positive port.
const (
	DefaultHTTPPort  = 2300
	DefaultSOCKSPort = 2301
)

type Document struct {
	Log       Log        `json:"log"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
}

type Log struct {
	Loglevel string `json:"loglevel"`
}

type Inbound struct {
	Tag      string           `json:"tag"`
	Port     int              `json:"port"`
	Listen   string           `json:"listen"`
	Protocol string           `json:"protocol"`
	Settings *InboundSettings `json:"settings,omitempty"`
}

type InboundSettings struct {
	UDP bool `json:"udp,omitempty"`
}

type Outbound struct {
	Tag      string           `json:"tag"`
	Protocol string           `json:"protocol"`
	Settings OutboundSettings `json:"settings"`
	Stream   *StreamSettings  `json:"streamSettings,omitempty"`
}

type OutboundSettings struct {
	Vnext   []Vnext  `json:"vnext,omitempty"`
	Servers []Server `json:"servers,omitempty"`
}

type Vnext struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Users   []User `json:"users"`
}

type User struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption,omitempty"`
	Flow       string `json:"flow,omitempty"`
	AlterID    int    `json:"alterId"`
	Security   string `json:"security,omitempty"`
}

type Server struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Method   string `json:"method"`
	Password string `json:"password"`
}

type StreamSettings struct {
	Network  string        `json:"network,omitempty"`
	Security string        `json:"security,omitempty"`
	TLS      *TLSSettings  `json:"tlsSettings,omitempty"`
	WS       *WSSettings   `json:"wsSettings,omitempty"`
	GRPC     *GRPCSettings `json:"grpcSettings,omitempty"`
}

type TLSSettings struct {
	ServerName    string `json:"serverName,omitempty"`
	AllowInsecure bool   `json:"allowInsecure,omitempty"`
}

type WSSettings struct {
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName,omitempty"`
}

type BuildError struct {
	AppError model.AppError
	Cause    error
}

func (e *BuildError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

func (e *BuildError) BoundaryCode() int { return model.CodeInvalidInput }

// Build assembles the engine document for one descriptor: two local inbound
// listeners (HTTP, SOCKS) and one outbound toward the descriptor's endpoint.
func Build(desc *model.Descriptor, httpPort, socksPort int) (*Document, error) {
	if desc == nil {
		return nil, &BuildError{AppError: model.AppError{
			Code: model.CodeParseError, Message: "descriptor must not be nil", Stage: "build_config",
		}}
	}
	if desc.Address == "" || desc.Port < 1 || desc.Port > 65535 {
		return nil, &BuildError{AppError: model.AppError{
			Code:    model.CodeInvalidAddress,
			Message: "descriptor endpoint is incomplete",
			Stage:   "build_config",
			Field:   "address",
		}}
	}
	if httpPort <= 0 {
		httpPort = DefaultHTTPPort
	}
	if socksPort <= 0 {
		socksPort = DefaultSOCKSPort
	}

	outbound, err := buildOutbound(desc)
	if err != nil {
		return nil, err
	}

	return &Document{
		Log: Log{Loglevel: "warning"},
		Inbounds: []Inbound{
			{Tag: "http-in", Port: httpPort, Listen: "127.0.0.1", Protocol: "http"},
			{Tag: "socks-in", Port: socksPort, Listen: "127.0.0.1", Protocol: "socks",
				Settings: &InboundSettings{UDP: true}},
		},
		Outbounds: []Outbound{*outbound},
	}, nil
}

func buildOutbound(desc *model.Descriptor) (*Outbound, error) {
	switch desc.Scheme {
	case model.SchemeVLESS:
		encryption := desc.Param("encryption")
		if encryption == "" {
			encryption = "none"
		}
		return &Outbound{
			Tag:      "proxy",
			Protocol: "vless",
			Settings: OutboundSettings{Vnext: []Vnext{{
				Address: desc.Address,
				Port:    desc.Port,
				Users: []User{{
					ID:         desc.Identifier,
					Encryption: encryption,
					Flow:       desc.Param("flow"),
				}},
			}}},
			Stream: buildStream(desc),
		}, nil
	case model.SchemeVMess:
		alterID := 0
		if aid := desc.Param("aid"); aid != "" {
			n, err := strconv.Atoi(aid)
			if err != nil || n < 0 {
				return nil, &BuildError{AppError: model.AppError{
					Code:    model.CodeParseError,
					Message: fmt.Sprintf("alterId %q is not a non-negative integer", aid),
					Stage:   "build_config",
					Field:   "aid",
				}}
			}
			alterID = n
		}
		security := desc.Param("scy")
		if security == "" {
			security = "auto"
		}
		return &Outbound{
			Tag:      "proxy",
			Protocol: "vmess",
			Settings: OutboundSettings{Vnext: []Vnext{{
				Address: desc.Address,
				Port:    desc.Port,
				Users: []User{{
					ID:       desc.Identifier,
					AlterID:  alterID,
					Security: security,
				}},
			}}},
			Stream: buildStream(desc),
		}, nil
	case model.SchemeShadowsocks:
		method := desc.Param("method")
		if method == "" {
			method = "aes-256-gcm"
		}
		return &Outbound{
			Tag:      "proxy",
			Protocol: "shadowsocks",
			Settings: OutboundSettings{Servers: []Server{{
				Address:  desc.Address,
				Port:     desc.Port,
				Method:   method,
				Password: desc.Identifier,
			}}},
		}, nil
	default:
		return nil, &BuildError{AppError: model.AppError{
			Code:    model.CodeUnknownProtocol,
			Message: fmt.Sprintf("no outbound mapping for scheme %q", desc.Scheme),
			Stage:   "build_config",
		}}
	}
}

// buildStream maps the descriptor's transport parameters onto streamSettings.
// vmess payloads use "net"/"tls" while vless queries use "type"/"security";
// both spellings are accepted.
func buildStream(desc *model.Descriptor) *StreamSettings {
	network := desc.Param("type")
	if network == "" {
		network = desc.Param("net")
	}
	if network == "" {
		network = "tcp"
	}

	security := desc.Param("security")
	if security == "" && desc.Param("tls") == "tls" {
		security = "tls"
	}

	stream := &StreamSettings{Network: network}
	if security != "" && security != "none" {
		stream.Security = security
		sni := desc.Param("sni")
		if sni == "" {
			sni = desc.Param("host")
		}
		stream.TLS = &TLSSettings{ServerName: sni}
	}

	switch network {
	case "ws":
		ws := &WSSettings{Path: desc.Param("path")}
		if host := desc.Param("host"); host != "" {
			ws.Headers = map[string]string{"Host": host}
		}
		stream.WS = ws
	case "grpc":
		svc := desc.Param("serviceName")
		if svc == "" {
			svc = desc.Param("path")
		}
		stream.GRPC = &GRPCSettings{ServiceName: svc}
	}
	return stream
}

// Write serializes the document to w. The document is marshalled in full
// before any byte reaches the sink, so a failed build never leaves a partial
// document behind.
func (d *Document) Write(w io.Writer) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return &BuildError{
			AppError: model.AppError{Code: model.CodeParseError, Message: "marshal failed", Stage: "write_config"},
			Cause:    err,
		}
	}
	raw = append(raw, '\n')
	_, err = w.Write(raw)
	return err
}

// WriteFile writes the document to path with 0600; probe configs carry
// credentials.
func (d *Document) WriteFile(path string) error {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	return os.WriteFile(path, raw, 0600)
}

// Load re-reads a serialized document.
func Load(r io.Reader) (*Document, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Endpoint returns the outbound remote address and port. Together with Load
// it gives the lossless round-trip for the fields probing depends on.
func (d *Document) Endpoint() (string, int, error) {
	if len(d.Outbounds) == 0 {
		return "", 0, errors.New("document has no outbounds")
	}
	out := d.Outbounds[0]
	if len(out.Settings.Vnext) > 0 {
		return out.Settings.Vnext[0].Address, out.Settings.Vnext[0].Port, nil
	}
	if len(out.Settings.Servers) > 0 {
		return out.Settings.Servers[0].Address, out.Settings.Servers[0].Port, nil
	}
	return "", 0, errors.New("outbound has no endpoint")
}
