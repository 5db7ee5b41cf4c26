// Package config loads the tool's YAML settings file. Everything has a
// working default so the file is optional.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v2rayroot/v2root-go/internal/engine"
	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/probe"
)

type Config struct {
	HTTPPort  int    `yaml:"http_port"`
	SOCKSPort int    `yaml:"socks_port"`
	Engine    string `yaml:"engine_binary"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	Probe ProbeConfig `yaml:"probe"`
}

type ProbeConfig struct {
	TCPTimeoutMs  int      `yaml:"tcp_timeout_ms"`
	TTFBTimeoutMs int      `yaml:"ttfb_timeout_ms"`
	Attempts      int      `yaml:"attempts"`
	Endpoints     []string `yaml:"endpoints"`
}

// LoadError reports a settings file that exists but cannot be used.
type LoadError struct {
	AppError model.AppError
	Cause    error
}

func (e *LoadError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func (e *LoadError) BoundaryCode() int { return model.CodeInvalidInput }

func Default() Config {
	return Config{
		HTTPPort:  engine.DefaultHTTPPort,
		SOCKSPort: engine.DefaultSOCKSPort,
		Engine:    "v2ray",
		LogFile:   "v2root.log",
		LogLevel:  "info",
		Probe: ProbeConfig{
			TCPTimeoutMs:  int(probe.DefaultTCPTimeout / time.Millisecond),
			TTFBTimeoutMs: int(probe.DefaultTTFBTimeout / time.Millisecond),
			Attempts:      1,
			Endpoints:     probe.DefaultEndpoints,
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error;
// unknown keys and out-of-range values are.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, &LoadError{
			AppError: model.AppError{Code: "CONFIG_READ_ERROR", Message: "settings file could not be read", Stage: "load_config", Field: path},
			Cause:    err,
		}
	}
	if err := decodeStrict(string(data), &cfg); err != nil {
		return Default(), &LoadError{
			AppError: model.AppError{Code: "CONFIG_PARSE_ERROR", Message: "settings file is not valid YAML", Stage: "load_config", Field: path},
			Cause:    err,
		}
	}
	if err := cfg.validate(); err != nil {
		return Default(), &LoadError{
			AppError: model.AppError{Code: "CONFIG_VALIDATE_ERROR", Message: err.Error(), Stage: "load_config", Field: path},
		}
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if c.SOCKSPort < 1 || c.SOCKSPort > 65535 {
		return fmt.Errorf("socks_port %d out of range", c.SOCKSPort)
	}
	if c.HTTPPort == c.SOCKSPort {
		return errors.New("http_port and socks_port must differ")
	}
	if c.Probe.TCPTimeoutMs < 1 {
		return fmt.Errorf("probe.tcp_timeout_ms %d out of range", c.Probe.TCPTimeoutMs)
	}
	if c.Probe.TTFBTimeoutMs < 1 {
		return fmt.Errorf("probe.ttfb_timeout_ms %d out of range", c.Probe.TTFBTimeoutMs)
	}
	if c.Probe.Attempts < 1 || c.Probe.Attempts > probe.MaxAttempts {
		return fmt.Errorf("probe.attempts %d out of range (1..%d)", c.Probe.Attempts, probe.MaxAttempts)
	}
	return nil
}

func decodeStrict(content string, out any) error {
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return err
	}

	// Reject multi-document YAML to keep behavior deterministic.
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
