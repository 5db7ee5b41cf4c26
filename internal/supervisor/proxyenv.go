package supervisor

import (
	"fmt"
	"os"

	"github.com/v2rayroot/v2root-go/internal/model"
)

// The variables every proxy-aware tool on Linux honors, in both casings.
var proxyEnvVars = []string{
	"http_proxy", "HTTP_PROXY",
	"https_proxy", "HTTPS_PROXY",
	"socks_proxy", "SOCKS_PROXY",
}

// EnvProxyToggle points the process environment's proxy variables at the
// engine's local listeners. It affects this process and its children only;
// desktop-wide settings are a platform concern outside this module.
type EnvProxyToggle struct{}

func (EnvProxyToggle) Enable(httpPort, socksPort int) error {
	if httpPort < 1 || httpPort > 65535 || socksPort < 1 || socksPort > 65535 {
		return &ToggleError{AppError: model.AppError{
			Code:    "PROXY_TOGGLE",
			Message: fmt.Sprintf("invalid local ports %d/%d", httpPort, socksPort),
			Stage:   "enable_proxy",
		}}
	}
	httpURL := fmt.Sprintf("http://127.0.0.1:%d", httpPort)
	socksURL := fmt.Sprintf("socks5://127.0.0.1:%d", socksPort)
	values := map[string]string{
		"http_proxy": httpURL, "HTTP_PROXY": httpURL,
		"https_proxy": httpURL, "HTTPS_PROXY": httpURL,
		"socks_proxy": socksURL, "SOCKS_PROXY": socksURL,
	}
	for k, v := range values {
		if err := os.Setenv(k, v); err != nil {
			return &ToggleError{
				AppError: model.AppError{Code: "PROXY_TOGGLE", Message: "setenv failed", Stage: "enable_proxy", Field: k},
				Cause:    err,
			}
		}
	}
	return nil
}

func (EnvProxyToggle) Disable() error {
	for _, k := range proxyEnvVars {
		if err := os.Unsetenv(k); err != nil {
			return &ToggleError{
				AppError: model.AppError{Code: "PROXY_TOGGLE", Message: "unsetenv failed", Stage: "disable_proxy", Field: k},
				Cause:    err,
			}
		}
	}
	return nil
}
